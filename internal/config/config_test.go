// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rezolus.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[general]
listen = "0.0.0.0:4242"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, uint8(4), cfg.Prometheus.HistogramGroupingPower)
}

func TestEnabledFallsBackToDefaults(t *testing.T) {
	path := writeConfig(t, `
[defaults]
enabled = false

[samplers.cpu_usage]
enabled = true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled("cpu_usage"))
	assert.False(t, cfg.Enabled("memory_usage"))
}

func TestEnabledDefaultsToTrueWithNoOverrides(t *testing.T) {
	path := writeConfig(t, ``)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled("anything"))
}

func TestIntervalPerSamplerOverridesDefault(t *testing.T) {
	path := writeConfig(t, `
[defaults]
interval = "1s"

[samplers.cpu_usage]
interval = "10ms"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Interval("cpu_usage", time.Second))
	assert.Equal(t, time.Second, cfg.Interval("memory_usage", 2*time.Second))
}

func TestLoadRejectsTooShortInterval(t *testing.T) {
	path := writeConfig(t, `
[samplers.cpu_usage]
interval = "100us"
`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidHistogramGroupingPower(t *testing.T) {
	path := writeConfig(t, `
[prometheus]
histogram_grouping_power = 1
`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/rezolus.toml")
	assert.Error(t, err)
}
