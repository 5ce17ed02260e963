// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/collectors"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUptimeRefreshReflectsBootTime(t *testing.T) {
	dir := t.TempDir()
	boot := time.Now().Add(-time.Hour)
	writeProcFile(t, dir, "stat", "btime "+strconv.FormatInt(boot.Unix(), 10)+"\n")

	reg := metric.NewRegistry()
	u, err := collectors.NewUptime(dir, reg)
	require.NoError(t, err)

	require.NoError(t, u.Refresh())

	counter, ok := reg.Counter("system/uptime_seconds")
	require.True(t, ok)
	assert.InDelta(t, 3600, counter.Value(), 5)
}

func TestUptimeRefreshMissingFile(t *testing.T) {
	reg := metric.NewRegistry()
	u, err := collectors.NewUptime(t.TempDir(), reg)
	require.NoError(t, err)

	assert.Error(t, u.Refresh())
}
