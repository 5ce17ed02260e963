// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procutils_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/procutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBootTimeParsesBtimeLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"),
		[]byte("cpu  0 0 0 0 0 0 0 0 0 0\nbtime 1700000000\nprocesses 10\n"), 0o644))

	p := procutils.New(dir)
	boot, err := p.GetBootTime()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), boot)
}

func TestGetBootTimeCaches(t *testing.T) {
	dir := t.TempDir()
	statPath := filepath.Join(dir, "stat")
	require.NoError(t, os.WriteFile(statPath, []byte("btime 100\n"), 0o644))

	p := procutils.New(dir)
	first, err := p.GetBootTime()
	require.NoError(t, err)

	require.NoError(t, os.Remove(statPath))

	second, err := p.GetBootTime()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetBootTimeMissingFile(t *testing.T) {
	p := procutils.New(t.TempDir())
	_, err := p.GetBootTime()
	assert.Error(t, err)
}

func TestGetUserHZFallsBackWithoutAuxv(t *testing.T) {
	p := procutils.New(t.TempDir())
	hz, err := p.GetUserHZ()
	require.NoError(t, err)
	assert.Equal(t, int64(100), hz)
}

func TestGetPageSizeFallsBackWithoutAuxv(t *testing.T) {
	p := procutils.New(t.TempDir())
	size, err := p.GetPageSize()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
}
