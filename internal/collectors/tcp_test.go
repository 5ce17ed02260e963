// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/antimetal/rezolus-agent/internal/collectors"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPTrafficRefreshParsesSNMPRow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "net"), 0o755))
	writeProcFile(t, filepath.Join(dir, "net"), "snmp",
		"Tcp: RtoAlgorithm RtoMin RtoMax MaxConn ActiveOpens PassiveOpens AttemptFails EstabResets CurrEstab InSegs OutSegs RetransSegs\n"+
			"Tcp: 1 200 120000 -1 10 20 0 0 5 1000 900 3\n")

	reg := metric.NewRegistry()
	tcp, err := collectors.NewTCPTraffic(dir, reg)
	require.NoError(t, err)

	require.NoError(t, tcp.Refresh())

	counter, ok := reg.Counter("tcp/traffic{field=RetransSegs}")
	require.True(t, ok)
	assert.Equal(t, uint64(3), counter.Value())
}

func TestTCPTrafficRefreshMissingRows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "net"), 0o755))
	writeProcFile(t, filepath.Join(dir, "net"), "snmp", "Udp: InDatagrams\nUdp: 5\n")

	reg := metric.NewRegistry()
	tcp, err := collectors.NewTCPTraffic(dir, reg)
	require.NoError(t, err)

	assert.Error(t, tcp.Refresh())
}
