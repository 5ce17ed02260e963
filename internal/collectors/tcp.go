// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/rezolus-agent/internal/metric"
)

// tcpSNMPFields lists the /proc/net/snmp "Tcp:" row fields this
// collector tracks, matching the tcp_traffic and tcp_retransmit
// samplers' counters.
var tcpSNMPFields = []string{"ActiveOpens", "PassiveOpens", "CurrEstab", "InSegs", "OutSegs", "RetransSegs"}

// TCPTraffic reads TCP protocol counters from /proc/net/snmp. It backs
// the tcp_traffic probe family's proc fallback.
type TCPTraffic struct {
	snmpPath string
	reg      *metric.Registry
	counters map[string]*metric.Counter
}

// NewTCPTraffic constructs the collector and pre-registers one counter
// per tracked SNMP field.
func NewTCPTraffic(procPath string, reg *metric.Registry) (*TCPTraffic, error) {
	t := &TCPTraffic{
		snmpPath: filepath.Join(procPath, "net", "snmp"),
		reg:      reg,
		counters: make(map[string]*metric.Counter, len(tcpSNMPFields)),
	}

	for _, field := range tcpSNMPFields {
		c := metric.NewCounter("tcp/traffic", map[string]string{"field": field})
		if err := reg.RegisterCounter(c); err != nil {
			return nil, fmt.Errorf("collectors: registering tcp/traffic counter for %s: %w", field, err)
		}
		t.counters[field] = c
	}

	return t, nil
}

// Refresh re-reads /proc/net/snmp's "Tcp:" header/value row pair and
// republishes each tracked field.
func (t *TCPTraffic) Refresh() error {
	f, err := os.Open(t.snmpPath)
	if err != nil {
		return fmt.Errorf("collectors: opening %s: %w", t.snmpPath, err)
	}
	defer f.Close()

	var header, values []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "Tcp:" {
			continue
		}
		if header == nil {
			header = fields[1:]
			continue
		}
		values = fields[1:]
		break
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if header == nil || values == nil {
		return fmt.Errorf("collectors: no Tcp: rows found in %s", t.snmpPath)
	}

	for i, name := range header {
		counter, ok := t.counters[name]
		if !ok || i >= len(values) {
			continue
		}
		v, err := strconv.ParseUint(values[i], 10, 64)
		if err != nil {
			continue
		}
		counter.Set(v)
	}

	return nil
}
