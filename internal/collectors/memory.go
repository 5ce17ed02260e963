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

// memoryFields lists the /proc/meminfo keys this collector tracks, whose
// values arrive in kilobytes and are republished in bytes.
var memoryFields = []string{
	"MemTotal", "MemFree", "MemAvailable", "Buffers", "Cached",
	"SwapTotal", "SwapFree", "Dirty", "Writeback", "Slab",
}

// MemoryUsage reads system memory statistics from /proc/meminfo. It
// backs the memory_usage probe family's proc fallback.
type MemoryUsage struct {
	meminfoPath string
	reg         *metric.Registry
	counters    map[string]*metric.Counter
}

// NewMemoryUsage constructs the collector and pre-registers one counter
// per tracked field, since /proc/meminfo's field set does not vary
// between refreshes.
func NewMemoryUsage(procPath string, reg *metric.Registry) (*MemoryUsage, error) {
	m := &MemoryUsage{
		meminfoPath: filepath.Join(procPath, "meminfo"),
		reg:         reg,
		counters:    make(map[string]*metric.Counter, len(memoryFields)),
	}

	for _, field := range memoryFields {
		c := metric.NewCounter("memory/usage", map[string]string{"field": field})
		if err := reg.RegisterCounter(c); err != nil {
			return nil, fmt.Errorf("collectors: registering memory/usage counter for %s: %w", field, err)
		}
		m.counters[field] = c
	}

	return m, nil
}

// Refresh re-reads /proc/meminfo and republishes each tracked field's
// current value, converted from kilobytes to bytes.
func (m *MemoryUsage) Refresh() error {
	f, err := os.Open(m.meminfoPath)
	if err != nil {
		return fmt.Errorf("collectors: opening %s: %w", m.meminfoPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := line[:idx]
		counter, ok := m.counters[name]
		if !ok {
			continue
		}

		fields := strings.Fields(line[idx+1:])
		if len(fields) == 0 {
			continue
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		counter.Set(kb * 1024)
	}

	return scanner.Err()
}
