// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package collectors holds the proc/sysfs-based probe family refreshers
// that stand in for a probe's eBPF variant on kernels where CO-RE is
// unavailable, or that are the only implementation a given probe has.
// Each collector implements sampler.Refresher and publishes directly into
// a shared metric.Registry.
package collectors

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/antimetal/rezolus-agent/internal/metric"
)

// cpuStateNames are the /proc/stat CPU time fields this collector
// tracks, in the order they appear on each "cpu<N>" line.
var cpuStateNames = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal"}

// CPUUsage reads per-CPU time-in-state counters from /proc/stat. It
// backs the cpu_usage probe family on hosts where the eBPF variant is
// unavailable or disabled, matching the cpu_usage sampler's proc
// fallback.
type CPUUsage struct {
	statPath string
	reg      *metric.Registry

	mu       sync.Mutex
	counters map[string]*metric.Counter // keyed by "cpu<N>:state"
}

// NewCPUUsage constructs the collector. It registers no counters until
// the first successful Refresh, since the set of CPUs is not known until
// /proc/stat has been read at least once.
func NewCPUUsage(procPath string, reg *metric.Registry) *CPUUsage {
	return &CPUUsage{
		statPath: filepath.Join(procPath, "stat"),
		reg:      reg,
		counters: map[string]*metric.Counter{},
	}
}

// Refresh re-reads /proc/stat and publishes the current time-in-state
// value for every CPU line found, registering new counters the first
// time a given CPU/state pair is observed.
func (c *CPUUsage) Refresh() error {
	data, err := os.ReadFile(c.statPath)
	if err != nil {
		return fmt.Errorf("collectors: reading %s: %w", c.statPath, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}
		cpuName := fields[0]
		if cpuName == "cpu" {
			continue // aggregate line is derivable from the per-CPU series; skip to avoid double counting
		}

		values := fields[1:]
		for i, stateName := range cpuStateNames {
			if i >= len(values) {
				break
			}
			v, err := strconv.ParseUint(values[i], 10, 64)
			if err != nil {
				continue
			}
			if err := c.publish(cpuName, stateName, v); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *CPUUsage) publish(cpu, state string, value uint64) error {
	key := cpu + ":" + state
	counter, ok := c.counters[key]
	if !ok {
		counter = metric.NewCounter("cpu/usage", map[string]string{"cpu": cpu, "state": state})
		if err := c.reg.RegisterCounter(counter); err != nil {
			return fmt.Errorf("collectors: registering cpu/usage counter: %w", err)
		}
		c.counters[key] = counter
	}
	counter.Set(value)
	return nil
}
