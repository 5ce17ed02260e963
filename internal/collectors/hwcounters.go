// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"fmt"
	"runtime"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/antimetal/rezolus-agent/internal/sampler"
)

// hwCounterNames maps each supported sampler.HWCounter to the metric name
// its per-CPU counter is published under.
var hwCounterNames = map[sampler.HWCounter]string{
	sampler.HWCycles:       "cpu/perf_cycles_total",
	sampler.HWInstructions: "cpu/perf_instructions_total",
}

// HWCounters publishes raw hardware performance counter values per CPU,
// backing the hwcounter probe family. Unlike the proc-derived collectors,
// it has no fallback: it requires perf_event_open support from the
// kernel, so NewHWCounters returns (nil, nil) wherever that is
// unavailable, matching the Registry convention for "unsupported on this
// host, skip silently."
type HWCounters struct {
	groups   []*sampler.HWCounterGroup
	counters [][]*metric.Counter // counters[cpu][i] matches groups[cpu]'s i'th requested HWCounter
}

// NewHWCounters opens one perf_event_open counter group per online CPU
// for the given counters and registers a counter per CPU per requested
// HWCounter. It returns (nil, nil) if perf_event_open is unavailable on
// this host (e.g. running unprivileged, or under a seccomp profile that
// denies the syscall) so the probe registry skips it rather than
// aborting the whole build.
func NewHWCounters(reg *metric.Registry, counters []sampler.HWCounter) (*HWCounters, error) {
	ncpu := runtime.NumCPU()

	h := &HWCounters{
		groups:   make([]*sampler.HWCounterGroup, 0, ncpu),
		counters: make([][]*metric.Counter, 0, ncpu),
	}

	for cpu := 0; cpu < ncpu; cpu++ {
		group, err := sampler.OpenHWCounterGroup(cpu, counters)
		if err != nil {
			if cpu == 0 {
				// The first CPU failing to open is treated as "perf
				// counters are unavailable here" rather than a partial
				// failure; any groups opened so far are closed.
				h.Close()
				return nil, nil
			}
			h.Close()
			return nil, fmt.Errorf("collectors: opening hardware counters on cpu %d: %w", cpu, err)
		}

		perCPU := make([]*metric.Counter, len(counters))
		for i, c := range counters {
			name, ok := hwCounterNames[c]
			if !ok {
				h.Close()
				return nil, fmt.Errorf("collectors: no metric name registered for hardware counter %v", c)
			}
			counter := metric.NewCounter(name, map[string]string{"cpu": fmt.Sprintf("%d", cpu)})
			if err := reg.RegisterCounter(counter); err != nil {
				h.Close()
				return nil, fmt.Errorf("collectors: registering %s: %w", name, err)
			}
			perCPU[i] = counter
		}

		h.groups = append(h.groups, group)
		h.counters = append(h.counters, perCPU)
	}

	return h, nil
}

// Refresh reads the current raw value of every open counter group and
// publishes it into the matching metric.Counter.
func (h *HWCounters) Refresh() error {
	for cpu, group := range h.groups {
		values, err := group.Read()
		if err != nil {
			return fmt.Errorf("collectors: reading hardware counters on cpu %d: %w", cpu, err)
		}
		for i, v := range values {
			h.counters[cpu][i].Set(v)
		}
	}
	return nil
}

// Close releases every perf_event_open file descriptor this collector
// opened. It is idempotent.
func (h *HWCounters) Close() error {
	var firstErr error
	for _, group := range h.groups {
		if group == nil {
			continue
		}
		if err := group.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.groups = nil
	h.counters = nil
	return firstErr
}
