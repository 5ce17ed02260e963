// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"fmt"
	"time"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/antimetal/rezolus-agent/internal/procutils"
)

// Uptime publishes the host's wall-clock uptime, derived from the kernel
// boot time recorded in /proc/stat rather than accumulated sample-to-sample
// like the agent's own process uptime would be: the host may have been up
// long before this agent started.
type Uptime struct {
	proc    *procutils.ProcUtils
	reg     *metric.Registry
	counter *metric.Counter
}

// NewUptime constructs the collector and pre-registers its counter.
func NewUptime(procPath string, reg *metric.Registry) (*Uptime, error) {
	u := &Uptime{
		proc:    procutils.New(procPath),
		reg:     reg,
		counter: metric.NewCounter("system/uptime_seconds", nil),
	}
	if err := reg.RegisterCounter(u.counter); err != nil {
		return nil, fmt.Errorf("collectors: registering system/uptime_seconds counter: %w", err)
	}
	return u, nil
}

// Refresh recomputes uptime from the cached boot time against the current
// wall clock.
func (u *Uptime) Refresh() error {
	boot, err := u.proc.GetBootTime()
	if err != nil {
		return fmt.Errorf("collectors: reading boot time: %w", err)
	}

	elapsed := time.Since(boot)
	if elapsed < 0 {
		elapsed = 0
	}
	u.counter.Set(uint64(elapsed.Seconds()))
	return nil
}
