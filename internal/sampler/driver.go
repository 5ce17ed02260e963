// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampler

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Driver ticks a Worker on a wall-clock-aligned interval from an ordinary
// goroutine, never itself blocking on kernel I/O. If the previous tick's
// refresh has not completed by the time the next tick is due, the tick is
// skipped rather than queued, so the worker never falls behind by more
// than one refresh.
type Driver struct {
	worker   *Worker
	interval time.Duration
	logger   logr.Logger
}

// NewDriver creates a driver for worker, ticking every interval.
func NewDriver(worker *Worker, interval time.Duration, logger logr.Logger) *Driver {
	return &Driver{worker: worker, interval: interval, logger: logger.WithName("sampler-driver")}
}

// Run ticks on an interval aligned to the next wall-clock boundary until
// ctx is canceled. The first tick fires at the next multiple of interval
// past the current time, matching the wall-clock alignment used when
// recording snapshots for later correlation across probe families.
func (d *Driver) Run(ctx context.Context) {
	now := time.Now()
	aligned := now.Truncate(d.interval).Add(d.interval)
	initialDelay := aligned.Sub(now)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if pending {
				if !d.worker.sync.TryWaitDone() {
					d.logger.V(1).Info("skipping tick, previous refresh still in flight")
					timer.Reset(d.interval)
					continue
				}
				pending = false
			}

			if d.worker.sync.TryTrigger() {
				pending = true
			} else {
				d.logger.V(1).Info("skipping tick, worker busy")
			}

			timer.Reset(d.interval)
		}
	}
}
