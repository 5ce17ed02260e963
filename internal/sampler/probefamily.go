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

// ProbeFamily binds one Worker/Driver pair to the set of kernel-map
// wrappers (counters, CPU counters, packed counters, histograms) and
// optional perf-event readers that one probe declares. It is built as a
// single owning struct rather than as a self-referential arena: the
// wrappers hold their own references to the loaded eBPF program's maps
// directly, so there is no borrow-checker-shaped problem to route around
// in Go.
type ProbeFamily struct {
	Name   string
	worker *Worker
	driver *Driver
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewProbeFamily constructs a probe family that refreshes wrappers every
// interval.
func NewProbeFamily(name string, logger logr.Logger, wrappers []Refresher, interval time.Duration) *ProbeFamily {
	worker := NewWorker(name, logger, wrappers)
	driver := NewDriver(worker, interval, logger)
	return &ProbeFamily{
		Name:   name,
		worker: worker,
		driver: driver,
		doneCh: make(chan struct{}),
	}
}

// Start launches the dedicated sampling thread and the driver goroutine.
// It returns once both have been scheduled; it does not wait for the
// worker to finish its first refresh.
func (p *ProbeFamily) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		p.worker.Run()
		close(p.doneCh)
	}()

	go p.driver.Run(ctx)
}

// Stop signals the driver to stop ticking and the worker thread to exit,
// then blocks until the worker thread has returned.
func (p *ProbeFamily) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.worker.Stop()
	<-p.doneCh
}
