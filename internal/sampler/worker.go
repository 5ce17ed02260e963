// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampler

import (
	"runtime"

	"github.com/go-logr/logr"
)

// Refresher refreshes one kernel-counter or histogram wrapper for a single
// sampling tick. Implementations never block past the duration of reading
// their own mmap'd region.
type Refresher interface {
	Refresh() error
}

// refresherFunc adapts a func() error to Refresher for wrappers whose
// Refresh does not itself return an error (e.g. kernelmap.Counters).
type refresherFunc func() error

func (f refresherFunc) Refresh() error { return f() }

// AsRefresher wraps a refresh function with no return value as a
// Refresher, always reporting success.
func AsRefresher(refresh func()) Refresher {
	return refresherFunc(func() error {
		refresh()
		return nil
	})
}

// Worker runs on one dedicated OS thread, looping on WaitTrigger/refresh
// all registered wrappers/NotifyDone. It never touches an async runtime
// directly; the only synchronization surface it exposes is its
// SyncPrimitive.
type Worker struct {
	name     string
	logger   logr.Logger
	sync     *SyncPrimitive
	wrappers []Refresher
	stop     chan struct{}
}

// NewWorker creates a worker for the named probe family with the given
// set of refreshable wrappers (counters, CPU counters, packed counters,
// histograms). The wrapper list is fixed at construction; a probe family
// that needs new wrappers is rebuilt, not mutated in place.
func NewWorker(name string, logger logr.Logger, wrappers []Refresher) *Worker {
	return &Worker{
		name:     name,
		logger:   logger.WithName("sampler").WithValues("probe", name),
		sync:     NewSyncPrimitive(),
		wrappers: wrappers,
		stop:     make(chan struct{}),
	}
}

// Sync returns the latch the driver uses to trigger refreshes and wait
// for their completion.
func (w *Worker) Sync() *SyncPrimitive { return w.sync }

// Run pins the calling goroutine to its OS thread for the worker's
// lifetime and loops on trigger/refresh/notify until Stop is called. Run
// must be launched in its own goroutine; it does not return until
// stopped.
func (w *Worker) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		w.sync.WaitTrigger()

		select {
		case <-w.stop:
			return
		default:
		}

		for _, wrapper := range w.wrappers {
			if err := wrapper.Refresh(); err != nil {
				// A per-wrapper refresh failure is logged and that
				// wrapper is skipped for this tick (its previously
				// published values stay in place); it never aborts the
				// sampling loop for the other wrappers in this probe
				// family.
				w.logger.V(1).Info("refresh failed, skipping wrapper for this tick", "error", err)
			}
		}

		w.sync.NotifyDone()
	}
}

// Stop requests the worker loop exit after its current tick, if any, and
// unblocks a pending WaitTrigger.
func (w *Worker) Stop() {
	close(w.stop)
	w.sync.TryTrigger()
}
