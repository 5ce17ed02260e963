// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sampler runs one dedicated OS thread per probe family, driving
// its kernel-counter refresh with a paired one-shot latch rather than
// polling, and exposes the async-runtime side of that handoff to callers
// that tick on a wall-clock-aligned schedule.
package sampler

// SyncPrimitive is a paired one-shot latch used to hand control back and
// forth between a driver goroutine and a dedicated sampling thread with no
// busy-waiting. It is the Go equivalent of a bounded channel of capacity 1
// in each direction: Trigger/WaitTrigger carries the "start a refresh"
// signal to the worker, NotifyDone/WaitDone carries the "refresh complete"
// signal back. The capacity-1 buffering on each channel guarantees exactly
// one refresh is ever in flight: a second Trigger issued before the first
// has been drained by WaitTrigger blocks the driver, and a driver that
// checks WaitDone non-blockingly before issuing the next Trigger can choose
// to skip a tick instead of queuing it.
type SyncPrimitive struct {
	trigger chan struct{}
	done    chan struct{}
}

// NewSyncPrimitive returns a latch ready for one driver and one worker.
func NewSyncPrimitive() *SyncPrimitive {
	return &SyncPrimitive{
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}, 1),
	}
}

// Trigger signals the worker to begin a refresh. Called by the driver.
func (s *SyncPrimitive) Trigger() {
	s.trigger <- struct{}{}
}

// TryTrigger attempts to signal the worker without blocking, reporting
// whether the signal was accepted. The driver uses this to skip a tick
// rather than queue one when the worker has not yet drained the previous
// trigger.
func (s *SyncPrimitive) TryTrigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// WaitTrigger blocks the worker until the driver calls Trigger.
func (s *SyncPrimitive) WaitTrigger() {
	<-s.trigger
}

// NotifyDone signals the driver that the worker's refresh has finished.
// Called by the worker.
func (s *SyncPrimitive) NotifyDone() {
	s.done <- struct{}{}
}

// WaitDone blocks the driver until the worker calls NotifyDone.
func (s *SyncPrimitive) WaitDone() {
	<-s.done
}

// TryWaitDone reports, without blocking, whether the worker has finished
// its most recent refresh.
func (s *SyncPrimitive) TryWaitDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
