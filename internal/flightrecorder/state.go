// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package flightrecorder implements the always-on ring-buffer recorder:
// it polls /metrics/binary on an interval, writes each snapshot into a
// fixed-size slot of a pre-grown temporary file, and on a capture trigger
// walks the ring oldest-first to produce a packed recording in raw or
// parquet form.
package flightrecorder

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-logr/logr"
)

// State is the recorder's process-wide capture state machine.
type State int32

const (
	// Running is the steady-state: sampling into the ring, no capture
	// in progress.
	Running State = iota
	// Capturing means a SIGINT has requested a capture; the sampling
	// loop finishes its in-flight write, then produces a packed
	// recording before deciding whether to return to Running or exit.
	Capturing
	// Terminating means a second SIGINT arrived while a capture was
	// already in progress; the process exits once the capture
	// completes instead of resuming sampling.
	Terminating
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Capturing:
		return "capturing"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// StateMachine is an atomic, sequentially-consistent State, read with Load
// and transitioned with Store or CompareAndSwap, driven by repeated SIGINT
// delivery.
type StateMachine struct {
	v atomic.Int32
}

func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

func (sm *StateMachine) Load() State {
	return State(sm.v.Load())
}

func (sm *StateMachine) Store(s State) {
	sm.v.Store(int32(s))
}

func (sm *StateMachine) CompareAndSwap(old, new State) bool {
	return sm.v.CompareAndSwap(int32(old), int32(new))
}

// SignalHandler escalates a StateMachine through Running -> Capturing ->
// Terminating on repeated SIGINT, matching the three-state capture
// protocol: the first interrupt requests a capture (sampling pauses while
// it runs and resumes afterwards), the second requests the process exit once the in-progress
// capture completes, and a third interrupt while already Terminating
// exits immediately rather than waiting further.
type SignalHandler struct {
	sm     *StateMachine
	logger logr.Logger
	sigCh  chan os.Signal
}

// NewSignalHandler installs a SIGINT handler driving sm's transitions.
func NewSignalHandler(sm *StateMachine, logger logr.Logger) *SignalHandler {
	h := &SignalHandler{
		sm:     sm,
		logger: logger.WithName("flightrecorder-signal"),
		sigCh:  make(chan os.Signal, 1),
	}
	signal.Notify(h.sigCh, syscall.SIGINT)
	return h
}

// Run processes signals until the channel is closed by Stop.
func (h *SignalHandler) Run() {
	for range h.sigCh {
		switch h.sm.Load() {
		case Running:
			h.logger.Info("triggering ringbuffer capture")
			h.sm.Store(Capturing)
		case Capturing:
			h.logger.Info("waiting for capture to complete before exiting")
			h.sm.Store(Terminating)
		default:
			h.logger.Info("terminating immediately")
			os.Exit(2)
		}
	}
}

// Stop stops receiving SIGINT and releases the handler's signal channel.
func (h *SignalHandler) Stop() {
	signal.Stop(h.sigCh)
	close(h.sigCh)
}
