// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package flightrecorder_test

import (
	"testing"

	"github.com/antimetal/rezolus-agent/internal/flightrecorder"
	"github.com/stretchr/testify/assert"
)

func TestStateMachineTransitions(t *testing.T) {
	sm := flightrecorder.NewStateMachine()
	assert.Equal(t, flightrecorder.Running, sm.Load())

	assert.True(t, sm.CompareAndSwap(flightrecorder.Running, flightrecorder.Capturing))
	assert.Equal(t, flightrecorder.Capturing, sm.Load())

	// a stale CAS against the old state fails
	assert.False(t, sm.CompareAndSwap(flightrecorder.Running, flightrecorder.Terminating))
	assert.Equal(t, flightrecorder.Capturing, sm.Load())

	assert.True(t, sm.CompareAndSwap(flightrecorder.Capturing, flightrecorder.Terminating))
	assert.Equal(t, flightrecorder.Terminating, sm.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", flightrecorder.Running.String())
	assert.Equal(t, "capturing", flightrecorder.Capturing.String())
	assert.Equal(t, "terminating", flightrecorder.Terminating.String())
}
