// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampler_test

import (
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/sampler"
	"github.com/stretchr/testify/assert"
)

func TestSyncPrimitiveTriggerAndNotify(t *testing.T) {
	s := sampler.NewSyncPrimitive()

	refreshed := make(chan struct{})
	go func() {
		s.WaitTrigger()
		close(refreshed)
		s.NotifyDone()
	}()

	s.Trigger()

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("worker never observed trigger")
	}

	s.WaitDone()
}

func TestSyncPrimitiveTryTriggerDoesNotBlock(t *testing.T) {
	s := sampler.NewSyncPrimitive()

	assert.True(t, s.TryTrigger())
	// second attempt before the first is drained must not block
	assert.False(t, s.TryTrigger())

	s.WaitTrigger()
	assert.True(t, s.TryTrigger())
}

func TestSyncPrimitiveTryWaitDone(t *testing.T) {
	s := sampler.NewSyncPrimitive()

	assert.False(t, s.TryWaitDone())

	s.NotifyDone()
	assert.True(t, s.TryWaitDone())
	assert.False(t, s.TryWaitDone())
}
