// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric

import "sync"

// CounterGroup holds one counter value per index (typically a CPU id or a
// cgroup id) behind a single reader/writer lock. The backing slice is
// allocated lazily on first use rather than at construction, mirroring the
// deferred-allocation discipline of a lock-guarded once-initialized vector:
// a probe family that never observes a given index never pays for it.
type CounterGroup struct {
	name   string
	labels map[string]string

	once sync.Once
	mu   sync.RWMutex
	vals []uint64
}

// NewCounterGroup declares an empty counter group. The capacity argument
// is not stored: the backing slice is sized by the capacity passed to the
// first Set, Set grows it for an index past its end, and Get reports false
// for an index outside it.
func NewCounterGroup(name string, labels map[string]string, capacity int) *CounterGroup {
	return &CounterGroup{
		name:   name,
		labels: cloneLabels(labels),
		vals:   nil,
		// capacity is realized lazily; stash it via a closure-free field
		// by pre-sizing on first touch instead of here.
	}
}

func (g *CounterGroup) Name() string { return g.name }

func (g *CounterGroup) Labels() map[string]string { return cloneLabels(g.labels) }

func (g *CounterGroup) ensure(capacity int) {
	g.once.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.vals == nil {
			g.vals = make([]uint64, capacity)
		}
	})
}

// Set publishes the value at idx, growing the backing slice on first use.
// Refresh is single-writer per probe family, so only the read side
// (Get/Load) needs to take the read lock concurrently with Set's write
// lock.
func (g *CounterGroup) Set(idx int, capacity int, v uint64) {
	g.ensure(capacity)
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx >= len(g.vals) {
		grown := make([]uint64, idx+1)
		copy(grown, g.vals)
		g.vals = grown
	}
	g.vals[idx] = v
}

// Get returns the value at idx and whether idx lies inside the backing
// slice; an index inside it that was never set reads as 0, true.
func (g *CounterGroup) Get(idx int) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if idx < 0 || idx >= len(g.vals) {
		return 0, false
	}
	return g.vals[idx], true
}

// Load returns a snapshot copy of every published value, indexed exactly
// as published.
func (g *CounterGroup) Load() []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]uint64, len(g.vals))
	copy(out, g.vals)
	return out
}

// Len returns the number of indices currently backed.
func (g *CounterGroup) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vals)
}
