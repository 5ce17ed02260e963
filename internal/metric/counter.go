// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package metric holds the in-process counter, counter-group, and histogram
// primitives that probe families publish into and that the exposition and
// flight-recorder paths read back out of. Nothing in this package performs
// I/O; it is pure bookkeeping over atomically-published values.
package metric

import "sync/atomic"

// Counter is a single monotonically-reported value with a fixed name and
// label set. Probe families call Set once per refresh tick; readers call
// Value at any time without blocking the writer.
//
// A Counter does not itself enforce monotonicity; the kernel-counter
// refresh pipeline aggregates per-CPU cells with wrapping addition before
// publishing here, so the value observed by a reader can, in principle,
// wrap. Callers computing rates must handle a decrease as a reset.
type Counter struct {
	name   string
	labels map[string]string
	value  atomic.Uint64
}

// NewCounter declares a counter with the given name and static labels. The
// labels map is copied so callers may safely reuse or mutate the original.
func NewCounter(name string, labels map[string]string) *Counter {
	return &Counter{
		name:   name,
		labels: cloneLabels(labels),
	}
}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) Labels() map[string]string {
	return cloneLabels(c.labels)
}

// Set publishes a new current value. Refresh is single-writer per probe
// family (spec: Concurrency & Resource Model), so no compare-and-swap is
// needed here; a plain atomic store is sufficient to make the new value
// visible to concurrent readers.
func (c *Counter) Set(v uint64) {
	c.value.Store(v)
}

// Value returns the most recently published value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

func cloneLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
