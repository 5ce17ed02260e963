// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is a process-wide collection of declared counters, counter
// groups, and histograms, built once at agent startup and shared by every
// probe family, the exposition snapshot builder, and the flight recorder.
//
// Unlike the compile-time-enumerated metric statics this replaces,
// Registry instances are constructed explicitly in main and passed down,
// so tests can build a private registry rather than reaching for process
// globals.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	groups     map[string]*CounterGroup
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		groups:     make(map[string]*CounterGroup),
		histograms: make(map[string]*Histogram),
	}
}

// registryKey renders a metric's identity (name plus static labels) into a
// string unique enough to use as a map key, so two instances of the same
// metric name distinguished only by labels (e.g. cpu/usage{cpu=0} and
// cpu/usage{cpu=1}) can coexist in the registry.
func registryKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (r *Registry) RegisterCounter(c *Counter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(c.Name(), c.Labels())
	if _, exists := r.counters[key]; exists {
		return fmt.Errorf("metric: counter %q already registered", key)
	}
	r.counters[key] = c
	return nil
}

func (r *Registry) RegisterCounterGroup(g *CounterGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.groups[g.Name()]; exists {
		return fmt.Errorf("metric: counter group %q already registered", g.Name())
	}
	r.groups[g.Name()] = g
	return nil
}

func (r *Registry) RegisterHistogram(h *Histogram) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(h.Name(), h.Labels())
	if _, exists := r.histograms[key]; exists {
		return fmt.Errorf("metric: histogram %q already registered", key)
	}
	r.histograms[key] = h
	return nil
}

// Counter looks up a previously registered counter by its full registry
// key, i.e. name alone for an unlabeled counter or "name{k=v,...}" for a
// labeled one (see registryKey).
func (r *Registry) Counter(key string) (*Counter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[key]
	return c, ok
}

func (r *Registry) CounterGroup(name string) (*CounterGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	return g, ok
}

// Histogram looks up a previously registered histogram by its full
// registry key (see registryKey).
func (r *Registry) Histogram(key string) (*Histogram, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.histograms[key]
	return h, ok
}

// Counters returns every registered counter, sorted by name for
// deterministic exposition output.
func (r *Registry) Counters() []*Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return registryKey(out[i].Name(), out[i].Labels()) < registryKey(out[j].Name(), out[j].Labels())
	})
	return out
}

func (r *Registry) CounterGroups() []*CounterGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CounterGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Histograms() []*Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
