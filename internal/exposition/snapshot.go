// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package exposition builds and serializes the msgpack-encoded instant
// snapshot served from /metrics/binary, and loads snapshots back for the
// flight recorder and the TSDB.
package exposition

import (
	"fmt"
	"sort"
	"time"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is one instant's worth of every registered metric, the unit
// that both the exposition HTTP handler and the flight recorder's ring
// slots carry.
type Snapshot struct {
	Timestamp  time.Time                    `msgpack:"timestamp"`
	Source     string                       `msgpack:"source"`
	Version    string                       `msgpack:"version"`
	Counters   map[string]uint64            `msgpack:"counters"`
	Gauges     map[string]float64           `msgpack:"gauges"`
	Histograms map[string]HistogramSnapshot `msgpack:"histograms"`
}

// HistogramSnapshot carries one histogram's bucket counts together with
// the (g, n) bucket-layout parameters it was declared with. Readers of a
// packed recording (the TSDB's percentile path) have no access to the
// live metric.Registry a histogram was built against, so the layout has
// to travel with the counts or bucket index can never be mapped back to
// a value.
type HistogramSnapshot struct {
	Buckets []uint64 `msgpack:"buckets"`
	G       uint8    `msgpack:"g"`
	N       uint8    `msgpack:"n"`
}

// BuildSnapshot walks every counter, counter group, and histogram in reg
// and produces one instant's exposition document. Counter groups are
// flattened into individual counter entries keyed by "name{idx=N}" so
// that the wire shape stays a flat map regardless of cardinality.
func BuildSnapshot(reg *metric.Registry, source, version string, now time.Time) *Snapshot {
	snap := &Snapshot{
		Timestamp:  now,
		Source:     source,
		Version:    version,
		Counters:   make(map[string]uint64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramSnapshot),
	}

	for _, c := range reg.Counters() {
		snap.Counters[labeledName(c.Name(), c.Labels())] = c.Value()
	}

	for _, g := range reg.CounterGroups() {
		values := g.Load()
		for idx, v := range values {
			key := fmt.Sprintf("%s{idx=%d}", g.Name(), idx)
			snap.Counters[key] = v
		}
	}

	for _, h := range reg.Histograms() {
		snap.Histograms[labeledName(h.Name(), h.Labels())] = HistogramSnapshot{
			Buckets: h.Buckets(),
			G:       h.GroupingPower(),
			N:       h.MaxMagnitude(),
		}
	}

	return snap
}

// labeledName renders a metric name with its static labels appended in
// sorted order, matching the "name{k=v,...}" convention the PromQL
// evaluator and TSDB loader expect.
func labeledName(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := name + "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + labels[k]
	}
	out += "}"
	return out
}

// Encode serializes the snapshot to msgpack.
func (s *Snapshot) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("exposition: encode snapshot: %w", err)
	}
	return b, nil
}

// Decode parses a msgpack-encoded snapshot document.
func Decode(b []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("exposition: decode snapshot: %w", err)
	}
	return &snap, nil
}
