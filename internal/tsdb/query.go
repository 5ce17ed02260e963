// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package tsdb

import "github.com/antimetal/rezolus-agent/internal/metric"

// LabelFilter reports whether a given label set matches a query's
// selector; it is implemented by the promql package's compiled label
// matchers so that tsdb has no dependency on promql's parser types.
type LabelFilter interface {
	Matches(labels Labels) bool
}

// MatchAll is a LabelFilter that accepts every label set.
var MatchAll LabelFilter = matchAll{}

type matchAll struct{}

func (matchAll) Matches(Labels) bool { return true }

// Counters returns the collection of counter series named name whose
// labels satisfy filter. ok is false if no series with that name exists
// at all (a selector matching zero series due to label filtering still
// returns ok=true with an empty Collection).
func (t *Tsdb) Counters(name string, filter LabelFilter) (*Collection, bool) {
	return t.selectSeries(t.counters, name, filter)
}

// Gauges returns the collection of gauge series named name whose labels
// satisfy filter.
func (t *Tsdb) Gauges(name string, filter LabelFilter) (*Collection, bool) {
	return t.selectSeries(t.gauges, name, filter)
}

func (t *Tsdb) selectSeries(src map[seriesKey]*Series, name string, filter LabelFilter) (*Collection, bool) {
	if filter == nil {
		filter = MatchAll
	}

	found := false
	var out []*Series
	for key, s := range src {
		if key.name != name {
			continue
		}
		found = true
		labels := decodeLabelString(key.labels)
		if !filter.Matches(labels) {
			continue
		}
		copied := *s
		copied.Labels = labels
		out = append(out, &copied)
	}

	if !found {
		return nil, false
	}
	return &Collection{Series: out}, true
}

// Percentiles computes one series per requested quantile from the
// histogram snapshots recorded for name, restricted to series whose
// labels satisfy filter.
func (t *Tsdb) Percentiles(name string, filter LabelFilter, quantiles []float64) ([]*Series, error) {
	if filter == nil {
		filter = MatchAll
	}

	out := make([]*Series, len(quantiles))
	for i := range out {
		out[i] = &Series{}
	}

	for key, snapshots := range t.histograms {
		if key.name != name {
			continue
		}
		labels := decodeLabelString(key.labels)
		if !filter.Matches(labels) {
			continue
		}

		layout := t.histoLayout[key]
		times := t.histoTimes[key]
		for i, buckets := range snapshots {
			for qi, q := range quantiles {
				v, ok := quantileFromBuckets(buckets, layout.g, layout.n, q)
				if !ok {
					continue
				}
				out[qi].Timestamps = append(out[qi].Timestamps, times[i])
				out[qi].Values = append(out[qi].Values, v)
				out[qi].Labels = labels
			}
		}
	}

	return out, nil
}

// quantileFromBuckets finds the bucket index where the cumulative count
// first reaches q*total and returns that bucket's upper bound value —
// the measurement axis, not the running count — matching
// metric.Histogram.Quantile's behavior for the in-agent path.
func quantileFromBuckets(buckets []uint64, g, n uint8, q float64) (float64, bool) {
	var total uint64
	for _, v := range buckets {
		total += v
	}
	if total == 0 {
		return 0, false
	}

	target := q * float64(total)
	var running float64
	for idx, count := range buckets {
		running += float64(count)
		if running >= target {
			return float64(metric.BucketUpperBound(idx, g, n)), true
		}
	}
	return float64(metric.BucketUpperBound(len(buckets)-1, g, n)), true
}

func decodeLabelString(s string) Labels {
	if s == "" {
		return Labels{}
	}
	_, labels := splitLabeledName("x{" + s + "}")
	if labels == nil {
		return Labels{}
	}
	return labels
}

// CounterNames, GaugeNames, and HistogramNames enumerate the distinct
// metric names present in the loaded recording, for the viewer's metric
// listing surface.
func (t *Tsdb) CounterNames() []string   { return distinctNames(t.counters) }
func (t *Tsdb) GaugeNames() []string     { return distinctNames(t.gauges) }
func (t *Tsdb) HistogramNames() []string { return distinctHistogramNames(t.histograms) }

func distinctNames(src map[seriesKey]*Series) []string {
	seen := map[string]struct{}{}
	var out []string
	for key := range src {
		if _, ok := seen[key.name]; !ok {
			seen[key.name] = struct{}{}
			out = append(out, key.name)
		}
	}
	return out
}

func distinctHistogramNames(src map[seriesKey][][]uint64) []string {
	seen := map[string]struct{}{}
	var out []string
	for key := range src {
		if _, ok := seen[key.name]; !ok {
			seen[key.name] = struct{}{}
			out = append(out, key.name)
		}
	}
	return out
}
