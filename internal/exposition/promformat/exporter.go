// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package promformat exposes a downsampled Prometheus text-format view of
// the agent's metric registry, gated by the agent configuration's
// [prometheus] section. It exists alongside the primary msgpack
// exposition path, not instead of it: Prometheus scrapers get a coarser,
// text-format view with histogram buckets downsampled to a power-of-two
// grouping, while the flight recorder and viewer always consume the full-
// resolution msgpack snapshot.
package promformat

import (
	"net/http"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the downsampled exporter.
type Options struct {
	// Histograms enables exporting histogram metrics; when false, only
	// counters are exported.
	Histograms bool

	// HistogramGroupingPower downsamples each histogram's buckets to
	// 2^HistogramGroupingPower buckets per power-of-two row before
	// exporting, trading resolution for scrape payload size.
	HistogramGroupingPower uint8
}

// Collector adapts a metric.Registry to a prometheus.Collector, so it can
// be registered with a standard prometheus.Registry and served with
// promhttp.Handler.
type Collector struct {
	reg  *metric.Registry
	opts Options
}

// NewCollector builds a prometheus.Collector backed by reg.
func NewCollector(reg *metric.Registry, opts Options) *Collector {
	return &Collector{reg: reg, opts: opts}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Descriptions are dynamic (driven by the live registry contents),
	// so this collector is unchecked; Prometheus's client library
	// supports this via prometheus.Registry.MustRegister without
	// Describe emitting anything.
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, counter := range c.reg.Counters() {
		desc := prometheus.NewDesc(sanitizeName(counter.Name()), "rezolus counter", nil, counter.Labels())
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(counter.Value()))
	}

	if !c.opts.Histograms {
		return
	}

	for _, h := range c.reg.Histograms() {
		sourceG, n := h.GroupingPower(), h.MaxMagnitude()
		targetG := c.opts.HistogramGroupingPower
		if targetG >= sourceG || targetG == 0 {
			targetG = sourceG
		}
		src := h.Buckets()
		buckets := downsample(src, sourceG, targetG)
		desc := prometheus.NewDesc(sanitizeName(h.Name()), "rezolus histogram", nil, h.Labels())

		factor := 1 << (sourceG - targetG)
		bucketBounds := make(map[float64]uint64, len(buckets))
		var cumulative uint64
		for i, count := range buckets {
			cumulative += count
			// a merged bucket ends where the last native bucket folded into it ends
			last := (i+1)*factor - 1
			if last >= len(src) {
				last = len(src) - 1
			}
			bucketBounds[float64(metric.BucketUpperBound(last, sourceG, n))] = cumulative
		}

		ch <- prometheus.MustNewConstHistogram(desc, cumulative, 0, bucketBounds)
	}
}

// downsample merges adjacent buckets so that the exported histogram has
// at most 2^targetGroupingPower buckets per power-of-two row, regardless
// of the source histogram's native grouping power.
func downsample(buckets []uint64, sourceG, targetG uint8) []uint64 {
	if targetG >= sourceG || targetG == 0 {
		return buckets
	}

	factor := 1 << (sourceG - targetG)
	out := make([]uint64, 0, (len(buckets)+factor-1)/factor)
	for i := 0; i < len(buckets); i += factor {
		var sum uint64
		end := i + factor
		if end > len(buckets) {
			end = len(buckets)
		}
		for _, v := range buckets[i:end] {
			sum += v
		}
		out = append(out, sum)
	}
	return out
}

func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// Handler returns an http.Handler serving the Prometheus text exposition
// format for the given registry.
func Handler(reg *metric.Registry, opts Options) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(reg, opts))
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}
