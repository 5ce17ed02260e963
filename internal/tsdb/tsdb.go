// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package tsdb loads a packed recording (raw, gzip, or parquet) into an
// in-memory collection of (metric, labels, timestamp, value) tuples and
// exposes the Collection operations the PromQL evaluator needs: rate,
// average_rate, sum, and label enumeration.
package tsdb

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"
)

// Format selects the on-disk recording encoding.
type Format int

const (
	FormatRaw Format = iota
	FormatGzip
	FormatParquet
)

// Labels is a small label set compared by full equality.
type Labels map[string]string

// Equal reports whether l and other contain exactly the same key/value
// pairs.
func (l Labels) Equal(other Labels) bool {
	if len(l) != len(other) {
		return false
	}
	for k, v := range l {
		if other[k] != v {
			return false
		}
	}
	return true
}

// seriesKey identifies one named, labeled series.
type seriesKey struct {
	name   string
	labels string
}

// Tsdb holds every series parsed out of a recording, keyed by metric name
// and label set.
type Tsdb struct {
	source  string
	version string

	counters    map[seriesKey]*Series
	gauges      map[seriesKey]*Series
	histograms  map[seriesKey][][]uint64 // parallel to histoTimes
	histoTimes  map[seriesKey][]int64
	histoLayout map[seriesKey]histoLayout // (g, n) the series' buckets were recorded with
}

// histoLayout is the bucket-layout pair a histogram was declared with;
// it travels with a recording's bucket counts (see
// exposition.HistogramSnapshot) since a reader of a packed recording has
// no live metric.Histogram to ask.
type histoLayout struct {
	g, n uint8
}

func newTsdb() *Tsdb {
	return &Tsdb{
		counters:    make(map[seriesKey]*Series),
		gauges:      make(map[seriesKey]*Series),
		histograms:  make(map[seriesKey][][]uint64),
		histoTimes:  make(map[seriesKey][]int64),
		histoLayout: make(map[seriesKey]histoLayout),
	}
}

func (t *Tsdb) Source() string  { return t.source }
func (t *Tsdb) Version() string { return t.version }

// Load reads a recording from r in the given format and parses it into a
// Tsdb. Parsing of independent snapshots is parallelized with a bounded
// goroutine pool via errgroup; accumulation into the shared maps happens
// on the caller's goroutine to avoid locking the series maps on every
// tuple.
func Load(ctx context.Context, r io.Reader, format Format) (*Tsdb, error) {
	snapshots, err := readSnapshots(r, format)
	if err != nil {
		return nil, err
	}

	t := newTsdb()
	if len(snapshots) == 0 {
		return t, nil
	}
	t.source = snapshots[0].Source
	t.version = snapshots[0].Version

	// Decoding work is already done by readSnapshots; the remaining
	// per-snapshot work (appending into per-series slices) must happen
	// in timestamp order, so we parallelize only the label-key
	// rendering that precedes insertion.
	type parsedCounter struct {
		key seriesKey
		ts  int64
		val float64
	}

	results := make([][]parsedCounter, len(snapshots))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, snap := range snapshots {
		i, snap := i, snap
		g.Go(func() error {
			parsed := make([]parsedCounter, 0, len(snap.Counters))
			ts := snap.Timestamp.UnixNano()
			for name, v := range snap.Counters {
				metricName, labels := splitLabeledName(name)
				parsed = append(parsed, parsedCounter{
					key: seriesKey{name: metricName, labels: canonicalLabelString(labels)},
					ts:  ts,
					val: float64(v),
				})
			}
			results[i] = parsed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, snap := range snapshots {
		ts := snap.Timestamp.UnixNano()

		for _, p := range results[i] {
			s, ok := t.counters[p.key]
			if !ok {
				s = &Series{}
				t.counters[p.key] = s
			}
			s.Timestamps = append(s.Timestamps, p.ts)
			s.Values = append(s.Values, p.val)
		}

		for name, v := range snap.Gauges {
			metricName, labels := splitLabeledName(name)
			key := seriesKey{name: metricName, labels: canonicalLabelString(labels)}
			s, ok := t.gauges[key]
			if !ok {
				s = &Series{}
				t.gauges[key] = s
			}
			s.Timestamps = append(s.Timestamps, ts)
			s.Values = append(s.Values, v)
		}

		for name, h := range snap.Histograms {
			metricName, labels := splitLabeledName(name)
			key := seriesKey{name: metricName, labels: canonicalLabelString(labels)}
			t.histograms[key] = append(t.histograms[key], h.Buckets)
			t.histoTimes[key] = append(t.histoTimes[key], ts)
			if _, ok := t.histoLayout[key]; !ok {
				t.histoLayout[key] = histoLayout{g: h.G, n: h.N}
			}
		}
	}

	return t, nil
}

func readSnapshots(r io.Reader, format Format) ([]*exposition.Snapshot, error) {
	switch format {
	case FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("tsdb: failed to open gzip recording: %w", err)
		}
		defer gz.Close()
		return readRawSnapshots(gz)
	case FormatParquet:
		return readParquetSnapshots(r)
	default:
		return readRawSnapshots(r)
	}
}

// readRawSnapshots decodes a plain concatenation of msgpack snapshot
// documents (no length prefixes), mirroring the flight recorder's raw
// output format.
func readRawSnapshots(r io.Reader) ([]*exposition.Snapshot, error) {
	br := bufio.NewReader(r)
	var out []*exposition.Snapshot

	dec := exposition.NewStreamDecoder(br)
	for {
		snap, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tsdb: failed to decode recording: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

type parquetRow struct {
	TimestampUnixNano int64                                   `parquet:"timestamp_unix_nano"`
	Source            string                                  `parquet:"source"`
	Version           string                                  `parquet:"version"`
	Counters          map[string]uint64                       `parquet:"counters"`
	Gauges            map[string]float64                      `parquet:"gauges"`
	Histograms        map[string]exposition.HistogramSnapshot `parquet:"histograms"`
}

func readParquetSnapshots(r io.Reader) ([]*exposition.Snapshot, error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("tsdb: parquet recording source must support random access reads")
	}

	size, err := sizeOf(r)
	if err != nil {
		return nil, err
	}

	file, err := parquet.OpenFile(ra, size)
	if err != nil {
		return nil, fmt.Errorf("tsdb: failed to open parquet recording: %w", err)
	}

	reader := parquet.NewGenericReader[parquetRow](file)
	defer reader.Close()

	var out []*exposition.Snapshot
	buf := make([]parquetRow, 128)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			row := buf[i]
			out = append(out, &exposition.Snapshot{
				Timestamp:  time.Unix(0, row.TimestampUnixNano),
				Source:     row.Source,
				Version:    row.Version,
				Counters:   row.Counters,
				Gauges:     row.Gauges,
				Histograms: row.Histograms,
			})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tsdb: failed to read parquet rows: %w", err)
		}
	}
	return out, nil
}

func sizeOf(r io.Reader) (int64, error) {
	if s, ok := r.(io.Seeker); ok {
		cur, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := s.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return end, nil
	}
	return 0, fmt.Errorf("tsdb: parquet recording source must be seekable")
}
