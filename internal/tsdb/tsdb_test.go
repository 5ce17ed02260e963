// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package tsdb_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/antimetal/rezolus-agent/internal/tsdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRecording(t *testing.T, snapshots []*exposition.Snapshot) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, snap := range snapshots {
		b, err := snap.Encode()
		require.NoError(t, err)
		buf.Write(b)
	}
	return buf.Bytes()
}

func TestLoadRawRecordingAndRate(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	snapshots := []*exposition.Snapshot{
		{Timestamp: base, Source: "rezolus-agent", Counters: map[string]uint64{"cpu/usage{state=user}": 100}},
		{Timestamp: base.Add(time.Second), Source: "rezolus-agent", Counters: map[string]uint64{"cpu/usage{state=user}": 200}},
		{Timestamp: base.Add(2 * time.Second), Source: "rezolus-agent", Counters: map[string]uint64{"cpu/usage{state=user}": 150}},
	}

	data := encodeRecording(t, snapshots)

	db, err := tsdb.Load(context.Background(), bytes.NewReader(data), tsdb.FormatRaw)
	require.NoError(t, err)
	assert.Equal(t, "rezolus-agent", db.Source())

	coll, ok := db.Counters("cpu/usage", tsdb.MatchAll)
	require.True(t, ok)
	require.Len(t, coll.Series, 1)

	rates := coll.Rate()
	require.Len(t, rates.Series[0].Values, 2)
	assert.InDelta(t, 100.0, rates.Series[0].Values[0], 0.001)
	// counter reset (150 < 200) must report a rate of zero, not negative
	assert.Equal(t, 0.0, rates.Series[0].Values[1])
}

func TestCountersReturnsNotOkForUnknownMetric(t *testing.T) {
	db, err := tsdb.Load(context.Background(), bytes.NewReader(nil), tsdb.FormatRaw)
	require.NoError(t, err)

	_, ok := db.Counters("does/not/exist", tsdb.MatchAll)
	assert.False(t, ok)
}

func TestCollectionSum(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	snapshots := []*exposition.Snapshot{
		{Timestamp: base, Source: "a", Counters: map[string]uint64{
			"cpu/usage{cpu=0}": 10,
			"cpu/usage{cpu=1}": 20,
		}},
	}
	data := encodeRecording(t, snapshots)

	db, err := tsdb.Load(context.Background(), bytes.NewReader(data), tsdb.FormatRaw)
	require.NoError(t, err)

	coll, ok := db.Counters("cpu/usage", tsdb.MatchAll)
	require.True(t, ok)

	summed := coll.Sum()
	require.Len(t, summed.Series, 1)
	assert.Equal(t, []float64{30}, summed.Series[0].Values)
}

func TestLabelsEqual(t *testing.T) {
	a := tsdb.Labels{"cpu": "0"}
	b := tsdb.Labels{"cpu": "0"}
	c := tsdb.Labels{"cpu": "1"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

// TestPercentilesReturnsBucketUpperBound asserts that Percentiles maps a
// quantile to the upper bound of the bucket whose cumulative count first
// reaches q*total — the measurement axis, not the running count — for a
// known (g, n) bucket layout carried by the recording.
func TestPercentilesReturnsBucketUpperBound(t *testing.T) {
	const g, n uint8 = 3, 64

	buckets := make([]uint64, metric.TotalBuckets(g, n))
	buckets[2] = 10
	buckets[3] = 20
	buckets[4] = 30
	// cumulative: idx2=10, idx3=30, idx4=60; q=0.9 of total 60 is 54,
	// first reached at idx4, so the expected quantile is that bucket's
	// upper bound rather than the count 60 itself.
	wantIdx := 4
	want := float64(metric.BucketUpperBound(wantIdx, g, n))

	base := time.Unix(1700000000, 0).UTC()
	snapshots := []*exposition.Snapshot{
		{
			Timestamp: base,
			Source:    "rezolus-agent",
			Histograms: map[string]exposition.HistogramSnapshot{
				"cpu/usage/latency": {Buckets: buckets, G: g, N: n},
			},
		},
	}
	data := encodeRecording(t, snapshots)

	db, err := tsdb.Load(context.Background(), bytes.NewReader(data), tsdb.FormatRaw)
	require.NoError(t, err)

	series, err := db.Percentiles("cpu/usage/latency", tsdb.MatchAll, []float64{0.9})
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Values, 1)

	assert.Equal(t, want, series[0].Values[0])
	// Guard against the bug returning the raw cumulative count (60)
	// instead of the bucket's upper bound value.
	assert.NotEqual(t, 60.0, series[0].Values[0])
}
