// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric_test

import (
	"testing"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramTotalBuckets(t *testing.T) {
	// g=3, n=64 matches the documented default scenario.
	total := metric.TotalBuckets(3, 64)
	assert.Greater(t, total, 0)
}

func TestHistogramUpdateFromRejectsWrongLength(t *testing.T) {
	h := metric.NewHistogram("cpu/usage/latency", nil, 3, 10)

	err := h.UpdateFrom([]uint64{1, 2, 3})
	require.Error(t, err)
}

func TestHistogramUpdateFromAndTotal(t *testing.T) {
	h := metric.NewHistogram("cpu/usage/latency", nil, 3, 10)
	buckets := make([]uint64, metric.TotalBuckets(3, 10))
	buckets[0] = 5
	buckets[1] = 10

	require.NoError(t, h.UpdateFrom(buckets))
	assert.Equal(t, uint64(15), h.Total())
}

func TestHistogramQuantileEmpty(t *testing.T) {
	h := metric.NewHistogram("cpu/usage/latency", nil, 3, 10)

	_, ok := h.Quantile(0.5)
	assert.False(t, ok)
}

func TestHistogramQuantileReturnsBoundedValue(t *testing.T) {
	h := metric.NewHistogram("cpu/usage/latency", nil, 3, 10)
	buckets := make([]uint64, metric.TotalBuckets(3, 10))
	buckets[0] = 100
	require.NoError(t, h.UpdateFrom(buckets))

	v, ok := h.Quantile(0.99)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), v)
}

func TestBucketIndexBelowLinearRegion(t *testing.T) {
	idx := metric.BucketIndex(3, 3, 10)
	assert.Equal(t, 3, idx)
}

// TestBucketIndexAndUpperBoundAgreeAboveLinearRegion exercises a value past
// the first power-of-two row, where BucketIndex and bucketUpperBound must
// agree on row boundaries: a value just above the linear region must map to
// an index whose upper bound is still within the declared grouping row.
func TestBucketIndexAndUpperBoundAgreeAboveLinearRegion(t *testing.T) {
	const g, n uint8 = 3, 10
	linear := uint64(1) << g

	idx := metric.BucketIndex(linear, g, n)
	assert.Equal(t, int(linear), idx, "first bucket of the exponential region should be index == linear, not alias back into the linear region")

	upper := metric.BucketUpperBound(idx, g, n)
	assert.GreaterOrEqual(t, upper, linear)
	assert.Less(t, upper, linear*2)
}

func TestBucketIndexRoundTripsAcrossRows(t *testing.T) {
	const g, n uint8 = 3, 16
	for v := uint64(1); v < uint64(1)<<n; v *= 2 {
		idx := metric.BucketIndex(v, g, n)
		upper := metric.BucketUpperBound(idx, g, n)
		assert.GreaterOrEqual(t, upper, v, "bucket upper bound for value %d must be >= the value itself", v)
	}
}
