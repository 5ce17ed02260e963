// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package promformat_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antimetal/rezolus-agent/internal/exposition/promformat"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesPrometheusText(t *testing.T) {
	reg := metric.NewRegistry()
	c := metric.NewCounter("cpu_usage", nil)
	c.Set(42)
	require.NoError(t, reg.RegisterCounter(c))

	h := promformat.Handler(reg, promformat.Options{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cpu_usage")
}

// TestHandlerExportsHistogramBucketMagnitudes asserts that exported
// histogram "le" bucket boundaries are the bucket upper-bound values the
// histogram actually measures, not the raw bucket index. With g=3 the
// first row past the linear region (indices 8..15) has width-one buckets,
// so bucket 8's bound is 8; from index 16 on the bounds grow
// exponentially (17, 19, ...), so an index-as-value bug would emit
// boundaries such as 16 that no real bucket has.
func TestHandlerExportsHistogramBucketMagnitudes(t *testing.T) {
	const g, n uint8 = 3, 10
	reg := metric.NewRegistry()
	h := metric.NewHistogram("cpu_usage_latency", nil, g, n)
	buckets := make([]uint64, metric.TotalBuckets(g, n))
	buckets[8] = 1 // first bucket of the exponential region
	require.NoError(t, h.UpdateFrom(buckets))
	require.NoError(t, reg.RegisterHistogram(h))

	handler := promformat.Handler(reg, promformat.Options{Histograms: true})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "cpu_usage_latency")
	wantBound := metric.BucketUpperBound(8, g, n)
	assert.Contains(t, body, fmt.Sprintf(`le="%d"`, wantBound))
	// index 15 is the last width-one bucket (bound 15) and index 16's bound
	// is 17; an index-as-value bug (bound = index+1) would emit le="16".
	assert.NotContains(t, body, `le="16"`)
}
