// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package flightrecorder_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/flightrecorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeAndSizeComputesSlotGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	sizing, err := flightrecorder.ProbeAndSize(context.Background(), srv.Client(), srv.URL, time.Second, 900*time.Second)
	require.NoError(t, err)

	assert.Equal(t, uint64(4096), sizing.SlotSize)
	assert.Equal(t, uint64(901), sizing.SlotCount)
}

func TestProbeAndSizeRejectsTooShortInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	_, err := flightrecorder.ProbeAndSize(context.Background(), srv.Client(), srv.URL, time.Microsecond, time.Second)
	assert.Error(t, err)
}
