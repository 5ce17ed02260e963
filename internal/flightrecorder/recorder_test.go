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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/antimetal/rezolus-agent/internal/flightrecorder"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestRecorderCapturesRawOnStateTransition(t *testing.T) {
	snap := &exposition.Snapshot{
		Source:   "rezolus-agent",
		Version:  "test",
		Counters: map[string]uint64{"cpu/usage": 1},
	}
	body, err := snap.Encode()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sizing, err := flightrecorder.ProbeAndSize(context.Background(), srv.Client(), srv.URL, 10*time.Millisecond, 100*time.Millisecond)
	require.NoError(t, err)

	dir := t.TempDir()
	destination := filepath.Join(dir, "recording.raw")

	sm := flightrecorder.NewStateMachine()
	rec, err := flightrecorder.NewRecorder(srv.Client(), srv.URL, destination, 10*time.Millisecond, flightrecorder.FormatRaw, sizing, sm, logr.Discard())
	require.NoError(t, err)
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- rec.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	sm.CompareAndSwap(flightrecorder.Running, flightrecorder.Capturing)
	sm.CompareAndSwap(flightrecorder.Capturing, flightrecorder.Terminating)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("recorder did not terminate after capture")
	}

	info, err := os.Stat(destination)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
