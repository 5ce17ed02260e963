// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package adhocrecorder implements the simple, non-ring recorder: a
// contiguous, optionally time-limited capture of snapshots with no
// wraparound, sharing the flight recorder's output encodings.
package adhocrecorder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/antimetal/rezolus-agent/pkg/errors"
	"github.com/go-logr/logr"
	"github.com/parquet-go/parquet-go"
)

// OutputFormat selects the output encoding.
type OutputFormat int

const (
	FormatRaw OutputFormat = iota
	FormatParquet
)

// Recorder performs a contiguous, unbounded-growth capture: every sampled
// snapshot is appended to an in-memory buffer that grows to fit (there is
// no fixed slot size here, unlike the flight recorder's ring), and is
// flushed to the destination file when the run ends.
type Recorder struct {
	client      *http.Client
	url         string
	destination string
	interval    time.Duration
	duration    *time.Duration
	format      OutputFormat
	logger      logr.Logger

	buf  bytes.Buffer
	rows []exposition.Snapshot
}

// NewRecorder creates an ad-hoc recorder. duration, if non-nil, bounds
// the run length; a nil duration runs until ctx is canceled.
func NewRecorder(client *http.Client, url, destination string, interval time.Duration, duration *time.Duration, format OutputFormat, logger logr.Logger) *Recorder {
	return &Recorder{
		client:      client,
		url:         url,
		destination: destination,
		interval:    interval,
		duration:    duration,
		format:      format,
		logger:      logger.WithName("adhocrecorder"),
	}
}

// Run samples on r.interval until ctx is canceled or the configured
// duration elapses, then writes the accumulated capture to disk.
func (r *Recorder) Run(ctx context.Context) error {
	if r.duration != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *r.duration)
		defer cancel()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.flush()
		case <-ticker.C:
			if err := r.sampleOnce(); err != nil {
				return err
			}
		}
	}
}

func (r *Recorder) sampleOnce() error {
	resp, err := r.client.Get(r.url)
	if err != nil {
		return errors.NewRetryable(fmt.Sprintf("adhocrecorder: failed to get metrics: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewRetryable(fmt.Sprintf("adhocrecorder: failed to read response: %v", err))
	}

	snap, err := exposition.Decode(body)
	if err != nil {
		r.logger.V(1).Info("skipping unreadable snapshot", "error", err)
		return nil
	}

	r.rows = append(r.rows, *snap)

	// The body-size-exceeds-estimate case: the buffer has no fixed
	// capacity, so it simply grows to accommodate the new snapshot
	// rather than truncating or rejecting it.
	r.buf.Write(body)

	return nil
}

func (r *Recorder) flush() error {
	switch r.format {
	case FormatParquet:
		return r.flushParquet()
	default:
		return r.flushRaw()
	}
}

func (r *Recorder) flushRaw() error {
	return os.WriteFile(r.destination, r.buf.Bytes(), 0o644)
}

type adhocRow struct {
	TimestampUnixNano int64                                   `parquet:"timestamp_unix_nano"`
	Source            string                                  `parquet:"source"`
	Version           string                                  `parquet:"version"`
	Counters          map[string]uint64                       `parquet:"counters"`
	Gauges            map[string]float64                      `parquet:"gauges"`
	Histograms        map[string]exposition.HistogramSnapshot `parquet:"histograms"`
}

func (r *Recorder) flushParquet() error {
	f, err := os.Create(r.destination)
	if err != nil {
		return fmt.Errorf("adhocrecorder: failed to open destination: %w", err)
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[adhocRow](f)
	for _, snap := range r.rows {
		row := adhocRow{
			TimestampUnixNano: snap.Timestamp.UnixNano(),
			Source:            snap.Source,
			Version:           snap.Version,
			Counters:          snap.Counters,
			Gauges:            snap.Gauges,
			Histograms:        snap.Histograms,
		}
		if _, err := writer.Write([]adhocRow{row}); err != nil {
			_ = writer.Close()
			return fmt.Errorf("adhocrecorder: failed to write parquet row: %w", err)
		}
	}

	return writer.Close()
}
