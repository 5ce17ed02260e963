// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package flightrecorder

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/antimetal/rezolus-agent/pkg/errors"
	"github.com/go-logr/logr"
)

// OutputFormat selects the packed output encoding produced on capture.
type OutputFormat int

const (
	FormatParquet OutputFormat = iota
	FormatRaw
)

// Recorder owns a pre-grown temporary ring file and samples a Rezolus
// agent's /metrics/binary endpoint into it on a fixed interval, producing
// a packed recording whenever the capture state machine transitions out
// of Running.
type Recorder struct {
	client      *http.Client
	url         string
	destination string
	interval    time.Duration
	format      OutputFormat
	sizing      Sizing
	sm          *StateMachine
	logger      logr.Logger

	tmp *os.File
	idx uint64
}

// NewRecorder creates a recorder. Sizing must already have been computed
// via ProbeAndSize. destination is the path the final packed recording is
// written to on every capture.
func NewRecorder(client *http.Client, url, destination string, interval time.Duration, format OutputFormat, sizing Sizing, sm *StateMachine, logger logr.Logger) (*Recorder, error) {
	tmp, err := openTemporary(destination)
	if err != nil {
		return nil, err
	}

	if err := tmp.Truncate(int64(sizing.SlotSize * sizing.SlotCount)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("flightrecorder: failed to grow temporary file: %w", err)
	}

	return &Recorder{
		client:      client,
		url:         url,
		destination: destination,
		interval:    interval,
		format:      format,
		sizing:      sizing,
		sm:          sm,
		logger:      logger.WithName("flightrecorder"),
		tmp:         tmp,
	}, nil
}

// openTemporary opens an unnamed temporary file in the same directory as
// destination, so the final rename (if any) stays on one filesystem.
func openTemporary(destination string) (*os.File, error) {
	dir := filepath.Dir(destination)
	f, err := os.CreateTemp(dir, ".rezolus-ring-*")
	if err != nil {
		return nil, fmt.Errorf("flightrecorder: failed to open temporary file in %s: %w", dir, err)
	}
	return f, nil
}

// Close releases the recorder's temporary file.
func (r *Recorder) Close() error {
	name := r.tmp.Name()
	err := r.tmp.Close()
	os.Remove(name)
	return err
}

// Run samples on r.interval until ctx is canceled, capturing a packed
// recording whenever the state machine leaves Running. Run returns once
// ctx is canceled and the final capture (if any) is written.
func (r *Recorder) Run(ctx context.Context) error {
	// align to the next wall-clock boundary for the sampling interval,
	// matching the alignment used when the flight recorder's snapshots
	// must be correlated against other probe families' sampling ticks.
	now := time.Now()
	aligned := now.Truncate(r.interval).Add(r.interval)
	timer := time.NewTimer(aligned.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			timer.Reset(r.interval)
		}

		for r.sm.Load() == Running {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			if err := r.sampleOnce(); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
				timer.Reset(r.interval)
			}
		}

		r.logger.V(1).Info("flushing writer")

		if err := r.capture(); err != nil {
			return err
		}

		r.logger.V(1).Info("ringbuffer capture complete")

		if r.sm.Load() == Terminating {
			return nil
		}
		r.sm.Store(Running)
	}
}

func (r *Recorder) sampleOnce() error {
	resp, err := r.client.Get(r.url)
	if err != nil {
		// The target agent may be mid-restart or briefly unreachable;
		// callers can retry the whole Run rather than treating this as
		// a fatal misconfiguration.
		return errors.NewRetryable(fmt.Sprintf("flightrecorder: failed to get metrics: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewRetryable(fmt.Sprintf("flightrecorder: failed to read response: %v", err))
	}

	offset := int64(r.idx * r.sizing.SlotSize)
	if _, err := r.tmp.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("flightrecorder: failed to seek: %w", err)
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := r.tmp.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("flightrecorder: failed to write snapshot size: %w", err)
	}
	if _, err := r.tmp.Write(body); err != nil {
		return fmt.Errorf("flightrecorder: failed to write snapshot: %w", err)
	}

	r.idx++
	if r.idx >= r.sizing.SlotCount {
		r.idx = 0
	}

	return nil
}

// readSlot reads the length-prefixed body at ring index i.
func (r *Recorder) readSlot(i uint64) ([]byte, error) {
	offset := int64(i * r.sizing.SlotSize)
	if _, err := r.tmp.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("flightrecorder: failed to seek slot %d: %w", i, err)
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r.tmp, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("flightrecorder: failed to read slot %d length: %w", i, err)
	}

	n := binary.BigEndian.Uint64(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.tmp, buf); err != nil {
		return nil, fmt.Errorf("flightrecorder: failed to read slot %d body: %w", i, err)
	}
	return buf, nil
}

// capture walks the ring oldest-first (starting one past the most
// recently written slot) and produces a packed recording at
// r.destination in the configured output format.
func (r *Recorder) capture() error {
	if err := r.tmp.Sync(); err != nil {
		return fmt.Errorf("flightrecorder: failed to flush: %w", err)
	}

	switch r.format {
	case FormatRaw:
		return r.captureRaw()
	default:
		return r.captureParquet()
	}
}

func (r *Recorder) captureRaw() error {
	packed, err := os.Create(r.destination)
	if err != nil {
		return fmt.Errorf("flightrecorder: failed to open destination: %w", err)
	}
	defer packed.Close()

	for offset := uint64(0); offset < r.sizing.SlotCount; offset++ {
		i := r.idx + offset
		if i >= r.sizing.SlotCount {
			i -= r.sizing.SlotCount
		}

		buf, err := r.readSlot(i)
		if err != nil {
			return err
		}

		if _, err := packed.Write(buf); err != nil {
			return fmt.Errorf("flightrecorder: failed to write packed output: %w", err)
		}
	}

	return packed.Sync()
}
