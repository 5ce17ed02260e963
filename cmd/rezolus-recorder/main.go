// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command rezolus-recorder samples a running agent's /metrics/binary
// endpoint into a packed recording, either as a fixed-size ring holding
// the most recent -ring-span of snapshots that is written out on SIGINT
// (the flight recorder) or as a single contiguous capture bounded by a
// duration (the ad-hoc recorder).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antimetal/rezolus-agent/internal/adhocrecorder"
	"github.com/antimetal/rezolus-agent/internal/flightrecorder"
	rerrors "github.com/antimetal/rezolus-agent/pkg/errors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// maxRunRetries bounds how many times a retryable sampling failure (the
// target agent briefly unreachable, e.g. during its own restart) restarts
// the capture loop before the recorder gives up.
const maxRunRetries = 10

var (
	url         = flag.String("url", "http://localhost:4242/metrics/binary", "Agent exposition URL to sample")
	destination = flag.String("output", "rezolus.parquet", "Destination path for the packed recording")
	interval    = flag.Duration("interval", time.Second, "Sampling interval")
	duration    = flag.Duration("duration", 0, "Bound the capture to this duration; 0 runs until interrupted (ad-hoc mode only)")
	ring        = flag.Bool("ring", false, "Keep the most recent -ring-span of snapshots in a fixed-size ring and write it out on SIGINT, instead of a single contiguous capture")
	ringSpan    = flag.Duration("ring-span", 10*time.Minute, "Duration of history the ring buffer retains before it wraps (ring mode only)")
	rawFormat   = flag.Bool("raw", false, "Write the packed recording as raw concatenated snapshots instead of parquet")
	verbose     = flag.Bool("verbose", false, "Enable debug-level structured logging")
)

func main() {
	flag.Parse()

	logger := newLogger(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error(err, "recorder exited with an error")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logr.Logger) error {
	client := &http.Client{Timeout: 10 * time.Second}

	capture := runAdhoc
	if *ring {
		capture = runRing
	}

	for attempt := 0; ; attempt++ {
		err := capture(ctx, client, logger)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !rerrors.Retryable(err) || attempt >= maxRunRetries {
			return err
		}

		backoff := time.Duration(attempt+1) * time.Second
		logger.Info("sampling failed, retrying capture", "error", err.Error(), "attempt", attempt+1, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func runRing(ctx context.Context, client *http.Client, logger logr.Logger) error {
	sizing, err := flightrecorder.ProbeAndSize(ctx, client, *url, *interval, *ringSpan)
	if err != nil {
		return fmt.Errorf("sizing ring: %w", err)
	}
	logger.Info("computed ring geometry", "slotSize", sizing.SlotSize, "slotCount", sizing.SlotCount, "probeLatency", sizing.Latency)

	sm := flightrecorder.NewStateMachine()
	recorder, err := flightrecorder.NewRecorder(client, *url, *destination, *interval, outputFormatFlight(), sizing, sm, logger)
	if err != nil {
		return fmt.Errorf("creating flight recorder: %w", err)
	}
	defer recorder.Close()

	// In ring mode SIGINT drives the capture state machine instead of
	// ending the run; only SIGTERM cancels it.
	signals := flightrecorder.NewSignalHandler(sm, logger)
	defer signals.Stop()
	go signals.Run()
	ringCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return recorder.Run(ringCtx)
}

func runAdhoc(ctx context.Context, client *http.Client, logger logr.Logger) error {
	var boundedDuration *time.Duration
	if *duration > 0 {
		boundedDuration = duration
	}

	recorder := adhocrecorder.NewRecorder(client, *url, *destination, *interval, boundedDuration, outputFormatAdhoc(), logger)
	return recorder.Run(ctx)
}

func outputFormatFlight() flightrecorder.OutputFormat {
	if *rawFormat {
		return flightrecorder.FormatRaw
	}
	return flightrecorder.FormatParquet
}

func outputFormatAdhoc() adhocrecorder.OutputFormat {
	if *rawFormat {
		return adhocrecorder.FormatRaw
	}
	return adhocrecorder.FormatParquet
}

func newLogger(verbose bool) logr.Logger {
	var zapLog *zap.Logger
	var err error
	if verbose {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zapLog).WithName("rezolus-recorder")
}
