// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package flightrecorder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// blockSize is the rounding unit for slot sizes; slots are always a
// multiple of 4KB so that each slot's write is page-aligned on common
// filesystems.
const blockSize = 4096

// Sizing holds the computed ring geometry for a recording run.
type Sizing struct {
	// SlotSize is the per-snapshot slot size in bytes, rounded up to a
	// whole number of blockSize blocks with extra headroom for future
	// snapshot growth.
	SlotSize uint64
	// SlotCount is the number of slots the ring holds, covering
	// Duration at Interval plus one.
	SlotCount uint64
	// Latency is the round-trip time of the sizing probe request.
	Latency time.Duration
}

// ProbeAndSize performs one GET against url to measure the exposition
// snapshot's body size and round-trip latency, then computes the slot
// geometry for the given interval and duration. It retries the probe
// request with exponential backoff since the target agent may not have
// finished starting up yet; once a response is obtained, the recorder's
// steady-state write path does not retry.
func ProbeAndSize(ctx context.Context, client *http.Client, url string, interval, duration time.Duration) (Sizing, error) {
	type probeResult struct {
		len     int
		latency time.Duration
	}

	result, err := backoff.Retry(ctx, func() (probeResult, error) {
		start := time.Now()
		resp, err := client.Get(url)
		if err != nil {
			return probeResult{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return probeResult{}, err
		}

		return probeResult{len: len(body), latency: time.Since(start)}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		return Sizing{}, fmt.Errorf("flightrecorder: failed to probe %s: %w", url, err)
	}

	if interval.Microseconds() < result.latency.Microseconds()*2 {
		return Sizing{}, fmt.Errorf(
			"flightrecorder: sampling interval %s is too short for observed latency %s; set interval to at least %s",
			interval, result.latency, 2*result.latency,
		)
	}

	slotSize := (1 + uint64(result.len)*4/blockSize) * blockSize
	slotCount := 1 + uint64(duration.Microseconds())/uint64(interval.Microseconds())

	return Sizing{SlotSize: slotSize, SlotCount: slotCount, Latency: result.latency}, nil
}
