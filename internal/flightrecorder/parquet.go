// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package flightrecorder

import (
	"fmt"
	"os"

	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/parquet-go/parquet-go"
)

// parquetRow is the flattened row shape written to the parquet output.
// Counters, gauges, and histogram buckets are stored as nested maps
// rather than individual columns, since the set of metric names varies
// release to release and a fixed columnar schema would need to be
// regenerated on every probe addition.
type parquetRow struct {
	TimestampUnixNano int64                                   `parquet:"timestamp_unix_nano"`
	Source            string                                  `parquet:"source"`
	Version           string                                  `parquet:"version"`
	Counters          map[string]uint64                       `parquet:"counters"`
	Gauges            map[string]float64                      `parquet:"gauges"`
	Histograms        map[string]exposition.HistogramSnapshot `parquet:"histograms"`
}

// captureParquet walks the ring oldest-first, decodes each msgpack
// snapshot, and writes the packed recording as parquet rows to
// r.destination.
func (r *Recorder) captureParquet() error {
	destination, err := os.Create(r.destination)
	if err != nil {
		return fmt.Errorf("flightrecorder: failed to open destination: %w", err)
	}
	defer destination.Close()

	writer := parquet.NewGenericWriter[parquetRow](destination)

	for offset := uint64(0); offset < r.sizing.SlotCount; offset++ {
		i := r.idx + offset
		if i >= r.sizing.SlotCount {
			i -= r.sizing.SlotCount
		}

		buf, err := r.readSlot(i)
		if err != nil {
			_ = writer.Close()
			return err
		}

		snap, err := exposition.Decode(buf)
		if err != nil {
			r.logger.V(1).Info("skipping unreadable snapshot slot", "index", i, "error", err)
			continue
		}

		row := parquetRow{
			TimestampUnixNano: snap.Timestamp.UnixNano(),
			Source:            snap.Source,
			Version:           snap.Version,
			Counters:          snap.Counters,
			Gauges:            snap.Gauges,
			Histograms:        snap.Histograms,
		}

		if _, err := writer.Write([]parquetRow{row}); err != nil {
			_ = writer.Close()
			return fmt.Errorf("flightrecorder: failed to write parquet row: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("flightrecorder: failed to finalize parquet file: %w", err)
	}

	return nil
}
