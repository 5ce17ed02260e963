// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package exposition

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// StreamDecoder decodes a sequence of concatenated msgpack-encoded
// Snapshot documents, the format the flight recorder's raw output
// produces (snapshot bodies written back to back with no extra framing,
// since msgpack's own structure makes each document self-delimiting).
type StreamDecoder struct {
	dec *msgpack.Decoder
}

// NewStreamDecoder wraps r for sequential snapshot decoding.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{dec: msgpack.NewDecoder(r)}
}

// Next decodes the next snapshot in the stream, returning io.EOF once the
// underlying reader is exhausted.
func (d *StreamDecoder) Next() (*Snapshot, error) {
	var snap Snapshot
	if err := d.dec.Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
