// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernelmap

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// HistogramTarget receives a bulk bucket-count refresh.
type HistogramTarget interface {
	UpdateFrom(values []uint64) error
}

// HistogramMap wraps a memory-mapped BPF histogram map holding `buckets`
// uint64 bucket counts, rounded up to a whole number of pages.
type HistogramMap struct {
	m       *ebpf.Map
	region  []byte
	buckets int
	target  HistogramTarget
	scratch []uint64
}

// NewHistogramMap mmaps m for the given bucket count and binds it to
// target, which receives every refreshed snapshot.
func NewHistogramMap(m *ebpf.Map, buckets int, target HistogramTarget) (*HistogramMap, error) {
	pages := PagesForBuckets(buckets)
	totalBytes := pages * PageSize

	region, err := unix.Mmap(m.FD(), 0, totalBytes, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("kernelmap: mmap histogram map: %w", err)
	}

	return &HistogramMap{
		m:       m,
		region:  region,
		buckets: buckets,
		target:  target,
		scratch: make([]uint64, buckets),
	}, nil
}

// Refresh reads the current bucket counts and publishes them to the
// bound target. It takes the fast aligned-slice path when the mmap'd
// region is 8-byte aligned and holds at least the expected number of
// uint64s (page padding past the logical bucket count is ignored), and
// falls back to a byte-by-byte little-endian decode otherwise.
func (h *HistogramMap) Refresh() error {
	expectedBytes := h.buckets * uint64Size

	if len(h.region) >= expectedBytes && uintptr(unsafe.Pointer(&h.region[0]))%uintptr(uint64Size) == 0 {
		values := unsafe.Slice((*uint64)(unsafe.Pointer(&h.region[0])), h.buckets)
		copy(h.scratch, values)
	} else {
		for i := 0; i < h.buckets; i++ {
			off := i * uint64Size
			if off+uint64Size > len(h.region) {
				h.scratch[i] = 0
				continue
			}
			h.scratch[i] = binary.LittleEndian.Uint64(h.region[off : off+uint64Size])
		}
	}

	return h.target.UpdateFrom(h.scratch)
}

func (h *HistogramMap) Close() error {
	if h.region == nil {
		return nil
	}
	err := unix.Munmap(h.region)
	h.region = nil
	return err
}
