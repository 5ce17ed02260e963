// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernelmap

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// WriteValues mmaps m writable for exactly len(values)*8 bytes and writes
// values little-endian, then unmaps. It is used for one-shot userspace-to-
// kernel lookup tables (e.g. populating a syscall-class index) rather than
// for ongoing counter publication.
func WriteValues(m *ebpf.Map, values []uint64) error {
	totalBytes := len(values) * uint64Size

	region, err := unix.Mmap(m.FD(), 0, totalBytes, unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("kernelmap: mmap map for write: %w", err)
	}
	defer unix.Munmap(region)

	for i, v := range values {
		off := i * uint64Size
		binary.LittleEndian.PutUint64(region[off:off+uint64Size], v)
	}

	return nil
}
