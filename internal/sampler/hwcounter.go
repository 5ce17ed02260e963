// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampler

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// perf_event_attr's config bitfield packs disabled/inherit/pinned/... as
// single bits in declaration order (see struct perf_event_attr in
// linux/perf_event.h); x/sys/unix exposes the field as a plain uint64
// with no named bit constants, so the bits this package needs are
// computed directly. Neither exclude_hv nor exclude_kernel is set here,
// matching the original implementation's counter groups.
const (
	perfAttrBitDisabled = 1 << 0
	perfAttrBitPinned   = 1 << 2
)

// HWCounter identifies a hardware performance counter a probe family can
// read per CPU. Only the two counters backed by PERF_TYPE_HARDWARE are
// supported; the MSR-backed TSC/APERF/MPERF counters the upstream project
// also reads require PERF_TYPE_MSR support that varies across kernel
// versions and is not exposed by golang.org/x/sys/unix's perf_event_open
// wrapper, so they are left out rather than faked.
type HWCounter int

const (
	HWCycles HWCounter = iota
	HWInstructions
)

func (c HWCounter) config() uint64 {
	switch c {
	case HWInstructions:
		return unix.PERF_COUNT_HW_INSTRUCTIONS
	default:
		return unix.PERF_COUNT_HW_CPU_CYCLES
	}
}

// HWCounterGroup is one CPU's group of hardware performance counters,
// opened with the first counter as the group leader so all counters in
// the group are scheduled onto the PMU together; each counter's fd is
// read separately.
type HWCounterGroup struct {
	cpu  int
	fds  []int
	kind []HWCounter
}

// OpenHWCounterGroup opens one perf_event_open file descriptor per
// requested counter on cpu, the first as the group leader and the rest as
// followers in its group.
func OpenHWCounterGroup(cpu int, counters []HWCounter) (*HWCounterGroup, error) {
	if len(counters) == 0 {
		return nil, fmt.Errorf("sampler: OpenHWCounterGroup requires at least one counter")
	}

	g := &HWCounterGroup{cpu: cpu, kind: counters}
	leaderFd := -1

	for _, counter := range counters {
		attr := &unix.PerfEventAttr{
			Type:   unix.PERF_TYPE_HARDWARE,
			Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
			Config: counter.config(),
			Bits:   perfAttrBitDisabled | perfAttrBitPinned,
		}

		groupFd := leaderFd
		flags := 0
		if groupFd == -1 {
			flags = unix.PERF_FLAG_FD_NO_GROUP
		}

		fd, err := unix.PerfEventOpen(attr, -1, cpu, groupFd, flags)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("sampler: opening hardware counter %v on cpu %d: %w", counter, cpu, err)
		}

		if leaderFd == -1 {
			leaderFd = fd
		}
		g.fds = append(g.fds, fd)
	}

	if err := unix.IoctlSetInt(leaderFd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		g.Close()
		return nil, fmt.Errorf("sampler: enabling hardware counter group on cpu %d: %w", cpu, err)
	}

	return g, nil
}

// Read returns the current raw count for each counter in the group, in
// the same order they were requested in OpenHWCounterGroup.
func (g *HWCounterGroup) Read() ([]uint64, error) {
	out := make([]uint64, len(g.fds))
	buf := make([]byte, 8)
	for i, fd := range g.fds {
		n, err := unix.Read(fd, buf)
		if err != nil {
			return nil, fmt.Errorf("sampler: reading hardware counter fd on cpu %d: %w", g.cpu, err)
		}
		if n != 8 {
			return nil, fmt.Errorf("sampler: short read (%d bytes) from hardware counter fd on cpu %d", n, g.cpu)
		}
		out[i] = binary.LittleEndian.Uint64(buf)
	}
	return out, nil
}

// Close closes every file descriptor the group opened.
func (g *HWCounterGroup) Close() error {
	var firstErr error
	for _, fd := range g.fds {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.fds = nil
	return firstErr
}
