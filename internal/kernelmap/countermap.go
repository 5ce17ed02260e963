// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernelmap

import (
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// counterMap wraps a BPF array map that holds a whole number of cachelines
// per CPU bank, memory-mapped so that refreshes only need to read from the
// process' own address space rather than making a syscall per lookup.
type counterMap struct {
	m         *ebpf.Map
	region    []byte
	bankWidth int
}

// newCounterMap mmaps the given map for n logical counters across
// MaxCPUs banks.
func newCounterMap(m *ebpf.Map, n int) (*counterMap, error) {
	_, bankWidth, totalBytes := BankGeometry(n, MaxCPUs)

	region, err := unix.Mmap(m.FD(), 0, totalBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("kernelmap: mmap counter map: %w", err)
	}

	if len(region)%uint64Size != 0 {
		unix.Munmap(region)
		return nil, fmt.Errorf("kernelmap: mmap region %d bytes is not uint64-aligned", len(region))
	}

	return &counterMap{m: m, region: region, bankWidth: bankWidth}, nil
}

// values returns the mmap'd region reinterpreted as a slice of uint64,
// walked per-CPU with stride bankWidth.
func (c *counterMap) values() []uint64 {
	if len(c.region) == 0 {
		return nil
	}
	n := len(c.region) / uint64Size
	return unsafe.Slice((*uint64)(unsafe.Pointer(&c.region[0])), n)
}

func (c *counterMap) Close() error {
	if c.region == nil {
		return nil
	}
	err := unix.Munmap(c.region)
	c.region = nil
	return err
}

// Counters is a set of logical counters backed by a per-CPU padded
// counter map; each refresh aggregates every CPU's bank via wrapping
// addition and publishes the combined value to each target counter.
type Counters struct {
	cm      *counterMap
	targets []CounterTarget
	scratch []uint64
}

// CounterTarget receives an aggregated or per-CPU counter value.
type CounterTarget interface {
	Set(v uint64)
}

// NewCounters creates an aggregated counter reader over m for the given
// ordered targets; the BPF-side map layout must list its per-CPU bank
// entries in the same order as targets.
func NewCounters(m *ebpf.Map, targets []CounterTarget) (*Counters, error) {
	cm, err := newCounterMap(m, len(targets))
	if err != nil {
		return nil, err
	}
	return &Counters{
		cm:      cm,
		targets: targets,
		scratch: make([]uint64, len(targets)),
	}, nil
}

// Refresh sums each CPU's bank into scratch and publishes the combined
// value for every target counter. Overflow wraps, matching the kernel
// side's wrapping per-CPU accumulation; this is intentional, not a bug.
func (c *Counters) Refresh() {
	for i := range c.scratch {
		c.scratch[i] = 0
	}

	values := c.cm.values()
	bankWidth := c.cm.bankWidth

	for cpu := 0; cpu < MaxCPUs; cpu++ {
		base := cpu * bankWidth
		if base+len(c.targets) > len(values) {
			break
		}
		for idx := range c.targets {
			c.scratch[idx] += values[base+idx]
		}
	}

	for idx, target := range c.targets {
		target.Set(c.scratch[idx])
	}
}

func (c *Counters) Close() error {
	return c.cm.Close()
}

// CounterGroupTarget receives a per-CPU value for a given CPU index.
type CounterGroupTarget interface {
	Set(idx, capacity int, v uint64)
}

// CpuCounters is a set of logical counters backed by a per-CPU padded
// counter map that publishes per-CPU values without aggregation.
type CpuCounters struct {
	cm      *counterMap
	targets []CounterGroupTarget
}

func NewCpuCounters(m *ebpf.Map, targets []CounterGroupTarget) (*CpuCounters, error) {
	cm, err := newCounterMap(m, len(targets))
	if err != nil {
		return nil, err
	}
	return &CpuCounters{cm: cm, targets: targets}, nil
}

func (c *CpuCounters) Refresh() {
	values := c.cm.values()
	bankWidth := c.cm.bankWidth

	for cpu := 0; cpu < MaxCPUs; cpu++ {
		base := cpu * bankWidth
		if base+len(c.targets) > len(values) {
			break
		}
		for idx, target := range c.targets {
			target.Set(cpu, MaxCPUs, values[base+idx])
		}
	}
}

func (c *CpuCounters) Close() error {
	return c.cm.Close()
}

// PackedCounters is a set of logical counters backed by a dense,
// non-cacheline-padded map; only non-zero cells are published.
type PackedCounters struct {
	m      *ebpf.Map
	region []byte
	target CounterGroupTarget
	n      int
}

func NewPackedCounters(m *ebpf.Map, n int, target CounterGroupTarget) (*PackedCounters, error) {
	totalBytes := n * uint64Size

	region, err := unix.Mmap(m.FD(), 0, totalBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("kernelmap: mmap packed counter map: %w", err)
	}

	return &PackedCounters{m: m, region: region, target: target, n: n}, nil
}

func (p *PackedCounters) Refresh() {
	if len(p.region) == 0 {
		return
	}
	values := unsafe.Slice((*uint64)(unsafe.Pointer(&p.region[0])), p.n)
	for idx, v := range values {
		if v != 0 {
			p.target.Set(idx, p.n, v)
		}
	}
}

func (p *PackedCounters) Close() error {
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	return err
}
