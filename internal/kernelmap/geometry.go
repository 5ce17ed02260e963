// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package kernelmap wraps memory-mapped eBPF counter and histogram maps,
// giving each per-CPU bank of counters a whole number of cachelines so that
// no two CPUs share a cacheline-sized region of the map (avoiding false
// sharing on the write side, which happens inside the kernel).
package kernelmap

import "unsafe"

const (
	// PageSize is the page size assumed for histogram map sizing.
	PageSize = 4096

	// CachelineSize is the assumed CPU cacheline size in bytes.
	CachelineSize = 64

	// CountersPerCacheline is the number of uint64 counters that fit in
	// one cacheline.
	CountersPerCacheline = CachelineSize / 8

	// MaxCPUs bounds the per-CPU bank layout of counter maps. It must
	// stay in sync with the constant baked into the BPF-side map
	// definitions.
	MaxCPUs = 1024

	// HistogramPages is the number of 4KB pages a histogram map with
	// grouping power 7 and max magnitude 64 (7424 buckets) occupies.
	HistogramPages = 15
)

var uint64Size = int(unsafe.Sizeof(uint64(0)))

// wholeCachelines returns the number of cachelines needed to hold n
// uint64 counters.
func wholeCachelines(n int) int {
	if n <= 0 {
		return 1
	}
	return (n*uint64Size + CachelineSize - 1) / CachelineSize
}

// BankGeometry computes the per-CPU bank layout for a counter map holding
// n logical counters across maxCPUs CPUs. bankCachelines is the number of
// cachelines per CPU bank (each bank rounded up to a whole number of
// cachelines so no two CPUs' banks share a cacheline); bankWidth is the
// number of uint64 slots per bank (the stride used when walking the
// mmap'd region per-CPU); totalBytes is the full mmap length.
func BankGeometry(n, maxCPUs int) (bankCachelines, bankWidth, totalBytes int) {
	bankCachelines = wholeCachelines(n)
	bankWidth = bankCachelines * CountersPerCacheline
	totalBytes = bankCachelines * CachelineSize * maxCPUs
	return
}

// PagesForBuckets returns the number of 4KB pages needed to hold the given
// number of uint64 histogram buckets.
func PagesForBuckets(buckets int) int {
	bytes := buckets * uint64Size
	return (bytes + PageSize - 1) / PageSize
}
