// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernelmap_test

import (
	"testing"

	"github.com/antimetal/rezolus-agent/internal/kernelmap"
	"github.com/stretchr/testify/assert"
)

func TestBankGeometryNoCachelineSharing(t *testing.T) {
	bankCachelines, bankWidth, totalBytes := kernelmap.BankGeometry(5, 4)

	assert.Equal(t, 1, bankCachelines)
	assert.Equal(t, kernelmap.CountersPerCacheline, bankWidth)
	assert.Equal(t, kernelmap.CachelineSize*4, totalBytes)

	// bank width in bytes must be a whole number of cachelines
	assert.Equal(t, 0, (bankWidth*8)%kernelmap.CachelineSize)
}

func TestBankGeometryRoundsUpToWholeCachelines(t *testing.T) {
	// 9 counters * 8 bytes = 72 bytes, needs 2 cachelines (128 bytes)
	bankCachelines, _, _ := kernelmap.BankGeometry(9, 1)
	assert.Equal(t, 2, bankCachelines)
}

func TestPagesForBuckets(t *testing.T) {
	pages := kernelmap.PagesForBuckets(7424)
	assert.Equal(t, 15, pages)
}
