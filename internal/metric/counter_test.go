// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric_test

import (
	"testing"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	c := metric.NewCounter("cpu/usage", map[string]string{"state": "user"})

	assert.Equal(t, "cpu/usage", c.Name())
	assert.Equal(t, "user", c.Labels()["state"])
	assert.Equal(t, uint64(0), c.Value())

	c.Set(42)
	assert.Equal(t, uint64(42), c.Value())

	c.Set(7)
	assert.Equal(t, uint64(7), c.Value())
}

func TestCounterLabelsAreCopied(t *testing.T) {
	labels := map[string]string{"cpu": "0"}
	c := metric.NewCounter("cpu/cycles", labels)

	labels["cpu"] = "1"
	assert.Equal(t, "0", c.Labels()["cpu"])

	out := c.Labels()
	out["cpu"] = "2"
	assert.Equal(t, "0", c.Labels()["cpu"])
}

func TestCounterGroup(t *testing.T) {
	g := metric.NewCounterGroup("cpu/usage", nil, 4)

	_, ok := g.Get(0)
	assert.False(t, ok)

	g.Set(0, 4, 10)
	g.Set(3, 4, 30)

	v, ok := g.Get(0)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), v)

	v, ok = g.Get(3)
	assert.True(t, ok)
	assert.Equal(t, uint64(30), v)

	loaded := g.Load()
	assert.Equal(t, []uint64{10, 0, 0, 30}, loaded)
}

func TestCounterGroupGrowsPastInitialCapacity(t *testing.T) {
	g := metric.NewCounterGroup("cpu/usage", nil, 2)

	g.Set(5, 2, 99)
	assert.Equal(t, 6, g.Len())

	v, ok := g.Get(5)
	assert.True(t, ok)
	assert.Equal(t, uint64(99), v)
}
