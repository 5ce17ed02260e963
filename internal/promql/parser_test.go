// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package promql_test

import (
	"testing"

	"github.com/antimetal/rezolus-agent/internal/promql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelector(t *testing.T) {
	expr, err := promql.Parse(`cpu_usage{state="user"}`)
	require.NoError(t, err)

	sel, ok := expr.(*promql.Selector)
	require.True(t, ok)
	assert.Equal(t, "cpu_usage", sel.Name)
	require.Len(t, sel.Matchers, 1)
	assert.Equal(t, "state", sel.Matchers[0].Name)
	assert.Equal(t, promql.MatchEqual, sel.Matchers[0].Op)
	assert.Equal(t, "user", sel.Matchers[0].Value)
}

func TestParseRangeSelector(t *testing.T) {
	expr, err := promql.Parse(`rate(cpu_usage[5m])`)
	require.NoError(t, err)

	call, ok := expr.(*promql.Call)
	require.True(t, ok)
	assert.Equal(t, "rate", call.Name)
	require.Len(t, call.Args, 1)

	sel, ok := call.Args[0].(*promql.Selector)
	require.True(t, ok)
	assert.Equal(t, "5m", sel.Range)
}

func TestParseArithmeticRespectsParens(t *testing.T) {
	expr, err := promql.Parse(`avg(sum(cpu_usage) / 1e9)`)
	require.NoError(t, err)

	outer, ok := expr.(*promql.AggregateExpr)
	require.True(t, ok)
	assert.Equal(t, "avg", outer.Op)

	bin, ok := outer.Expr.(*promql.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "/", bin.Op)

	inner, ok := bin.LHS.(*promql.AggregateExpr)
	require.True(t, ok)
	assert.Equal(t, "sum", inner.Op)

	num, ok := bin.RHS.(*promql.NumberLiteral)
	require.True(t, ok)
	assert.InDelta(t, 1e9, num.Value, 1)
}

func TestParsePrecedenceMultiplicativeBeforeAdditive(t *testing.T) {
	expr, err := promql.Parse(`cpu_usage + memory_usage * 2`)
	require.NoError(t, err)

	bin, ok := expr.(*promql.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", bin.Op)

	rhs, ok := bin.RHS.(*promql.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "*", rhs.Op)
}

func TestParseTopK(t *testing.T) {
	expr, err := promql.Parse(`topk(3, cpu_usage)`)
	require.NoError(t, err)

	agg, ok := expr.(*promql.AggregateExpr)
	require.True(t, ok)
	assert.Equal(t, "topk", agg.Op)
	require.True(t, agg.HasParam)
	assert.Equal(t, 3.0, agg.Param)
}

func TestParseSumByGrouping(t *testing.T) {
	expr, err := promql.Parse(`sum by (cpu) (cpu_usage)`)
	require.NoError(t, err)

	agg, ok := expr.(*promql.AggregateExpr)
	require.True(t, ok)
	require.NotNil(t, agg.Grouping)
	assert.True(t, agg.Grouping.By)
	assert.Equal(t, []string{"cpu"}, agg.Grouping.Labels)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := promql.Parse(`cpu_usage)`)
	assert.Error(t, err)
}
