// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package promql

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/antimetal/rezolus-agent/internal/tsdb"
)

// ResultSeries is one labeled series produced by evaluating a query.
type ResultSeries struct {
	Labels     tsdb.Labels
	Timestamps []int64
	Values     []float64
}

// Result is the outcome of evaluating an expression: a set of series,
// matching the documented matrix-valued query result shape. A query that
// reduces to a single scalar is represented as one series with empty
// labels.
type Result struct {
	Series []ResultSeries
}

// windowCollection restricts each series in c to the samples falling
// within the last window of that series' own span (its most recent
// timestamp minus window through its most recent timestamp), matching a
// range-vector selector's [d] suffix. Each series is windowed against
// its own last timestamp rather than a shared query time, since Eval has
// no notion of "now" beyond the data itself.
func windowCollection(c *tsdb.Collection, window time.Duration) *tsdb.Collection {
	cutoff := window.Nanoseconds()
	out := &tsdb.Collection{Series: make([]*tsdb.Series, len(c.Series))}
	for i, s := range c.Series {
		windowed := &tsdb.Series{Labels: s.Labels}
		if len(s.Timestamps) > 0 {
			start := s.Timestamps[len(s.Timestamps)-1] - cutoff
			for j, ts := range s.Timestamps {
				if ts < start {
					continue
				}
				windowed.Timestamps = append(windowed.Timestamps, ts)
				windowed.Values = append(windowed.Values, s.Values[j])
			}
		}
		out.Series[i] = windowed
	}
	return out
}

func fromCollection(c *tsdb.Collection) Result {
	out := Result{Series: make([]ResultSeries, len(c.Series))}
	for i, s := range c.Series {
		out.Series[i] = ResultSeries{Labels: s.Labels, Timestamps: s.Timestamps, Values: s.Values}
	}
	return out
}

// Eval evaluates expr against db. A selector naming a metric that db does
// not hold yields an empty Result, not an error.
func Eval(expr Expr, db *tsdb.Tsdb) (Result, error) {
	switch e := expr.(type) {
	case *NumberLiteral:
		return Result{Series: []ResultSeries{{Values: []float64{e.Value}}}}, nil

	case *Selector:
		return evalSelector(e, db)

	case *Call:
		return evalCall(e, db)

	case *AggregateExpr:
		return evalAggregate(e, db)

	case *BinaryExpr:
		return evalBinary(e, db)

	default:
		return Result{}, fmt.Errorf("promql: unsupported expression type %T", expr)
	}
}

func evalSelector(sel *Selector, db *tsdb.Tsdb) (Result, error) {
	filter, err := compileMatchers(sel.Matchers)
	if err != nil {
		return Result{}, err
	}

	if coll, ok := db.Counters(sel.Name, filter); ok {
		return fromCollection(coll.Untyped()), nil
	}
	if coll, ok := db.Gauges(sel.Name, filter); ok {
		return fromCollection(coll.Untyped()), nil
	}
	return Result{}, nil
}

func evalCall(call *Call, db *tsdb.Tsdb) (Result, error) {
	switch call.Name {
	case "rate", "irate":
		if len(call.Args) != 1 {
			return Result{}, fmt.Errorf("promql: %s takes exactly one argument", call.Name)
		}
		sel, ok := call.Args[0].(*Selector)
		if !ok {
			return Result{}, fmt.Errorf("promql: %s argument must be a metric selector", call.Name)
		}
		filter, err := compileMatchers(sel.Matchers)
		if err != nil {
			return Result{}, err
		}
		coll, ok := db.Counters(sel.Name, filter)
		if !ok {
			return Result{}, nil
		}
		if sel.Range != "" {
			window, err := time.ParseDuration(sel.Range)
			if err != nil {
				return Result{}, fmt.Errorf("promql: invalid range duration %q: %w", sel.Range, err)
			}
			coll = windowCollection(coll, window)
		}
		if call.Name == "rate" {
			return fromCollection(coll.AverageRate()), nil
		}
		return fromCollection(coll.Rate()), nil

	case "histogram_quantile":
		if len(call.Args) != 2 {
			return Result{}, fmt.Errorf("promql: histogram_quantile takes exactly two arguments")
		}
		q, ok := call.Args[0].(*NumberLiteral)
		if !ok {
			return Result{}, fmt.Errorf("promql: histogram_quantile's first argument must be numeric")
		}
		sel, ok := call.Args[1].(*Selector)
		if !ok {
			return Result{}, fmt.Errorf("promql: histogram_quantile's second argument must be a metric selector")
		}
		filter, err := compileMatchers(sel.Matchers)
		if err != nil {
			return Result{}, err
		}
		series, err := db.Percentiles(sel.Name, filter, []float64{q.Value})
		if err != nil {
			return Result{}, err
		}
		if len(series) != 1 {
			return Result{}, fmt.Errorf("promql: histogram_quantile produced no series for %q", sel.Name)
		}
		s := series[0]
		return Result{Series: []ResultSeries{{Labels: s.Labels, Timestamps: s.Timestamps, Values: s.Values}}}, nil

	default:
		return Result{}, fmt.Errorf("promql: unknown function %q", call.Name)
	}
}

func evalAggregate(agg *AggregateExpr, db *tsdb.Tsdb) (Result, error) {
	inner, err := Eval(agg.Expr, db)
	if err != nil {
		return Result{}, err
	}

	groups := groupSeries(inner.Series, agg.Grouping)

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := Result{Series: make([]ResultSeries, 0, len(groups))}
	for _, k := range keys {
		group := groups[k]
		reduced, err := reduceGroup(agg.Op, group, agg.Param, agg.HasParam)
		if err != nil {
			return Result{}, err
		}
		out.Series = append(out.Series, reduced...)
	}
	return out, nil
}

// groupSeries partitions series by their grouping-clause label subset,
// returning a canonical key string per group. A nil Grouping collapses
// everything into a single group, matching sum(x) with no "by"/"without".
func groupSeries(series []ResultSeries, grouping *Grouping) map[string][]ResultSeries {
	groups := map[string][]ResultSeries{}
	for _, s := range series {
		key := groupKey(s.Labels, grouping)
		groups[key] = append(groups[key], s)
	}
	return groups
}

func groupKey(labels tsdb.Labels, grouping *Grouping) string {
	if grouping == nil {
		return ""
	}

	var included tsdb.Labels
	if grouping.By {
		included = tsdb.Labels{}
		for _, name := range grouping.Labels {
			if v, ok := labels[name]; ok {
				included[name] = v
			}
		}
	} else {
		included = tsdb.Labels{}
		excluded := map[string]bool{}
		for _, name := range grouping.Labels {
			excluded[name] = true
		}
		for k, v := range labels {
			if !excluded[k] {
				included[k] = v
			}
		}
	}

	keys := make([]string, 0, len(included))
	for k := range included {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := ""
	for _, k := range keys {
		key += k + "=" + included[k] + ","
	}
	return key
}

func reduceGroup(op string, group []ResultSeries, param float64, hasParam bool) ([]ResultSeries, error) {
	switch op {
	case "sum", "avg", "min", "max", "count":
		return []ResultSeries{reduceByTimestamp(op, group)}, nil
	case "topk", "bottomk":
		if !hasParam {
			return nil, fmt.Errorf("promql: %s requires a k argument", op)
		}
		return topKBottomK(op, group, int(param)), nil
	default:
		return nil, fmt.Errorf("promql: unknown aggregation %q", op)
	}
}

func reduceByTimestamp(op string, group []ResultSeries) ResultSeries {
	byTs := map[int64][]float64{}
	for _, s := range group {
		for i, ts := range s.Timestamps {
			byTs[ts] = append(byTs[ts], s.Values[i])
		}
	}

	timestamps := make([]int64, 0, len(byTs))
	for ts := range byTs {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	values := make([]float64, len(timestamps))
	for i, ts := range timestamps {
		values[i] = reduceValues(op, byTs[ts])
	}
	return ResultSeries{Timestamps: timestamps, Values: values}
}

func reduceValues(op string, values []float64) float64 {
	switch op {
	case "sum":
		var total float64
		for _, v := range values {
			total += v
		}
		return total
	case "avg":
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	case "min":
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case "count":
		return float64(len(values))
	}
	return 0
}

// topKBottomK ranks series by aggregated magnitude (the sum of each
// series' values over the evaluated range) and keeps the top/bottom k,
// per the documented "ranked by aggregated magnitude" semantics rather
// than a single instantaneous point.
func topKBottomK(op string, group []ResultSeries, k int) []ResultSeries {
	type ranked struct {
		series    ResultSeries
		magnitude float64
	}
	rs := make([]ranked, 0, len(group))
	for _, s := range group {
		if len(s.Values) == 0 {
			continue
		}
		var sum float64
		for _, v := range s.Values {
			sum += v
		}
		rs = append(rs, ranked{series: s, magnitude: sum})
	}

	sort.Slice(rs, func(i, j int) bool {
		if op == "topk" {
			return rs[i].magnitude > rs[j].magnitude
		}
		return rs[i].magnitude < rs[j].magnitude
	})

	if k > len(rs) {
		k = len(rs)
	}
	out := make([]ResultSeries, k)
	for i := 0; i < k; i++ {
		out[i] = rs[i].series
	}
	return out
}

func evalBinary(bin *BinaryExpr, db *tsdb.Tsdb) (Result, error) {
	lhs, err := Eval(bin.LHS, db)
	if err != nil {
		return Result{}, err
	}
	rhs, err := Eval(bin.RHS, db)
	if err != nil {
		return Result{}, err
	}

	apply, err := binaryFunc(bin.Op)
	if err != nil {
		return Result{}, err
	}

	// a scalar (single series, no labels) broadcasts against every series
	// on the other side.
	if isScalarResult(lhs) && !isScalarResult(rhs) {
		return broadcastScalar(lhs.Series[0], rhs, apply, true), nil
	}
	if isScalarResult(rhs) && !isScalarResult(lhs) {
		return broadcastScalar(rhs.Series[0], lhs, apply, false), nil
	}

	// otherwise join on exact label equality, matching the inner-join
	// resolution documented for matrix/matrix arithmetic.
	out := Result{}
	for _, l := range lhs.Series {
		for _, r := range rhs.Series {
			if !l.Labels.Equal(r.Labels) {
				continue
			}
			out.Series = append(out.Series, combineSeries(l, r, apply))
		}
	}
	return out, nil
}

func isScalarResult(r Result) bool {
	return len(r.Series) == 1 && len(r.Series[0].Labels) == 0 && len(r.Series[0].Values) == 1
}

func broadcastScalar(scalar ResultSeries, other Result, apply func(a, b float64) float64, scalarFirst bool) Result {
	out := Result{Series: make([]ResultSeries, len(other.Series))}
	for i, s := range other.Series {
		values := make([]float64, len(s.Values))
		for j, v := range s.Values {
			if scalarFirst {
				values[j] = apply(scalar.Values[0], v)
			} else {
				values[j] = apply(v, scalar.Values[0])
			}
		}
		out.Series[i] = ResultSeries{Labels: s.Labels, Timestamps: s.Timestamps, Values: values}
	}
	return out
}

// combineSeries aligns two series by timestamp, keeping only points that
// appear in both, matching the inner-join label-equality resolution.
func combineSeries(l, r ResultSeries, apply func(a, b float64) float64) ResultSeries {
	rIdx := map[int64]float64{}
	for i, ts := range r.Timestamps {
		rIdx[ts] = r.Values[i]
	}

	out := ResultSeries{Labels: l.Labels}
	for i, ts := range l.Timestamps {
		rv, ok := rIdx[ts]
		if !ok {
			continue
		}
		out.Timestamps = append(out.Timestamps, ts)
		out.Values = append(out.Values, apply(l.Values[i], rv))
	}
	return out
}

func binaryFunc(op string) (func(a, b float64) float64, error) {
	switch op {
	case "+":
		return func(a, b float64) float64 { return a + b }, nil
	case "-":
		return func(a, b float64) float64 { return a - b }, nil
	case "*":
		return func(a, b float64) float64 { return a * b }, nil
	case "/":
		return func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		}, nil
	case "%":
		return func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			r := a - b*float64(int64(a/b))
			return r
		}, nil
	case "==":
		return boolOp(func(a, b float64) bool { return a == b }), nil
	case "!=":
		return boolOp(func(a, b float64) bool { return a != b }), nil
	case "<":
		return boolOp(func(a, b float64) bool { return a < b }), nil
	case "<=":
		return boolOp(func(a, b float64) bool { return a <= b }), nil
	case ">":
		return boolOp(func(a, b float64) bool { return a > b }), nil
	case ">=":
		return boolOp(func(a, b float64) bool { return a >= b }), nil
	}
	return nil, fmt.Errorf("promql: unsupported binary operator %q", op)
}

func boolOp(cmp func(a, b float64) bool) func(a, b float64) float64 {
	return func(a, b float64) float64 {
		if cmp(a, b) {
			return 1
		}
		return 0
	}
}

// compiledMatcher is a tsdb.LabelFilter built from a selector's parsed
// label matchers.
type compiledMatcher struct {
	matchers []compiledOne
}

type compiledOne struct {
	name string
	op   MatchOp
	re   *regexp.Regexp
	val  string
}

func compileMatchers(matchers []LabelMatcher) (tsdb.LabelFilter, error) {
	if len(matchers) == 0 {
		return tsdb.MatchAll, nil
	}

	compiled := make([]compiledOne, len(matchers))
	for i, m := range matchers {
		c := compiledOne{name: m.Name, op: m.Op, val: m.Value}
		if m.Op == MatchRegex || m.Op == MatchNotRegex {
			re, err := regexp.Compile("^(?:" + m.Value + ")$")
			if err != nil {
				return nil, fmt.Errorf("promql: invalid regex for label %q: %w", m.Name, err)
			}
			c.re = re
		}
		compiled[i] = c
	}
	return &compiledMatcher{matchers: compiled}, nil
}

func (m *compiledMatcher) Matches(labels tsdb.Labels) bool {
	for _, c := range m.matchers {
		v := labels[c.name]
		switch c.op {
		case MatchEqual:
			if v != c.val {
				return false
			}
		case MatchNotEqual:
			if v == c.val {
				return false
			}
		case MatchRegex:
			if !c.re.MatchString(v) {
				return false
			}
		case MatchNotRegex:
			if c.re.MatchString(v) {
				return false
			}
		}
	}
	return true
}
