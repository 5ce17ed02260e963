// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package promql

import (
	"fmt"
	"strconv"
)

var aggregationOps = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true,
	"topk": true, "bottomk": true, "count": true,
}

// Parse compiles a query string into an Expr tree.
func Parse(query string) (Expr, error) {
	p := &parser{lex: newLexer(query)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("promql: unexpected trailing input %q at %d", p.tok.text, p.tok.pos)
	}
	return expr, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind, text string) error {
	if p.tok.kind != kind {
		return fmt.Errorf("promql: expected %q, got %q at %d", text, p.tok.text, p.tok.pos)
	}
	return p.advance()
}

// parseExpr is the lowest-precedence entry point: comparisons bind
// looser than additive arithmetic, which binds looser than
// multiplicative arithmetic. Parenthesized sub-expressions recurse back
// to parseExpr, so depth is tracked implicitly by the call stack rather
// than by scanning for matching brackets in already-flattened text.
func (p *parser) parseExpr() (Expr, error) {
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	lhs, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && isComparisonOp(p.tok.text) {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func (p *parser) parseAdditive() (Expr, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "-", LHS: &NumberLiteral{Value: 0}, RHS: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("promql: invalid number %q: %w", p.tok.text, err)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberLiteral{Value: v}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		name := p.tok.text
		if aggregationOps[name] {
			return p.parseAggregation(name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokLParen {
			return p.parseCall(name)
		}
		return p.parseSelectorTail(name)

	default:
		return nil, fmt.Errorf("promql: unexpected token %q at %d", p.tok.text, p.tok.pos)
	}
}

func (p *parser) parseCall(name string) (Expr, error) {
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var args []Expr
	for p.tok.kind != tokRParen {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return &Call{Name: name, Args: args}, nil
}

// parseAggregation handles sum/avg/min/max/topk/bottomk/count, whose
// "by (labels)" or "without (labels)" grouping clause may appear either
// immediately after the operator name or after the argument list.
func (p *parser) parseAggregation(op string) (Expr, error) {
	if err := p.advance(); err != nil { // consume operator name
		return nil, err
	}

	var grouping *Grouping
	if p.tok.kind == tokIdent && (p.tok.text == "by" || p.tok.text == "without") {
		g, err := p.parseGrouping()
		if err != nil {
			return nil, err
		}
		grouping = g
	}

	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}

	agg := &AggregateExpr{Op: op, Grouping: grouping}

	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokComma {
		// topk(k, expr) / bottomk(k, expr): first argument is the scalar.
		num, ok := first.(*NumberLiteral)
		if !ok {
			return nil, fmt.Errorf("promql: %s expects a numeric first argument", op)
		}
		agg.Param = num.Value
		agg.HasParam = true
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		agg.Expr = expr
	} else {
		agg.Expr = first
	}

	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}

	if grouping == nil && p.tok.kind == tokIdent && (p.tok.text == "by" || p.tok.text == "without") {
		g, err := p.parseGrouping()
		if err != nil {
			return nil, err
		}
		agg.Grouping = g
	}

	return agg, nil
}

func (p *parser) parseGrouping() (*Grouping, error) {
	by := p.tok.text == "by"
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var labels []string
	for p.tok.kind != tokRParen {
		if p.tok.kind != tokIdent {
			return nil, fmt.Errorf("promql: expected label name in grouping clause at %d", p.tok.pos)
		}
		labels = append(labels, p.tok.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return &Grouping{By: by, Labels: labels}, nil
}

// parseSelectorTail finishes parsing a metric selector once its name has
// already been consumed: an optional {matcher,...} set and an optional
// [duration] range-vector suffix.
func (p *parser) parseSelectorTail(name string) (Expr, error) {
	sel := &Selector{Name: name}

	if p.tok.kind == tokLBrace {
		matchers, err := p.parseMatchers()
		if err != nil {
			return nil, err
		}
		sel.Matchers = matchers
	}

	if p.tok.kind == tokLBracket {
		dur, err := p.lex.rawDuration()
		if err != nil {
			return nil, err
		}
		sel.Range = dur
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(tokRBracket, "]"); err != nil {
			return nil, err
		}
	}

	return sel, nil
}

func (p *parser) parseMatchers() ([]LabelMatcher, error) {
	if err := p.expect(tokLBrace, "{"); err != nil {
		return nil, err
	}
	var matchers []LabelMatcher
	for p.tok.kind != tokRBrace {
		if p.tok.kind != tokIdent {
			return nil, fmt.Errorf("promql: expected label name at %d", p.tok.pos)
		}
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokOp {
			return nil, fmt.Errorf("promql: expected match operator at %d", p.tok.pos)
		}
		op, err := matchOpFromText(p.tok.text)
		if err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokString {
			return nil, fmt.Errorf("promql: expected quoted match value at %d", p.tok.pos)
		}
		matchers = append(matchers, LabelMatcher{Name: name, Op: op, Value: p.tok.text})
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(tokRBrace, "}"); err != nil {
		return nil, err
	}
	return matchers, nil
}

func matchOpFromText(s string) (MatchOp, error) {
	switch s {
	case "=":
		return MatchEqual, nil
	case "!=":
		return MatchNotEqual, nil
	case "=~":
		return MatchRegex, nil
	case "!~":
		return MatchNotRegex, nil
	}
	return 0, fmt.Errorf("promql: unknown label match operator %q", s)
}
