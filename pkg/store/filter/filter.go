// Package filter implements the metadata predicate language accepted by
// search requests. An expression compares metadata fields with literals:
//
//	location == 'North Pole' && (year >= 1995 || draft != true)
//
// Operators == != < <= > >= compare a field against a quoted string, a
// number or true/false; predicates combine with &&, || and ! and group
// with parentheses. A comparison only matches when the field is present
// and holds a value of the literal's kind; a record lacking the field
// fails every comparison on it, != included.
package filter

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalid wraps every lex and parse failure.
var ErrInvalid = errors.New("invalid filter expression")

// Expr is a parsed predicate that can be evaluated against record
// metadata in memory or compiled to SQL.
type Expr interface {
	Eval(meta map[string]interface{}) bool
}

type op int

const (
	opEq op = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

var opNames = map[string]op{
	"==": opEq,
	"!=": opNe,
	"<":  opLt,
	"<=": opLe,
	">":  opGt,
	">=": opGe,
}

type litKind int

const (
	litString litKind = iota
	litNumber
	litBool
)

type literal struct {
	kind litKind
	s    string
	n    float64
	b    bool
}

type cmpExpr struct {
	field string
	op    op
	lit   literal
}

type andExpr struct{ l, r Expr }

type orExpr struct{ l, r Expr }

type notExpr struct{ child Expr }

// Parse turns an expression string into an evaluable predicate. The empty
// string is rejected; callers treat "no filter" as the absence of an
// expression, not as an empty one.
func Parse(input string) (Expr, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalid, tok.text, tok.pos)
	}
	return expr, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	if tok.kind == tokLParen {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at offset %d", ErrInvalid, closing.pos)
		}
		return expr, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	field := p.next()
	if field.kind != tokIdent {
		return nil, fmt.Errorf("%w: expected field name at offset %d", ErrInvalid, field.pos)
	}
	if field.text == "true" || field.text == "false" {
		return nil, fmt.Errorf("%w: %s is not a field name at offset %d", ErrInvalid, field.text, field.pos)
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, fmt.Errorf("%w: expected comparison operator after %q at offset %d", ErrInvalid, field.text, opTok.pos)
	}
	operator := opNames[opTok.text]

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if lit.kind == litBool && operator != opEq && operator != opNe {
		return nil, fmt.Errorf("%w: booleans only support == and != at offset %d", ErrInvalid, opTok.pos)
	}
	return &cmpExpr{field: field.text, op: operator, lit: lit}, nil
}

func (p *parser) parseLiteral() (literal, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return literal{kind: litString, s: tok.text}, nil
	case tokNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return literal{}, fmt.Errorf("%w: malformed number %q at offset %d", ErrInvalid, tok.text, tok.pos)
		}
		return literal{kind: litNumber, n: n}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return literal{kind: litBool, b: true}, nil
		case "false":
			return literal{kind: litBool, b: false}, nil
		}
	}
	return literal{}, fmt.Errorf("%w: expected literal at offset %d", ErrInvalid, tok.pos)
}

func (e *cmpExpr) Eval(meta map[string]interface{}) bool {
	raw, ok := meta[e.field]
	if !ok {
		return false
	}
	switch e.lit.kind {
	case litString:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		return compareStrings(e.op, s, e.lit.s)
	case litNumber:
		n, ok := toFloat(raw)
		if !ok {
			return false
		}
		return compareFloats(e.op, n, e.lit.n)
	case litBool:
		b, ok := raw.(bool)
		if !ok {
			return false
		}
		if e.op == opEq {
			return b == e.lit.b
		}
		return b != e.lit.b
	}
	return false
}

func (e *andExpr) Eval(meta map[string]interface{}) bool {
	return e.l.Eval(meta) && e.r.Eval(meta)
}

func (e *orExpr) Eval(meta map[string]interface{}) bool {
	return e.l.Eval(meta) || e.r.Eval(meta)
}

func (e *notExpr) Eval(meta map[string]interface{}) bool {
	return !e.child.Eval(meta)
}

func compareStrings(operator op, a, b string) bool {
	switch operator {
	case opEq:
		return a == b
	case opNe:
		return a != b
	case opLt:
		return a < b
	case opLe:
		return a <= b
	case opGt:
		return a > b
	case opGe:
		return a >= b
	}
	return false
}

func compareFloats(operator op, a, b float64) bool {
	switch operator {
	case opEq:
		return a == b
	case opNe:
		return a != b
	case opLt:
		return a < b
	case opLe:
		return a <= b
	case opGt:
		return a > b
	case opGe:
		return a >= b
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
