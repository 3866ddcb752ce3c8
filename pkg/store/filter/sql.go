package filter

import (
	"fmt"
	"strings"
)

var opSQL = map[op]string{
	opEq: "=",
	opNe: "<>",
	opLt: "<",
	opLe: "<=",
	opGt: ">",
	opGe: ">=",
}

// CompileSQL renders the expression as a predicate over a JSONB metadata
// column, with placeholders numbered from argIndex. Comparisons are
// wrapped in CASE so that a missing or differently-typed field yields
// false rather than NULL, keeping NOT consistent with Eval.
func CompileSQL(e Expr, column string, argIndex int) (string, []interface{}, error) {
	c := &sqlCompiler{column: column, next: argIndex}
	sql, err := c.compile(e)
	if err != nil {
		return "", nil, err
	}
	return sql, c.args, nil
}

type sqlCompiler struct {
	column string
	next   int
	args   []interface{}
}

func (c *sqlCompiler) placeholder(v interface{}) string {
	c.args = append(c.args, v)
	p := fmt.Sprintf("$%d", c.next)
	c.next++
	return p
}

func (c *sqlCompiler) compile(e Expr) (string, error) {
	switch node := e.(type) {
	case *cmpExpr:
		return c.compileCmp(node), nil
	case *andExpr:
		l, err := c.compile(node.l)
		if err != nil {
			return "", err
		}
		r, err := c.compile(node.r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s AND %s)", l, r), nil
	case *orExpr:
		l, err := c.compile(node.l)
		if err != nil {
			return "", err
		}
		r, err := c.compile(node.r)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s OR %s)", l, r), nil
	case *notExpr:
		child, err := c.compile(node.child)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", child), nil
	}
	return "", fmt.Errorf("%w: unsupported expression node %T", ErrInvalid, e)
}

func (c *sqlCompiler) compileCmp(e *cmpExpr) string {
	// The key placeholder needs an explicit ::text cast: -> and ->> are
	// overloaded on integer and text operands.
	field := c.placeholder(e.field) + "::text"
	operator := opSQL[e.op]

	var b strings.Builder
	switch e.lit.kind {
	case litString:
		fmt.Fprintf(&b, "CASE WHEN jsonb_typeof(%s->%s) = 'string' THEN %s->>%s %s %s ELSE false END",
			c.column, field, c.column, field, operator, c.placeholder(e.lit.s))
	case litNumber:
		fmt.Fprintf(&b, "CASE WHEN jsonb_typeof(%s->%s) = 'number' THEN (%s->>%s)::numeric %s %s ELSE false END",
			c.column, field, c.column, field, operator, c.placeholder(e.lit.n))
	case litBool:
		fmt.Fprintf(&b, "CASE WHEN jsonb_typeof(%s->%s) = 'boolean' THEN (%s->>%s)::boolean %s %s ELSE false END",
			c.column, field, c.column, field, operator, c.placeholder(e.lit.b))
	}
	return b.String()
}
