package csql

import (
	"context"
	"errors"

	"github.com/dimagi/casesearch/internal/csql/parser"
	"github.com/dimagi/casesearch/internal/query"
)

// maxExprDepth bounds expression nesting so adversarial input cannot
// exhaust the stack.
const maxExprDepth = 64

// Compile parses and compiles a CSQL expression into a backend filter.
// Relational predicates issue sub-queries against the case index during
// compilation; ctx bounds those calls.
func (sc *SearchContext) Compile(ctx context.Context, expr string) (query.Filter, error) {
	ast, err := parser.Parse(expr)
	if err != nil {
		var perr *parser.Error
		if errors.As(err, &perr) {
			return nil, &QueryError{
				Kind:     ErrMalformedQuery,
				Message:  perr.Msg,
				Fragment: expr,
			}
		}
		return nil, &QueryError{Kind: ErrMalformedQuery, Message: err.Error(), Fragment: expr}
	}
	sc.ctx = ctx
	sc.depth = 0
	return sc.compileNode(ast)
}

// CompileAST compiles an already-parsed expression tree.
func (sc *SearchContext) CompileAST(ctx context.Context, ast parser.Node) (query.Filter, error) {
	sc.ctx = ctx
	sc.depth = 0
	return sc.compileNode(ast)
}

var comparisonOps = map[string]bool{
	"=": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
}

func unknownOperator(expr *parser.BinaryExpr) error {
	return newErrf(ErrUnknownOperator, expr,
		"unknown operator %q; valid operators are =, !=, <, <=, >, >=, and, or", expr.Op)
}

// compileNode is the recursive dispatcher: boolean combinators recurse,
// comparisons route to the leaf, subcase, or ancestor compiler depending
// on the shape of their left side, and function calls route through the
// function registry or the relational resolver.
func (sc *SearchContext) compileNode(node parser.Node) (query.Filter, error) {
	sc.depth++
	defer func() { sc.depth-- }()
	if sc.depth > maxExprDepth {
		return nil, syntaxErrf(node, "expression is nested too deeply")
	}

	switch n := node.(type) {
	case *parser.BinaryExpr:
		return sc.compileBinary(n)

	case *parser.FuncCall:
		switch n.Name {
		case "ancestor-exists":
			return sc.compileAncestorExists(n)
		case "subcase-exists":
			return sc.compileSubcaseExists(n)
		case "subcase-count":
			return nil, syntaxErrf(n, "subcase-count() must be compared to a number, e.g. subcase-count('host') > 2")
		default:
			return sc.compileFunction(n)
		}

	case *parser.Step:
		return nil, syntaxErrf(n, "a case property must be compared to a value")

	default:
		return nil, syntaxErrf(node, "expected a boolean expression")
	}
}

func (sc *SearchContext) compileBinary(expr *parser.BinaryExpr) (query.Filter, error) {
	switch {
	case expr.Op == "and" || expr.Op == "or":
		left, err := sc.compileNode(expr.Left)
		if err != nil {
			return nil, err
		}
		right, err := sc.compileNode(expr.Right)
		if err != nil {
			return nil, err
		}
		if expr.Op == "and" {
			return query.And(left, right), nil
		}
		return query.Or(left, right), nil

	case expr.Op == "/":
		return nil, syntaxErrf(expr, "a relationship path must be part of a comparison")

	case comparisonOps[expr.Op]:
		if path, ok := expr.Left.(*parser.BinaryExpr); ok && path.Op == "/" {
			return sc.compileImplicitAncestor(expr, path)
		}
		if call, ok := expr.Left.(*parser.FuncCall); ok && call.Name == "subcase-count" {
			return sc.compileSubcaseCount(expr)
		}
		return sc.compileLeaf(expr)

	default:
		return nil, unknownOperator(expr)
	}
}

// compileImplicitAncestor rewrites `a/b/prop op value` into
// ancestor-exists(a/b, prop op value) and resolves it.
func (sc *SearchContext) compileImplicitAncestor(expr *parser.BinaryExpr, path *parser.BinaryExpr) (query.Filter, error) {
	segments, err := pathIdentifiers(path)
	if err != nil {
		return nil, err
	}
	prop := segments[len(segments)-1]
	identifiers := segments[:len(segments)-1]
	filter := &parser.BinaryExpr{
		Op:    expr.Op,
		Left:  &parser.Step{Name: prop},
		Right: expr.Right,
	}
	return sc.resolveAncestors(expr, identifiers, filter)
}
