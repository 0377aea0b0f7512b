package csql

import (
	"context"
	"strings"
	"testing"

	"github.com/dimagi/casesearch/internal/query"
)

// --- Boolean combination ---

func TestCompileAnd(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "a = '1' and b = '2'"),
		query.Bool{Filter: []query.Filter{
			query.PropertyExact("a", "1"),
			query.PropertyExact("b", "2"),
		}})
}

func TestCompileOr(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "a = '1' or b = '2'"),
		query.Bool{Should: []query.Filter{
			query.PropertyExact("a", "1"),
			query.PropertyExact("b", "2"),
		}})
}

func TestCompileMixedPrecedence(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "a = '1' or b = '2' and c = '3'"),
		query.Bool{Should: []query.Filter{
			query.PropertyExact("a", "1"),
			query.Bool{Filter: []query.Filter{
				query.PropertyExact("b", "2"),
				query.PropertyExact("c", "3"),
			}},
		}})
}

// --- Dispatch errors ---

func TestCompileMalformedQuery(t *testing.T) {
	sc := testContext()
	tests := []string{
		"name ~ 'x'",
		"name = 'unterminated",
		"(name = 'x'",
		"",
	}
	for _, expr := range tests {
		expectCompileError(t, sc, expr, ErrMalformedQuery, "")
	}
}

func TestCompileBarePropertyRejected(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "name", ErrSyntax, "compared to a value")
}

func TestCompileBarePathRejected(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "parent/name", ErrSyntax, "part of a comparison")
}

func TestCompileLiteralRejected(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "'just a string'", ErrSyntax, "boolean expression")
}

func TestCompileDepthGuard(t *testing.T) {
	sc := testContext()
	expr := "name = 'x'"
	for i := 0; i < maxExprDepth+1; i++ {
		expr = "not(" + expr + ")"
	}
	expectCompileError(t, sc, expr, ErrSyntax, "nested too deeply")
}

func TestCompileDeepButAllowedExpression(t *testing.T) {
	sc := testContext()
	expr := "name = 'x'"
	for i := 0; i < 20; i++ {
		expr = "not(" + expr + ")"
	}
	mustCompile(t, sc, expr)
}

func TestErrorCarriesFragment(t *testing.T) {
	sc := testContext()
	_, err := sc.Compile(context.Background(), "a = '1' and age < 'banana'")
	if err == nil {
		t.Fatal("expected error")
	}
	qerr := err.(*QueryError)
	if !strings.Contains(qerr.Fragment, "age < 'banana'") {
		t.Fatalf("expected offending fragment, got %q", qerr.Fragment)
	}
	if strings.Contains(qerr.Fragment, "a = '1' and") {
		t.Fatalf("fragment should name the sub-expression only, got %q", qerr.Fragment)
	}
}
