// Package csql compiles case-search query language (CSQL) expressions and
// flat criteria dictionaries into storage-agnostic search filters.
package csql

import (
	"fmt"

	"github.com/dimagi/casesearch/internal/csql/parser"
)

// ErrorKind classifies a compile-time failure. The set is closed; callers
// translate kinds into user-facing responses.
type ErrorKind int

const (
	// ErrSyntax: AST shape does not match an expected signature (wrong
	// arity, wrong argument type).
	ErrSyntax ErrorKind = iota
	// ErrUnknownOperator: operator not in the supported set.
	ErrUnknownOperator
	// ErrUnknownFunction: function name not in the supported set.
	ErrUnknownFunction
	// ErrCoercion: a literal or function result could not be coerced to
	// the expected type.
	ErrCoercion
	// ErrSelfReference: the right-hand side of a comparison is a property
	// reference rather than a literal or function.
	ErrSelfReference
	// ErrCombination: a structurally valid but semantically disallowed
	// nesting, e.g. subcase predicates inside an ancestor-exists filter.
	ErrCombination
	// ErrCardinality: a related-case lookup exceeded the configured cap;
	// aborts the whole compile.
	ErrCardinality
	// ErrMalformedQuery: the expression failed to lex or parse.
	ErrMalformedQuery
)

var kindLabels = map[ErrorKind]string{
	ErrSyntax:          "syntax",
	ErrUnknownOperator: "unknown operator",
	ErrUnknownFunction: "unknown function",
	ErrCoercion:        "value coercion",
	ErrSelfReference:   "self reference",
	ErrCombination:     "unsupported combination",
	ErrCardinality:     "cardinality exceeded",
	ErrMalformedQuery:  "malformed query",
}

// QueryError is the structured error surfaced for every compile failure.
// Fragment, when set, is the serialized sub-expression that caused the
// error, suitable for showing to the user authoring the query.
type QueryError struct {
	Kind     ErrorKind
	Message  string
	Fragment string
}

func (e *QueryError) Error() string {
	if e.Fragment == "" {
		return e.Message
	}
	return fmt.Sprintf("%s in %q", e.Message, e.Fragment)
}

// KindLabel returns a short human-readable label for the error kind.
func (e *QueryError) KindLabel() string {
	return kindLabels[e.Kind]
}

func newErrf(kind ErrorKind, node parser.Node, format string, args ...any) *QueryError {
	frag := ""
	if node != nil {
		frag = node.String()
	}
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...), Fragment: frag}
}

func syntaxErrf(node parser.Node, format string, args ...any) *QueryError {
	return newErrf(ErrSyntax, node, format, args...)
}

func coercionErrf(node parser.Node, format string, args ...any) *QueryError {
	return newErrf(ErrCoercion, node, format, args...)
}

// tooManyRelatedCases is raised when a relational sub-query would touch
// more cases than the configured cap allows. A partial result would be
// silently wrong, so the entire compile is aborted.
func tooManyRelatedCases(node parser.Node) *QueryError {
	return newErrf(ErrCardinality, node,
		"related case lookup returned too many cases")
}
