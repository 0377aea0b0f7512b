package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is the interface all AST nodes implement. String renders the node
// back to CSQL form, used when reporting an offending sub-expression.
type Node interface {
	node() // marker method
	String() string
}

// BinaryExpr represents `left op right`. Op is one of the comparison
// operators, "and", "or", or "/" (path step chaining). A path expression
// like parent/host/name parses to a left-associated chain of "/" nodes
// terminating in Steps.
type BinaryExpr struct {
	Op    string
	Left  Node
	Right Node
}

// FuncCall represents a function call: name(arg1, arg2, ...).
type FuncCall struct {
	Name string
	Args []Node
}

// UnaryExpr represents negation of a numeric literal: -expr.
type UnaryExpr struct {
	Op      string // always "-"
	Operand Node
}

// Step represents a single path segment: a case property name, a
// relationship identifier, or an @-prefixed reserved property.
type Step struct {
	Name string
}

// LiteralKind classifies a literal value.
type LiteralKind int

const (
	StringLit LiteralKind = iota
	IntLit
	FloatLit
)

// Literal represents a string or numeric literal.
type Literal struct {
	Kind  LiteralKind
	Str   string  // StringLit value, or raw text for numbers
	Int   int64   // IntLit value
	Float float64 // FloatLit value
}

func (*BinaryExpr) node() {}
func (*FuncCall) node()   {}
func (*UnaryExpr) node()  {}
func (*Step) node()       {}
func (*Literal) node()    {}

func (b *BinaryExpr) String() string {
	if b.Op == "/" {
		return b.Left.String() + "/" + b.Right.String()
	}
	return fmt.Sprintf("%s %s %s", b.Left, b.Op, b.Right)
}

func (f *FuncCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

func (u *UnaryExpr) String() string {
	return u.Op + u.Operand.String()
}

func (s *Step) String() string {
	return s.Name
}

func (l *Literal) String() string {
	switch l.Kind {
	case StringLit:
		return "'" + l.Str + "'"
	case IntLit:
		return strconv.FormatInt(l.Int, 10)
	default:
		return l.Str
	}
}
