package parser

import (
	"fmt"
	"strconv"
)

// Error is a lexer or grammar-level failure with the byte offset of the
// offending token.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// Parse parses a CSQL expression string into an AST.
//
// Grammar, loosest binding first:
//
//	expr := andExpr { "or" andExpr }
//	andExpr := cmpExpr { "and" cmpExpr }
//	cmpExpr := pathExpr [ ("="|"!="|"<"|"<="|">"|">=") pathExpr ]
//	pathExpr := primary { "/" step }
//	primary := "(" expr ")" | "-" primary | literal | ident [ "(" args ")" ]
func Parse(input string) (Node, error) {
	p := &parser{lexer: NewLexer(input)}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokEOF {
		return nil, p.errorf(tok.Pos, "unexpected %s, expected end of expression", tok.Kind)
	}
	return node, nil
}

type parser struct {
	lexer *Lexer
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokOr {
			break
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokAnd {
			break
		}
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

// parseComparison parses at most one comparison; comparisons do not chain.
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if !isComparisonOp(tok.Kind) {
		return left, nil
	}
	p.advance()
	right, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: tok.Lit, Left: left, Right: right}, nil
}

// parsePath parses "/"-chained steps, left-associated.
func (p *parser) parsePath() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokSlash {
			break
		}
		p.advance()
		tok, err = p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokIdent {
			return nil, p.errorf(tok.Pos, "expected a property name after '/', got %s", tok.Kind)
		}
		p.advance()
		left = &BinaryExpr{Op: "/", Left: left, Right: &Step{Name: tok.Lit}}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}

	switch tok.Kind {
	case TokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case TokMinus:
		p.advance()
		operand, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Operand: operand}, nil

	case TokString:
		p.advance()
		return &Literal{Kind: StringLit, Str: tok.Lit}, nil

	case TokNumber:
		p.advance()
		return parseNumber(tok)

	case TokIdent:
		return p.parseStepOrCall()

	default:
		return nil, p.errorf(tok.Pos, "unexpected %s, expected expression", tok.Kind)
	}
}

// parseStepOrCall handles `ident(args...)` or a bare property step.
func (p *parser) parseStepOrCall() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	p.advance()
	name := tok.Lit

	next, err := p.peek()
	if err != nil {
		return nil, err
	}
	if next.Kind != TokLParen {
		return &Step{Name: name}, nil
	}

	p.advance() // consume (
	var args []Node
	for {
		tok, err = p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokRParen {
			break
		}
		if len(args) > 0 {
			if err := p.expect(TokComma); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.advance() // consume )

	return &FuncCall{Name: name, Args: args}, nil
}

func parseNumber(tok Token) (Node, error) {
	if n, err := strconv.ParseInt(tok.Lit, 10, 64); err == nil {
		return &Literal{Kind: IntLit, Str: tok.Lit, Int: n}, nil
	}
	f, err := strconv.ParseFloat(tok.Lit, 64)
	if err != nil {
		return nil, &Error{Pos: tok.Pos, Msg: fmt.Sprintf("invalid number %q", tok.Lit)}
	}
	return &Literal{Kind: FloatLit, Str: tok.Lit, Float: f}, nil
}

func isComparisonOp(k TokenKind) bool {
	switch k {
	case TokEq, TokNeq, TokGt, TokGte, TokLt, TokLte:
		return true
	}
	return false
}

// --- Helpers ---

func (p *parser) peek() (Token, error) {
	return p.lexer.Peek()
}

func (p *parser) advance() {
	p.lexer.Next() //nolint:errcheck
}

func (p *parser) expect(kind TokenKind) error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	if tok.Kind != kind {
		return p.errorf(tok.Pos, "expected %s, got %s", kind, tok.Kind)
	}
	return nil
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
