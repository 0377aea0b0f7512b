package parser

import "fmt"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF    TokenKind = iota
	TokLParen           // (
	TokRParen           // )
	TokComma            // ,
	TokSlash            // /
	TokMinus            // -
	TokEq               // =
	TokNeq              // !=
	TokGt               // >
	TokGte              // >=
	TokLt               // <
	TokLte              // <=
	TokIdent            // identifier / property name
	TokString           // 'string literal' or "string literal"
	TokNumber           // 42, 3.14
	TokAnd              // and
	TokOr               // or
)

// Token is a single lexical token produced by the lexer.
type Token struct {
	Kind TokenKind
	Lit  string // raw text of the token
	Pos  int    // byte offset in input
}

func (t Token) String() string {
	if t.Lit != "" {
		return fmt.Sprintf("%s(%q)", t.Kind, t.Lit)
	}
	return t.Kind.String()
}

var kindNames = map[TokenKind]string{
	TokEOF:    "EOF",
	TokLParen: "(",
	TokRParen: ")",
	TokComma:  ",",
	TokSlash:  "/",
	TokMinus:  "-",
	TokEq:     "=",
	TokNeq:    "!=",
	TokGt:     ">",
	TokGte:    ">=",
	TokLt:     "<",
	TokLte:    "<=",
	TokIdent:  "identifier",
	TokString: "string",
	TokNumber: "number",
	TokAnd:    "and",
	TokOr:     "or",
}

func (k TokenKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"and": TokAnd,
	"or":  TokOr,
}
