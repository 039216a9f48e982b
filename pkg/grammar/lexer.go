// Package grammar tokenizes and parses the call syntax oracles use for
// actions and verdicts, e.g. click(point='<point>100 200</point>').
package grammar

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies a lexical token
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIllegal
	TokenIdent
	TokenString
	TokenNumber
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenEquals
)

// String returns the string representation of TokenKind
func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of input"
	case TokenIllegal:
		return "illegal"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenLBracket:
		return "'['"
	case TokenRBracket:
		return "']'"
	case TokenComma:
		return "','"
	case TokenEquals:
		return "'='"
	default:
		return "unknown"
	}
}

// Token is one lexeme. Text holds the decoded value for strings.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int // Byte offset in the source
}

// SyntaxError reports where and why the source failed to parse
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

// Lexer produces tokens on demand
type Lexer struct {
	src string
	pos int
}

// NewLexer creates a lexer over src
func NewLexer(src string) *Lexer {
	return &Lexer{src: src}
}

// Pos returns the current byte offset
func (l *Lexer) Pos() int {
	return l.pos
}

// Next returns the next token. Errors surface as TokenIllegal with the
// reason in Text.
func (l *Lexer) Next() Token {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])

	switch {
	case r == '(':
		l.pos += size
		return Token{Kind: TokenLParen, Text: "(", Pos: start}
	case r == ')':
		l.pos += size
		return Token{Kind: TokenRParen, Text: ")", Pos: start}
	case r == '[':
		l.pos += size
		return Token{Kind: TokenLBracket, Text: "[", Pos: start}
	case r == ']':
		l.pos += size
		return Token{Kind: TokenRBracket, Text: "]", Pos: start}
	case r == ',':
		l.pos += size
		return Token{Kind: TokenComma, Text: ",", Pos: start}
	case r == '=':
		l.pos += size
		return Token{Kind: TokenEquals, Text: "=", Pos: start}
	case r == '\'' || r == '"':
		return l.lexString(r)
	case r == '-' || r == '+' || r == '.' || unicode.IsDigit(r):
		return l.lexNumber()
	case isIdentStart(r):
		for l.pos < len(l.src) {
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			if !isIdentPart(r) {
				break
			}
			l.pos += size
		}
		return Token{Kind: TokenIdent, Text: l.src[start:l.pos], Pos: start}
	default:
		l.pos += size
		return Token{Kind: TokenIllegal, Text: fmt.Sprintf("unexpected character %q", r), Pos: start}
	}
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *Lexer) lexString(quote rune) Token {
	start := l.pos
	l.pos++ // opening quote

	var b strings.Builder
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += size
		switch r {
		case quote:
			return Token{Kind: TokenString, Text: b.String(), Pos: start}
		case '\\':
			if l.pos >= len(l.src) {
				return Token{Kind: TokenIllegal, Text: "unterminated escape", Pos: start}
			}
			e, esize := utf8.DecodeRuneInString(l.src[l.pos:])
			l.pos += esize
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteRune(e)
			default:
				// Unknown escapes are kept verbatim
				b.WriteByte('\\')
				b.WriteRune(e)
			}
		default:
			b.WriteRune(r)
		}
	}
	return Token{Kind: TokenIllegal, Text: "unterminated string", Pos: start}
}

func (l *Lexer) lexNumber() Token {
	start := l.pos
	if c := l.src[l.pos]; c == '-' || c == '+' {
		l.pos++
	}
	digits, dots := 0, 0
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c >= '0' && c <= '9' {
			digits++
		} else if c == '.' && dots == 0 {
			dots++
		} else {
			break
		}
		l.pos++
	}
	if digits == 0 {
		return Token{Kind: TokenIllegal, Text: "malformed number", Pos: start}
	}
	return Token{Kind: TokenNumber, Text: l.src[start:l.pos], Pos: start}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize returns every token of src up to and including EOF or the
// first illegal token.
func Tokenize(src string) []Token {
	l := NewLexer(src)
	var toks []Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Kind == TokenEOF || t.Kind == TokenIllegal {
			return toks
		}
	}
}
