package grammar

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies the literal form of an argument
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueIdent
	ValueTuple // (x, y) or [x1, y1, x2, y2]
)

// Value is one argument literal
type Value struct {
	Kind    ValueKind
	Text    string    // Decoded string, number text or identifier
	Numbers []float64 // Number value, or tuple members
}

// Arg is a positional (Key == "") or keyword argument
type Arg struct {
	Key   string
	Value Value
	Pos   int
}

// Call is the AST of name(arg, key=value, ...)
type Call struct {
	Name string
	Args []Arg
	Pos  int
}

// Keyword returns the keyword argument named key
func (c *Call) Keyword(key string) (Value, bool) {
	for _, a := range c.Args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return Value{}, false
}

// Positional returns the positional arguments in order
func (c *Call) Positional() []Value {
	var out []Value
	for _, a := range c.Args {
		if a.Key == "" {
			out = append(out, a.Value)
		}
	}
	return out
}

// String renders the call back in canonical form
func (c *Call) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		v := a.Value.String()
		if a.Key != "" {
			v = a.Key + "=" + v
		}
		parts = append(parts, v)
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

// String renders the literal in source form
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return strconv.Quote(v.Text)
	case ValueTuple:
		nums := make([]string, len(v.Numbers))
		for i, n := range v.Numbers {
			nums[i] = strconv.FormatFloat(n, 'f', -1, 64)
		}
		return "(" + strings.Join(nums, ", ") + ")"
	default:
		return v.Text
	}
}

// ParseCall parses src as exactly one call; only whitespace may follow it.
func ParseCall(src string) (*Call, error) {
	p := newParser(src)
	call, err := p.parseCall()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind != TokenEOF {
		return nil, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("unexpected %s after call", t.Kind)}
	}
	return call, nil
}

// ParsePrefix parses one call at the start of src and returns the number of
// bytes it consumed. Whatever follows the closing parenthesis is ignored.
func ParsePrefix(src string) (*Call, int, error) {
	p := newParser(src)
	call, err := p.parseCall()
	if err != nil {
		return nil, 0, err
	}
	return call, p.lex.Pos(), nil
}

type parser struct {
	lex    *Lexer
	tok    Token
	peeked bool
}

func newParser(src string) *parser {
	return &parser{lex: NewLexer(src)}
}

func (p *parser) peek() Token {
	if !p.peeked {
		p.tok = p.lex.Next()
		p.peeked = true
	}
	return p.tok
}

func (p *parser) next() Token {
	t := p.peek()
	p.peeked = false
	return t
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	t := p.next()
	if t.Kind == TokenIllegal {
		return t, &SyntaxError{Pos: t.Pos, Msg: t.Text}
	}
	if t.Kind != kind {
		return t, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected %s, got %s", kind, t.Kind)}
	}
	return t, nil
}

// call := ident '(' [arg {',' arg}] [','] ')'
func (p *parser) parseCall() (*Call, error) {
	name, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	call := &Call{Name: name.Text, Pos: name.Pos}
	for {
		if p.peek().Kind == TokenRParen {
			p.next()
			return call, nil
		}
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		switch t := p.next(); t.Kind {
		case TokenComma:
			continue
		case TokenRParen:
			return call, nil
		case TokenIllegal:
			return nil, &SyntaxError{Pos: t.Pos, Msg: t.Text}
		default:
			return nil, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected ',' or ')', got %s", t.Kind)}
		}
	}
}

// arg := [ident '='] value
func (p *parser) parseArg() (Arg, error) {
	t := p.peek()
	if t.Kind == TokenIdent {
		p.next()
		if p.peek().Kind == TokenEquals {
			p.next()
			v, err := p.parseValue()
			if err != nil {
				return Arg{}, err
			}
			return Arg{Key: t.Text, Value: v, Pos: t.Pos}, nil
		}
		return Arg{Value: Value{Kind: ValueIdent, Text: t.Text}, Pos: t.Pos}, nil
	}

	v, err := p.parseValue()
	if err != nil {
		return Arg{}, err
	}
	return Arg{Value: v, Pos: t.Pos}, nil
}

// value := string | number | ident | tuple
func (p *parser) parseValue() (Value, error) {
	t := p.next()
	switch t.Kind {
	case TokenString:
		return Value{Kind: ValueString, Text: t.Text}, nil
	case TokenNumber:
		n, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return Value{}, &SyntaxError{Pos: t.Pos, Msg: "malformed number " + t.Text}
		}
		return Value{Kind: ValueNumber, Text: t.Text, Numbers: []float64{n}}, nil
	case TokenIdent:
		return Value{Kind: ValueIdent, Text: t.Text}, nil
	case TokenLParen, TokenLBracket:
		closing := TokenRParen
		if t.Kind == TokenLBracket {
			closing = TokenRBracket
		}
		return p.parseTuple(closing)
	case TokenIllegal:
		return Value{}, &SyntaxError{Pos: t.Pos, Msg: t.Text}
	default:
		return Value{}, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected value, got %s", t.Kind)}
	}
}

// tuple := number {[','] number} closing
func (p *parser) parseTuple(closing TokenKind) (Value, error) {
	v := Value{Kind: ValueTuple}
	for {
		t := p.next()
		switch t.Kind {
		case closing:
			if len(v.Numbers) == 0 {
				return Value{}, &SyntaxError{Pos: t.Pos, Msg: "empty tuple"}
			}
			return v, nil
		case TokenComma:
			continue
		case TokenNumber:
			n, err := strconv.ParseFloat(t.Text, 64)
			if err != nil {
				return Value{}, &SyntaxError{Pos: t.Pos, Msg: "malformed number " + t.Text}
			}
			v.Numbers = append(v.Numbers, n)
		case TokenIllegal:
			return Value{}, &SyntaxError{Pos: t.Pos, Msg: t.Text}
		default:
			return Value{}, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected number in tuple, got %s", t.Kind)}
		}
	}
}
