package grammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	toks := Tokenize(`click(point='<point>1 2</point>', n=-3.5)`)

	kinds := make([]TokenKind, len(toks))
	for i, tk := range toks {
		kinds[i] = tk.Kind
	}
	assert.Equal(t, []TokenKind{
		TokenIdent, TokenLParen,
		TokenIdent, TokenEquals, TokenString, TokenComma,
		TokenIdent, TokenEquals, TokenNumber,
		TokenRParen, TokenEOF,
	}, kinds)
	assert.Equal(t, "<point>1 2</point>", toks[4].Text)
	assert.Equal(t, "-3.5", toks[8].Text)
}

func TestTokenize_StringEscapes(t *testing.T) {
	toks := Tokenize(`'it\'s\n"ok"\\'`)
	require.Equal(t, TokenString, toks[0].Kind)
	assert.Equal(t, "it's\n\"ok\"\\", toks[0].Text)
}

func TestTokenize_Unterminated(t *testing.T) {
	toks := Tokenize(`type(content='abc`)
	last := toks[len(toks)-1]
	assert.Equal(t, TokenIllegal, last.Kind)
	assert.Equal(t, "unterminated string", last.Text)
}

func TestParseCall(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		verb  string
		nargs int
	}{
		{"no args", "press_home()", "press_home", 0},
		{"keyword string", "type(content='hello')", "type", 1},
		{"two keywords", "scroll(point='<point>5 6</point>', direction='down')", "scroll", 2},
		{"double quotes", `finished(content="done")`, "finished", 1},
		{"positional tuple", "click((10, 20))", "click", 1},
		{"bracket box", "click(start_box=[1, 2, 3, 4])", "click", 1},
		{"trailing comma", "drag(start_point='a', end_point='b',)", "drag", 2},
		{"surrounding space", "  press_back( )  \n", "press_back", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := ParseCall(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.verb, call.Name)
			assert.Len(t, call.Args, tt.nargs)
		})
	}
}

func TestParseCall_Values(t *testing.T) {
	call, err := ParseCall("f(a='x', b=3, c=up, d=(1,2), 7)")
	require.NoError(t, err)

	a, ok := call.Keyword("a")
	require.True(t, ok)
	assert.Equal(t, ValueString, a.Kind)
	assert.Equal(t, "x", a.Text)

	b, _ := call.Keyword("b")
	assert.Equal(t, ValueNumber, b.Kind)
	assert.Equal(t, []float64{3}, b.Numbers)

	c, _ := call.Keyword("c")
	assert.Equal(t, ValueIdent, c.Kind)
	assert.Equal(t, "up", c.Text)

	d, _ := call.Keyword("d")
	assert.Equal(t, ValueTuple, d.Kind)
	assert.Equal(t, []float64{1, 2}, d.Numbers)

	pos := call.Positional()
	require.Len(t, pos, 1)
	assert.Equal(t, "7", pos[0].Text)

	_, ok = call.Keyword("missing")
	assert.False(t, ok)
}

func TestParseCall_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"no parens", "click"},
		{"unclosed", "click(point='x'"},
		{"missing value", "click(point=)"},
		{"trailing garbage", "click() and more"},
		{"double comma", "f(a,,b)"},
		{"empty tuple", "f(())"},
		{"tuple with string", "f(('a'))"},
		{"illegal char", "f(@)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCall(tt.src)
			var se *SyntaxError
			assert.True(t, errors.As(err, &se), "want SyntaxError, got %v", err)
		})
	}
}

func TestParsePrefix(t *testing.T) {
	call, n, err := ParsePrefix("pass() because the screen looks fine")
	require.NoError(t, err)
	assert.Equal(t, "pass", call.Name)
	assert.Equal(t, len("pass()"), n)
}

func TestCall_String(t *testing.T) {
	call, err := ParseCall("scroll(point='<point>5 6</point>', direction='down')")
	require.NoError(t, err)
	assert.Equal(t, `scroll(point="<point>5 6</point>", direction="down")`, call.String())
}
