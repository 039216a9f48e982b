// Package verdict resolves the anomaly oracle's answer into a typed verdict
// and applies hysteresis to transient loading and blank screens.
package verdict

import (
	"strings"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/grammar"
)

// Known verdict tokens
const (
	TokenLoading     = "exception_loading"
	TokenBlankArea   = "exception_blank_area"
	TokenConsistency = "exception_consistency"
	TokenCrashed     = "exception_crashed"
	TokenPass        = "pass"
)

// DefaultToken is used when the response holds no recognised verdict
const DefaultToken = "pass()"

var kinds = []struct {
	token string
	kind  core.VerdictKind
}{
	{TokenLoading, core.VerdictLoading},
	{TokenBlankArea, core.VerdictBlankArea},
	{TokenConsistency, core.VerdictConsistency},
	{TokenCrashed, core.VerdictCrashed},
	{TokenPass, core.VerdictPass},
}

// Extract finds the verdict call in an oracle response. A call inside a
// ``` fence wins over one elsewhere in the text; with none, pass() is
// returned.
func Extract(text string) string {
	for _, block := range fencedBlocks(text) {
		if call, ok := findCall(block); ok {
			return call
		}
	}
	if call, ok := findCall(text); ok {
		return call
	}
	return DefaultToken
}

// Parse resolves a verdict call by prefix. The second result is false when
// the text matched no known token, in which case the verdict is pass.
func Parse(token string) (core.Verdict, bool) {
	s := strings.TrimSpace(token)
	for _, k := range kinds {
		if !hasCallPrefix(s, k.token) {
			continue
		}
		v := core.Verdict{Kind: k.kind}
		if k.kind.IsHard() {
			v.Reason = reason(s, k.token)
		}
		return v, true
	}
	return core.Verdict{Kind: core.VerdictPass}, false
}

// hasCallPrefix reports whether s starts with name followed by '('
func hasCallPrefix(s, name string) bool {
	rest, ok := strings.CutPrefix(s, name)
	return ok && strings.HasPrefix(strings.TrimLeft(rest, " \t"), "(")
}

// reason returns the reason argument. When the call does not parse, the raw
// text between the parentheses is used instead.
func reason(s, name string) string {
	if call, _, err := grammar.ParsePrefix(s); err == nil {
		if v, ok := call.Keyword("reason"); ok {
			return v.Text
		}
		if pos := call.Positional(); len(pos) > 0 {
			return pos[0].Text
		}
		return ""
	}

	inner := strings.TrimPrefix(s, name)
	inner = strings.TrimSpace(inner)
	inner = strings.TrimPrefix(inner, "(")
	if i := strings.LastIndexByte(inner, ')'); i >= 0 {
		inner = inner[:i]
	}
	inner = strings.TrimSpace(inner)
	inner = strings.TrimPrefix(inner, "reason=")
	return strings.Trim(inner, `'"`)
}

// findCall scans text for the first verdict call, known or an unrecognised
// exception_* one. Each identifier boundary is tried in turn; prose around
// the call is ignored.
func findCall(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		if i > 0 && isIdentByte(text[i-1]) {
			continue
		}
		rest := text[i:]
		name := callName(rest)
		if name == "" {
			continue
		}
		if _, n, err := grammar.ParsePrefix(rest); err == nil {
			return strings.TrimSpace(rest[:n]), true
		}
		// Unparseable arguments: take up to the matching line's last ')'
		line := rest
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		if end := strings.LastIndexByte(line, ')'); end >= 0 {
			return line[:end+1], true
		}
	}
	return "", false
}

// callName returns the verdict name s starts with when a '(' follows it:
// a known token, or any exception_<ident>.
func callName(s string) string {
	for _, k := range kinds {
		if hasCallPrefix(s, k.token) {
			return k.token
		}
	}
	const prefix = "exception_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	j := len(prefix)
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	if j == len(prefix) || !hasCallPrefix(s, s[:j]) {
		return ""
	}
	return s[:j]
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// fencedBlocks returns the contents of ``` fenced blocks in order
func fencedBlocks(text string) []string {
	var blocks []string
	for {
		start := strings.Index(text, "```")
		if start < 0 {
			return blocks
		}
		rest := text[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, rest[:end])
		text = rest[end+3:]
	}
}
