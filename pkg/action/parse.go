package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/grammar"
)

// ParseError describes why an action line could not become a Command
type ParseError struct {
	Text  string // Raw action line
	Verb  string // Empty when the verb itself could not be read
	Msg   string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Verb != "" {
		return fmt.Sprintf("parse %s: %s", e.Verb, e.Msg)
	}
	return "parse action: " + e.Msg
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the shared malformed-action error
func (e *ParseError) Is(target error) bool {
	return target == core.ErrMalformedAction
}

// signature lists the keyword names of each positional slot; the first name
// is canonical and the rest are accepted aliases.
type signature struct {
	slots [][]string
	build func(args []grammar.Value) (Command, error)
}

var signatures = map[string]signature{
	VerbClick: {
		slots: [][]string{{"point", "start_box", "start_point"}},
		build: func(a []grammar.Value) (Command, error) {
			p, err := toPoint(a[0])
			return Click{Point: p}, err
		},
	},
	VerbLongPress: {
		slots: [][]string{{"point", "start_box", "start_point"}},
		build: func(a []grammar.Value) (Command, error) {
			p, err := toPoint(a[0])
			return LongPress{Point: p}, err
		},
	},
	VerbType: {
		slots: [][]string{{"content", "text"}},
		build: func(a []grammar.Value) (Command, error) {
			if a[0].Kind != grammar.ValueString {
				return nil, errors.New("content must be a string")
			}
			if a[0].Text == "" {
				return nil, errors.New("empty content")
			}
			return Type{Content: a[0].Text}, nil
		},
	},
	VerbScroll: {
		slots: [][]string{{"point", "start_box", "start_point"}, {"direction"}},
		build: func(a []grammar.Value) (Command, error) {
			p, err := toPoint(a[0])
			if err != nil {
				return nil, err
			}
			d, err := toDirection(a[1])
			if err != nil {
				return nil, err
			}
			return Scroll{Point: p, Direction: d}, nil
		},
	},
	VerbDrag: {
		slots: [][]string{{"start_point", "start_box"}, {"end_point", "end_box"}},
		build: func(a []grammar.Value) (Command, error) {
			start, err := toPoint(a[0])
			if err != nil {
				return nil, fmt.Errorf("start: %w", err)
			}
			end, err := toPoint(a[1])
			if err != nil {
				return nil, fmt.Errorf("end: %w", err)
			}
			return Drag{Start: start, End: end}, nil
		},
	},
	VerbPressHome: {
		build: func([]grammar.Value) (Command, error) { return PressHome{}, nil },
	},
	VerbPressBack: {
		build: func([]grammar.Value) (Command, error) { return PressBack{}, nil },
	},
}

// Parse converts an action line into a Command. A line whose verb is
// finished always yields Finished, even when its arguments are malformed.
func Parse(text string) (Command, error) {
	src := strings.TrimSpace(text)

	call, _, err := grammar.ParsePrefix(src)
	if err != nil {
		if verb := leadingIdent(src); verb == VerbFinished {
			return Finished{Content: src}, nil
		}
		return nil, &ParseError{Text: text, Verb: leadingIdent(src), Msg: err.Error(), Cause: err}
	}

	if call.Name == VerbFinished {
		content := ""
		if v, ok := call.Keyword("content"); ok {
			content = v.Text
		} else if pos := call.Positional(); len(pos) > 0 {
			content = pos[0].Text
		}
		return Finished{Content: content}, nil
	}

	sig, ok := signatures[call.Name]
	if !ok {
		return nil, &ParseError{Text: text, Verb: call.Name, Msg: "unknown verb"}
	}

	args, err := bind(call, sig.slots)
	if err != nil {
		return nil, &ParseError{Text: text, Verb: call.Name, Msg: err.Error()}
	}
	cmd, err := sig.build(args)
	if err != nil {
		return nil, &ParseError{Text: text, Verb: call.Name, Msg: err.Error(), Cause: err}
	}
	return cmd, nil
}

// bind resolves each slot from its keyword (or alias), falling back to
// positional arguments in order. Extra arguments are rejected.
func bind(call *grammar.Call, slots [][]string) ([]grammar.Value, error) {
	out := make([]grammar.Value, len(slots))
	used := make([]bool, len(call.Args))
	filled := make([]bool, len(slots))

	for i, names := range slots {
		for j, a := range call.Args {
			if used[j] || a.Key == "" || !contains(names, a.Key) {
				continue
			}
			out[i], used[j], filled[i] = a.Value, true, true
			break
		}
	}

	for i := range slots {
		if filled[i] {
			continue
		}
		for j, a := range call.Args {
			if used[j] || a.Key != "" {
				continue
			}
			out[i], used[j], filled[i] = a.Value, true, true
			break
		}
		if !filled[i] {
			return nil, fmt.Errorf("missing argument %s", slots[i][0])
		}
	}

	for j, a := range call.Args {
		if !used[j] {
			if a.Key != "" {
				return nil, fmt.Errorf("unexpected argument %s", a.Key)
			}
			return nil, fmt.Errorf("too many arguments")
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// toPoint accepts a tuple, or a string holding two numbers (x y) or a box
// of four numbers (x1 y1 x2 y2, whose center is used), in any of the
// markups oracles emit: <point>x y</point>, (x,y), [x, y], x,y.
func toPoint(v grammar.Value) (Point, error) {
	var nums []float64
	switch v.Kind {
	case grammar.ValueTuple:
		nums = v.Numbers
	case grammar.ValueString:
		var err error
		nums, err = scanNumbers(v.Text)
		if err != nil {
			return Point{}, err
		}
	default:
		return Point{}, fmt.Errorf("malformed point %s", v)
	}

	switch len(nums) {
	case 2:
		return Point{X: nums[0], Y: nums[1]}, nil
	case 4:
		return Point{X: (nums[0] + nums[2]) / 2, Y: (nums[1] + nums[3]) / 2}, nil
	default:
		return Point{}, fmt.Errorf("malformed point %s: want 2 or 4 numbers, got %d", v, len(nums))
	}
}

// scanNumbers extracts the numbers of a point literal, skipping markup tags
// and separators.
func scanNumbers(s string) ([]float64, error) {
	var nums []float64
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '<':
			end := strings.IndexByte(s[i:], '>')
			if end < 0 {
				return nil, fmt.Errorf("unclosed tag in %q", s)
			}
			i += end + 1
		case c >= '0' && c <= '9' || c == '-' || c == '.':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("malformed number %q", s[i:j])
			}
			nums = append(nums, n)
			i = j
		case c == ' ' || c == ',' || c == '(' || c == ')' || c == '[' || c == ']' || c == '\t' || c == '|':
			i++
		default:
			return nil, fmt.Errorf("unexpected %q in point %q", c, s)
		}
	}
	return nums, nil
}

func toDirection(v grammar.Value) (Direction, error) {
	if v.Kind != grammar.ValueString && v.Kind != grammar.ValueIdent {
		return "", fmt.Errorf("malformed direction %s", v)
	}
	d := Direction(strings.ToLower(strings.TrimSpace(v.Text)))
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", v.Text)
	}
}

func leadingIdent(s string) string {
	t := grammar.NewLexer(s).Next()
	if t.Kind == grammar.TokenIdent {
		return t.Text
	}
	return ""
}
