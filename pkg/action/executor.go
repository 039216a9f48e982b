package action

import (
	"context"
	"strconv"
	"strings"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/device"
	"github.com/devicelab-dev/uiagent/pkg/logger"
)

// Gestures configures the synthetic swipe shapes
type Gestures struct {
	ScrollDistance int // Pixels the end point is offset from the start
	LongPressMs    int
	DragMs         int
	ScrollMs       int
}

// DefaultGestures returns the adb input timings used by default
func DefaultGestures() Gestures {
	return Gestures{ScrollDistance: 500, LongPressMs: 500, DragMs: 500, ScrollMs: 100}
}

// Result describes what an Execute call did
type Result struct {
	Command  Command    // nil when the line did not parse
	NoOp     bool       // Parse failure, nothing was sent to the device
	Finished bool       // Terminal signal, nothing was sent to the device
	ParseErr error      // Set when NoOp
	Argv     [][]string // adb commands issued, in order
}

// Executor dispatches parsed commands to one device.
type Executor struct {
	dev      device.Executor
	serial   string
	scale    Scale
	screen   device.Size
	gestures Gestures
}

// NewExecutor creates an executor for serial. screen bounds scroll end points.
func NewExecutor(dev device.Executor, serial string, scale Scale, screen device.Size, g Gestures) *Executor {
	if g == (Gestures{}) {
		g = DefaultGestures()
	}
	return &Executor{dev: dev, serial: serial, scale: scale, screen: screen, gestures: g}
}

// Scale returns the coordinate scale in use
func (e *Executor) Scale() Scale {
	return e.scale
}

// Execute parses text and dispatches it. A parse failure is logged and
// reported as a no-op, never as an error.
func (e *Executor) Execute(ctx context.Context, text string) (Result, error) {
	cmd, err := Parse(text)
	if err != nil {
		logger.Warn("ignoring unparseable action %q: %v", text, err)
		return Result{NoOp: true, ParseErr: err}, nil
	}
	return e.Dispatch(ctx, cmd)
}

// Dispatch sends cmd to the device. Finished is never dispatched.
func (e *Executor) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Command: cmd}
	if _, ok := cmd.(Finished); ok {
		res.Finished = true
		return res, nil
	}

	for _, argv := range e.Plan(cmd) {
		res.Argv = append(res.Argv, argv)
		if _, err := e.dev.Execute(ctx, e.serial, argv...); err != nil {
			return res, core.ErrDeviceCommand.WithCause(err).WithDetails(map[string]interface{}{
				"serial": e.serial,
				"verb":   cmd.Verb(),
			})
		}
	}
	return res, nil
}

// Plan returns the adb argv list that cmd maps to, without running it.
func (e *Executor) Plan(cmd Command) [][]string {
	switch c := cmd.(type) {
	case Click:
		x, y := e.scale.Apply(c.Point)
		return [][]string{input("tap", itoa(x), itoa(y))}
	case LongPress:
		x, y := e.scale.Apply(c.Point)
		return [][]string{input("swipe", itoa(x), itoa(y), itoa(x), itoa(y), itoa(e.gestures.LongPressMs))}
	case Type:
		return typeCommands(c.Content)
	case Scroll:
		x, y := e.scale.Apply(c.Point)
		ex, ey := e.scrollEnd(x, y, c.Direction)
		return [][]string{input("swipe", itoa(x), itoa(y), itoa(ex), itoa(ey), itoa(e.gestures.ScrollMs))}
	case Drag:
		x1, y1 := e.scale.Apply(c.Start)
		x2, y2 := e.scale.Apply(c.End)
		return [][]string{input("swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(e.gestures.DragMs))}
	case PressHome:
		return [][]string{input("keyevent", "KEYCODE_HOME")}
	case PressBack:
		return [][]string{input("keyevent", "KEYCODE_BACK")}
	default:
		return nil
	}
}

// scrollEnd offsets the end point opposite the content direction: scrolling
// down swipes the finger up.
func (e *Executor) scrollEnd(x, y int, d Direction) (int, int) {
	dist := e.gestures.ScrollDistance
	switch d {
	case DirDown:
		y -= dist
	case DirUp:
		y += dist
	case DirLeft:
		x += dist
	case DirRight:
		x -= dist
	}
	return clamp(x, e.screen.Width), clamp(y, e.screen.Height)
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if limit > 0 && v > limit-1 {
		return limit - 1
	}
	return v
}

func input(args ...string) []string {
	return append([]string{"shell", "input"}, args...)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

// typeCommands splits content on newlines; each newline becomes an enter
// key press, so a trailing newline submits the field.
func typeCommands(content string) [][]string {
	var out [][]string
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		for _, chunk := range splitPercentS(line) {
			out = append(out, input("text", EscapeText(chunk)))
		}
		if i < len(lines)-1 {
			out = append(out, input("keyevent", "KEYCODE_ENTER"))
		}
	}
	return out
}

// splitPercentS cuts s between every literal "%s", since input would
// decode the pair as a space. Each chunk is typed with its own command.
func splitPercentS(s string) []string {
	var out []string
	for {
		i := strings.Index(s, "%s")
		if i < 0 {
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// EscapeText prepares text for `adb shell input text`. The argument passes
// through the device shell, so metacharacters are backslash-escaped and
// spaces become %s, which input decodes back to a space. A literal "%s"
// cannot be expressed in one argument; typeCommands splits it first.
func EscapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t':
			b.WriteString("%s")
		case '\\', '\'', '"', '`', '$', '&', '|', ';', '<', '>', '(', ')',
			'*', '?', '~', '#', '!', '[', ']', '{', '}':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
