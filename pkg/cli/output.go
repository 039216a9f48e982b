package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// printStep prints one recorded step as a progress line.
func printStep(w io.Writer, st core.Step) {
	symbol, c := "✓", colorGreen
	switch {
	case st.Suppressed:
		symbol, c = "…", colorYellow
	case st.Verdict.Kind.IsHard():
		symbol, c = "✗", colorRed
	}
	verdict := st.Verdict.Kind.String()
	if st.Verdict.Reason != "" {
		verdict += ": " + st.Verdict.Reason
	}
	fmt.Fprintf(w, "  %s%s%s %3d  %-40s %s[%s]%s\n",
		color(c), symbol, color(colorReset), st.Index, truncate(st.Action, 40),
		color(colorGray), verdict, color(colorReset))
	if st.Thought != "" {
		fmt.Fprintf(w, "        %s╰─%s %s\n", color(colorGray), color(colorReset), truncate(oneLine(st.Thought), 100))
	}
}

// printSummary prints the final status of a run.
func printSummary(w io.Writer, run *core.TestRun) {
	c := colorGreen
	if run.Status != core.RunCompleted {
		c = colorRed
	}
	s := run.Summarize()
	fmt.Fprintf(w, "\n%sResult%s\n", color(colorBold), color(colorReset))
	fmt.Fprintf(w, "  Status:   %s%s%s\n", color(c), run.Status, color(colorReset))
	fmt.Fprintf(w, "  Reason:   %s\n", run.Reason)
	fmt.Fprintf(w, "  Steps:    %d (%d suppressed)\n", s.Steps, s.Suppressed)
	fmt.Fprintf(w, "  Issues:   %d\n", s.Issues)
	fmt.Fprintf(w, "  Duration: %s\n", run.Duration().Round(1e7))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
