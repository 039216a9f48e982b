package oracle

import (
	"strings"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

const (
	thoughtMarker = "Thought:"
	actionMarker  = "Action:"
)

// ParseDecision splits an action oracle response of the form
// "Thought: <text> Action: <text>" into its trimmed parts. A closing code
// fence after the action is dropped.
func ParseDecision(text string) (thought, action string, err error) {
	t := strings.Index(text, thoughtMarker)
	if t < 0 {
		return "", "", core.ErrMalformedDecision.WithDetails(map[string]interface{}{"response": text})
	}
	rest := text[t+len(thoughtMarker):]
	a := strings.Index(rest, actionMarker)
	if a < 0 {
		return "", "", core.ErrMalformedDecision.WithDetails(map[string]interface{}{"response": text})
	}

	thought = strings.TrimSpace(rest[:a])
	action = strings.TrimSpace(rest[a+len(actionMarker):])
	action = trimFence(action)
	return thought, action, nil
}

func trimFence(s string) string {
	for _, fence := range []string{"```", "'''"} {
		if strings.HasSuffix(s, fence) {
			s = strings.TrimSpace(strings.TrimSuffix(s, fence))
		}
	}
	return s
}
