// Package oracle talks to the multimodal models that decide the next action,
// judge anomalies and review screenshots.
package oracle

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

// Role tags who produced a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind identifies the content of a Part
type PartKind int

const (
	PartText PartKind = iota
	PartImage
)

// Part is one text or image item of a turn
type Part struct {
	Kind PartKind
	Text string
	MIME string // For images
	Data []byte // For images, raw encoded bytes
}

// Text returns a text part
func Text(s string) Part {
	return Part{Kind: PartText, Text: s}
}

// Image returns an image part
func Image(img core.Image) Part {
	return Part{Kind: PartImage, MIME: img.ContentType, Data: img.Data}
}

// DataURL encodes an image part as a data: URL
func (p Part) DataURL() string {
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Turn is one role-tagged unit of conversation
type Turn struct {
	Role  Role
	Parts []Part
}

// Observation returns the user turn carrying a screenshot
func Observation(img core.Image) Turn {
	return Turn{Role: RoleUser, Parts: []Part{Image(img)}}
}

// Decision returns the assistant turn recording a parsed decision
func Decision(thought, action string) Turn {
	return Turn{Role: RoleAssistant, Parts: []Part{Text("Thought: " + thought + "\nAction: " + action)}}
}

// TextContent joins the text parts of t
func (t Turn) TextContent() string {
	var texts []string
	for _, p := range t.Parts {
		if p.Kind == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Oracle answers a conversation with free text
type Oracle interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// Func adapts a function to Oracle, e.g. a scripted stub in tests
type Func func(ctx context.Context, turns []Turn) (string, error)

// Complete calls f
func (f Func) Complete(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}
