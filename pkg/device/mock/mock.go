// Package mock provides a mock device executor for testing without a real device.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/uiagent/pkg/device"
)

// Executor is a mock implementation of device.Executor for testing.
// It answers `wm size` and `screencap` like a real device and records
// every other command.
type Executor struct {
	// Configuration
	Config Config

	mu    sync.Mutex
	calls [][]string
	count int
}

// Config configures mock executor behavior.
type Config struct {
	// Size reported by `wm size`; zero reports an unparsable answer.
	Size device.Size
	// FailOnCall makes call N fail (1-indexed). 0 = never fail.
	FailOnCall int
	// FailMatching makes any command containing this substring fail.
	FailMatching string
	// CommandDelay adds artificial delay per command, honoring ctx.
	CommandDelay time.Duration
	// Responses maps a space-joined argv prefix to stdout.
	Responses map[string]string
}

// New creates a new mock executor.
func New(cfg Config) *Executor {
	return &Executor{Config: cfg}
}

// Execute simulates a device command.
func (e *Executor) Execute(ctx context.Context, serial string, args ...string) ([]byte, error) {
	e.mu.Lock()
	e.count++
	n := e.count
	e.calls = append(e.calls, append([]string(nil), args...))
	e.mu.Unlock()

	if e.Config.CommandDelay > 0 {
		select {
		case <-time.After(e.Config.CommandDelay):
		case <-ctx.Done():
			return nil, &device.CommandError{Serial: serial, Args: args, Err: ctx.Err()}
		}
	}

	joined := strings.Join(args, " ")
	if (e.Config.FailOnCall > 0 && n == e.Config.FailOnCall) ||
		(e.Config.FailMatching != "" && strings.Contains(joined, e.Config.FailMatching)) {
		return nil, &device.CommandError{
			Serial: serial,
			Args:   args,
			Stderr: "error: device offline",
			Err:    fmt.Errorf("mock failure on call %d", n),
		}
	}

	for prefix, out := range e.Config.Responses {
		if strings.HasPrefix(joined, prefix) {
			return []byte(out), nil
		}
	}

	switch {
	case joined == "shell wm size":
		if e.Config.Size.Width == 0 {
			return []byte("unknown"), nil
		}
		return []byte(fmt.Sprintf("Physical size: %dx%d\n", e.Config.Size.Width, e.Config.Size.Height)), nil
	case strings.HasPrefix(joined, "exec-out screencap"):
		return Screenshot(e.screenSize()), nil
	case joined == "devices":
		return []byte("List of devices attached\nmock-device\tdevice\n"), nil
	}
	return nil, nil
}

func (e *Executor) screenSize() device.Size {
	if e.Config.Size.Width > 0 {
		return e.Config.Size
	}
	return device.Size{Width: 216, Height: 480}
}

// Calls returns every recorded argv in order.
func (e *Executor) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// InputCalls returns only `shell input ...` commands, the ones that
// change device state.
func (e *Executor) InputCalls() [][]string {
	var out [][]string
	for _, c := range e.Calls() {
		if len(c) >= 2 && c[0] == "shell" && c[1] == "input" {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
	e.count = 0
}

// Screenshot returns a PNG of the given size with a simple gradient.
func Screenshot(s device.Size) []byte {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// Compile-time interface check
var _ device.Executor = (*Executor)(nil)
