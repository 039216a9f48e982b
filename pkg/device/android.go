// Package device provides Android device access via ADB.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Executor runs a device command and returns its stdout.
// A nonzero exit or spawn failure is returned as *CommandError.
type Executor interface {
	Execute(ctx context.Context, serial string, args ...string) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, serial string, args ...string) ([]byte, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, serial string, args ...string) ([]byte, error) {
	return f(ctx, serial, args...)
}

// CommandError carries the failed command and its captured stderr
type CommandError struct {
	Serial string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("adb %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ADB executes commands through the adb binary.
type ADB struct {
	path string
}

// NewADB locates adb. An explicit path wins over PATH lookup.
func NewADB(path string) (*ADB, error) {
	if path == "" {
		path = "adb"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("adb not found (%s); ensure Android SDK platform-tools are installed: %w", path, err)
	}
	return &ADB{path: resolved}, nil
}

// Path returns the resolved adb binary path.
func (a *ADB) Path() string {
	return a.path
}

// Execute runs `adb [-s serial] args...`.
func (a *ADB) Execute(ctx context.Context, serial string, args ...string) ([]byte, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if serial != "" {
		cmdArgs = append(cmdArgs, "-s", serial)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, a.path, cmdArgs...) //#nosec G204 -- adb argv built from parsed actions
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &CommandError{Serial: serial, Args: args, Stderr: errMsg, Err: err}
	}

	return stdout.Bytes(), nil
}

// Shell runs a shell command on the device and returns trimmed output.
func Shell(ctx context.Context, e Executor, serial string, args ...string) (string, error) {
	out, err := e.Execute(ctx, serial, append([]string{"shell"}, args...)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Info contains basic device information.
type Info struct {
	Serial     string
	State      string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
	Size       Size
}

// ListDevices returns attached devices from `adb devices`. Devices that are
// offline or unauthorized are returned with their state but no details.
func ListDevices(ctx context.Context, e Executor) ([]Info, error) {
	out, err := e.Execute(ctx, "", "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

func parseDevices(out string) []Info {
	var devices []Info
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		devices = append(devices, Info{Serial: parts[0], State: parts[1]})
	}
	return devices
}

// Describe fills model, SDK, brand and emulator flag from device props.
func Describe(ctx context.Context, e Executor, info *Info) {
	if model, err := Shell(ctx, e, info.Serial, "getprop", "ro.product.model"); err == nil {
		info.Model = model
	}
	if sdk, err := Shell(ctx, e, info.Serial, "getprop", "ro.build.version.sdk"); err == nil {
		info.SDK = sdk
	}
	if brand, err := Shell(ctx, e, info.Serial, "getprop", "ro.product.brand"); err == nil {
		info.Brand = brand
	}

	// Check if emulator
	qemu, _ := Shell(ctx, e, info.Serial, "getprop", "ro.kernel.qemu")
	info.IsEmulator = qemu == "1" || strings.HasPrefix(info.Serial, "emulator-")
}

// Online reports whether the device accepts commands
func (i Info) Online() bool {
	return i.State == "device"
}
