package device

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoDevice(t *testing.T) *ADB {
	t.Helper()
	adb, err := NewADB("")
	if err != nil {
		t.Skip("adb not available")
	}
	devices, err := ListDevices(context.Background(), adb)
	if err != nil || len(devices) == 0 || !devices[0].Online() {
		t.Skip("no online device")
	}
	return adb
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Size
		ok   bool
	}{
		{"physical", "Physical size: 1080x2400\n", Size{1080, 2400}, true},
		{"physical wins over override", "Override size: 720x1600\nPhysical size: 1440x3200\n", Size{1440, 3200}, true},
		{"bare pair", "1200x1920", Size{1200, 1920}, true},
		{"garbage", "error: no devices", Size{}, false},
		{"zero", "Physical size: 0x0", Size{}, false},
		{"empty", "", Size{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSize(tt.out)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDevices(t *testing.T) {
	out := "List of devices attached\n* daemon started successfully\nemulator-5554\tdevice\nR58M\toffline\n\n"
	devices := parseDevices(out)
	require.Len(t, devices, 2)
	assert.Equal(t, "emulator-5554", devices[0].Serial)
	assert.True(t, devices[0].Online())
	assert.False(t, devices[1].Online())
}

type countingExecutor struct {
	calls int
	out   string
	err   error
}

func (c *countingExecutor) Execute(_ context.Context, _ string, args ...string) ([]byte, error) {
	c.calls++
	return []byte(c.out), c.err
}

func TestScreenResolver_CachesSuccess(t *testing.T) {
	e := &countingExecutor{out: "Physical size: 1440x3120"}
	r := NewScreenResolver(e, Size{}, 4)

	assert.Equal(t, Size{1440, 3120}, r.Size(context.Background(), "a"))
	assert.Equal(t, Size{1440, 3120}, r.Size(context.Background(), "a"))
	assert.Equal(t, 1, e.calls)

	r.Forget("a")
	r.Size(context.Background(), "a")
	assert.Equal(t, 2, e.calls)
}

func TestScreenResolver_DefaultsOnFailure(t *testing.T) {
	e := &countingExecutor{err: &CommandError{Args: []string{"shell", "wm", "size"}, Err: errors.New("exit status 1")}}
	r := NewScreenResolver(e, Size{}, 4)

	assert.Equal(t, DefaultSize, r.Size(context.Background(), "a"))
	assert.Equal(t, DefaultSize, r.Size(context.Background(), "a"))
	assert.Equal(t, 2, e.calls, "failures are not cached")
}

func TestScreenResolver_DefaultsOnGarbage(t *testing.T) {
	r := NewScreenResolver(&countingExecutor{out: "nope"}, Size{Width: 720, Height: 1280}, 4)
	assert.Equal(t, Size{720, 1280}, r.Size(context.Background(), "a"))
}

func TestCommandError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &CommandError{Args: []string{"shell", "input", "tap", "1", "2"}, Stderr: "device offline", Err: cause}

	assert.Equal(t, "adb shell input tap 1 2: exit status 1: device offline", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestADB_Execute_Error(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	// sh stands in for adb; an empty serial keeps -s off the argv
	a := &ADB{path: sh}
	_, err = a.Execute(context.Background(), "", "-c", "echo boom >&2; exit 3")

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "boom", ce.Stderr)
	assert.True(t, strings.Contains(ce.Error(), "exit status 3"))
}

func TestADB_Execute_Stdout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	a := &ADB{path: sh}
	out, err := a.Execute(context.Background(), "", "-c", "echo Physical size: 10x20")
	require.NoError(t, err)
	s, ok := ParseSize(string(out))
	assert.True(t, ok)
	assert.Equal(t, Size{10, 20}, s)
}

func TestListDevices_Real(t *testing.T) {
	adb := skipIfNoDevice(t)
	devices, err := ListDevices(context.Background(), adb)
	require.NoError(t, err)

	info := devices[0]
	Describe(context.Background(), adb, &info)
	assert.NotEmpty(t, info.SDK)
}
