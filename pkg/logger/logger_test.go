package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetup_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	if err := Setup(Options{Path: path, Level: "info"}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer Close()

	Info("run %s started", "r1")
	Debug("hidden %d", 1)
	With("run_id", "r1").Warn("slow oracle")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "run r1 started") {
		t.Errorf("log = %q, want info record", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("log = %q, debug record should be filtered", out)
	}
	if !strings.Contains(out, "run_id=r1") {
		t.Errorf("log = %q, want run_id attr", out)
	}
}

func TestSetup_JSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	if err := Setup(Options{Path: path, Format: "json"}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer Close()

	Error("boom")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"msg":"boom"`) {
		t.Errorf("log = %q, want JSON record", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClose_DiscardsAfterwards(t *testing.T) {
	Close()
	Info("nothing happens")
	if GetWriter() == nil {
		t.Error("GetWriter() should never be nil")
	}
}
