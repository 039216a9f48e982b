package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "uiagent.yaml")

	content := `
agent:
  delay: 500ms
  loading_threshold: 5
  default_timeout: 5m
  coordinate_scale: 2
oracle:
  action:
    url: http://localhost:9000/v1/chat/completions
    model: ui-tars
  verdict:
    url: http://localhost:9001/v1/chat/completions
    model: qwen-vl
  requests_per_second: 4
device:
  scroll_distance: 700
store:
  driver: sqlite
  dsn: /tmp/uiagent.db
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Agent.Delay != 500*time.Millisecond {
		t.Errorf("expected delay 500ms, got %v", cfg.Agent.Delay)
	}
	if cfg.Agent.LoadingThreshold != 5 {
		t.Errorf("expected loading threshold 5, got %d", cfg.Agent.LoadingThreshold)
	}
	if cfg.Agent.BlankThreshold != 3 {
		t.Errorf("expected default blank threshold 3, got %d", cfg.Agent.BlankThreshold)
	}
	if cfg.Agent.DefaultTimeout != 5*time.Minute {
		t.Errorf("expected timeout 5m, got %v", cfg.Agent.DefaultTimeout)
	}
	if cfg.Agent.CoordinateScale != 2 {
		t.Errorf("expected coordinate scale 2, got %v", cfg.Agent.CoordinateScale)
	}
	if cfg.Oracle.Action.Model != "ui-tars" || cfg.Oracle.Verdict.Model != "qwen-vl" {
		t.Errorf("unexpected oracle models: %+v", cfg.Oracle)
	}
	if cfg.Oracle.Action.Temperature != 0.25 {
		t.Errorf("expected default temperature 0.25, got %v", cfg.Oracle.Action.Temperature)
	}
	if cfg.Device.ScrollDistance != 700 || cfg.Device.DefaultWidth != 1080 {
		t.Errorf("unexpected device config: %+v", cfg.Device)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/uiagent.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "uiagent.yaml")
	if err := os.WriteFile(configPath, []byte("agent: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromDir_Yml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "uiagent.yml"), []byte("server:\n  addr: :9999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected addr :9999, got %s", cfg.Server.Addr)
	}
}

func TestLoadFromDir_PrefersYamlOverYml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "uiagent.yaml"), []byte("server:\n  addr: :1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "uiagent.yml"), []byte("server:\n  addr: :2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":1" {
		t.Errorf("expected uiagent.yaml to win, got %s", cfg.Server.Addr)
	}
}

func TestLoadFromDir_NoConfig(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.Delay != 2*time.Second {
		t.Errorf("expected default delay 2s, got %v", cfg.Agent.Delay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   *core.ExecutionError
	}{
		{"negative delay", func(c *Config) { c.Agent.Delay = -1 }, core.ErrInvalidConfig},
		{"zero timeout", func(c *Config) { c.Agent.DefaultTimeout = 0 }, core.ErrInvalidConfig},
		{"ratio above one", func(c *Config) { c.Agent.ScreenshotRatio = 1.5 }, core.ErrInvalidConfig},
		{"quality zero", func(c *Config) { c.Agent.JPEGQuality = 0 }, core.ErrInvalidConfig},
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, core.ErrInvalidConfig},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, core.ErrMissingRequired},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = "s3" }, core.ErrMissingRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
