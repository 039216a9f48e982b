// Package config handles configuration for uiagent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

// Config represents the agent configuration (uiagent.yaml).
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Device    DeviceConfig    `yaml:"device"`
	Store     StoreConfig     `yaml:"store"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	Delay            time.Duration `yaml:"delay"`             // Wait before each iteration
	LoadingThreshold int           `yaml:"loading_threshold"` // Consecutive loading verdicts tolerated
	BlankThreshold   int           `yaml:"blank_threshold"`   // Consecutive blank verdicts tolerated
	DefaultTimeout   time.Duration `yaml:"default_timeout"`   // Run timeout when the test sets none
	ScreenshotRatio  float64       `yaml:"screenshot_ratio"`  // Resize factor before sending to the oracle
	JPEGQuality      int           `yaml:"jpeg_quality"`
	MaxImageBytes    int           `yaml:"max_image_bytes"`
	CoordinateScale  float64       `yaml:"coordinate_scale"`  // 0 = derive from screen and image size
	HistoryMaxPairs  int           `yaml:"history_max_pairs"` // 0 = unbounded
	AdvisoryTimeout  time.Duration `yaml:"advisory_timeout"`
	AdvisoryEnabled  bool          `yaml:"advisory_enabled"`
}

// Endpoint is one OpenAI-compatible (or generateContent) model endpoint.
type Endpoint struct {
	URL         string  `yaml:"url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// OracleConfig configures the action, verdict and advisory oracles.
type OracleConfig struct {
	Action            Endpoint      `yaml:"action"`
	Verdict           Endpoint      `yaml:"verdict"`
	Advisory          Endpoint      `yaml:"advisory"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
}

// DeviceConfig configures the adb transport and gesture shapes.
type DeviceConfig struct {
	ADBPath        string `yaml:"adb_path"`
	DefaultWidth   int    `yaml:"default_width"`
	DefaultHeight  int    `yaml:"default_height"`
	ScrollDistance int    `yaml:"scroll_distance"`
	LongPressMs    int    `yaml:"long_press_ms"`
	DragMs         int    `yaml:"drag_ms"`
	ScrollMs       int    `yaml:"scroll_ms"`
	SizeCacheSize  int    `yaml:"size_cache_size"`
}

// StoreConfig selects the run store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// ArtifactsConfig selects where step screenshots are kept.
type ArtifactsConfig struct {
	Backend  string `yaml:"backend"` // fs, s3
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3-compatible endpoint override

	// Static credentials; empty uses the default AWS credential chain
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// EventsConfig configures run event publishing.
type EventsConfig struct {
	RedisURL     string `yaml:"redis_url"` // empty disables publishing
	StreamPrefix string `yaml:"stream_prefix"`
	MaxLen       int64  `yaml:"max_len"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"` // empty disables export
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Delay:            2 * time.Second,
			LoadingThreshold: 3,
			BlankThreshold:   3,
			DefaultTimeout:   120 * time.Second,
			ScreenshotRatio:  0.5,
			JPEGQuality:      90,
			MaxImageBytes:    1 << 20,
			AdvisoryTimeout:  60 * time.Second,
			AdvisoryEnabled:  true,
		},
		Oracle: OracleConfig{
			Action: Endpoint{
				URL:         "https://api.parasail.io/v1/chat/completions",
				Model:       "parasail-ui-tars-1p5-7b",
				Temperature: 0.25,
				MaxTokens:   2048,
			},
			Verdict: Endpoint{
				Temperature: 0.25,
				MaxTokens:   2048,
			},
			Advisory: Endpoint{
				URL:   "https://generativelanguage.googleapis.com/v1beta",
				Model: "gemini-2.5-flash",
			},
			Timeout:    90 * time.Second,
			MaxRetries: 2,
		},
		Device: DeviceConfig{
			ADBPath:        "adb",
			DefaultWidth:   1080,
			DefaultHeight:  2400,
			ScrollDistance: 500,
			LongPressMs:    500,
			DragMs:         500,
			ScrollMs:       100,
			SizeCacheSize:  64,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Artifacts: ArtifactsConfig{
			Backend: "fs",
			Dir:     HomePath("artifacts"),
		},
		Events: EventsConfig{
			StreamPrefix: "uiagent:runs",
			MaxLen:       1000,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "uiagent",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf(format, args...))
	}

	if c.Agent.Delay < 0 {
		return invalid("agent.delay must not be negative")
	}
	if c.Agent.LoadingThreshold < 0 || c.Agent.BlankThreshold < 0 {
		return invalid("agent thresholds must not be negative")
	}
	if c.Agent.DefaultTimeout <= 0 {
		return invalid("agent.default_timeout must be positive")
	}
	if c.Agent.ScreenshotRatio <= 0 || c.Agent.ScreenshotRatio > 1 {
		return invalid("agent.screenshot_ratio must be in (0, 1], got %v", c.Agent.ScreenshotRatio)
	}
	if c.Agent.JPEGQuality < 1 || c.Agent.JPEGQuality > 100 {
		return invalid("agent.jpeg_quality must be in [1, 100], got %d", c.Agent.JPEGQuality)
	}
	if c.Agent.CoordinateScale < 0 {
		return invalid("agent.coordinate_scale must not be negative")
	}
	if c.Agent.HistoryMaxPairs < 0 {
		return invalid("agent.history_max_pairs must not be negative")
	}
	if c.Device.DefaultWidth <= 0 || c.Device.DefaultHeight <= 0 {
		return invalid("device default size must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return core.ErrMissingRequired.WithMessage("store.dsn is required for " + c.Store.Driver)
		}
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Artifacts.Backend {
	case "fs":
		if c.Artifacts.Dir == "" {
			return core.ErrMissingRequired.WithMessage("artifacts.dir is required")
		}
	case "s3":
		if c.Artifacts.Bucket == "" {
			return core.ErrMissingRequired.WithMessage("artifacts.bucket is required")
		}
	default:
		return invalid("unknown artifacts.backend %q", c.Artifacts.Backend)
	}
	return nil
}

// Load loads configuration from a file, on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir looks for uiagent.yaml or uiagent.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"uiagent.yaml", "uiagent.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}
