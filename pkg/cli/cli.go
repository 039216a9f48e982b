// Package cli provides the command-line interface for uiagent.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to uiagent.yaml (default: <home>/uiagent.yaml)",
		EnvVars: []string{"UIAGENT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write logs to this file instead of stderr",
		EnvVars: []string{"UIAGENT_LOG_FILE"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{"UIAGENT_LOG_LEVEL"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"UIAGENT_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "action-api-key",
		Usage:   "API key of the action oracle",
		EnvVars: []string{"UIAGENT_ACTION_API_KEY", "PARASAIL_API_KEY"},
	},
	&cli.StringFlag{
		Name:    "verdict-api-key",
		Usage:   "API key of the verdict oracle (default: action key)",
		EnvVars: []string{"UIAGENT_VERDICT_API_KEY"},
	},
	&cli.StringFlag{
		Name:    "advisory-api-key",
		Usage:   "API key of the advisory visual check",
		EnvVars: []string{"UIAGENT_ADVISORY_API_KEY", "GEMINI_API_KEY"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// App builds the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "uiagent",
		Usage:   "Autonomous UI acceptance testing for Android apps",
		Version: Version,
		Description: `uiagent drives an Android device from a natural-language instruction.
A vision model picks each action, a second one watches for crashes and
inconsistencies, and every step is recorded with its screenshot.

Examples:
  uiagent devices
  uiagent run --device emulator-5554 --instruction "Open settings and enable dark mode"
  uiagent serve --addr :8080
  uiagent parse-action "click(point='<point>100 200</point>')"`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			runCommand,
			devicesCommand,
			parseActionCommand,
			reportCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if v := c.String("log-file"); v != "" {
		cfg.Log.File = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if v := c.String("action-api-key"); v != "" {
		cfg.Oracle.Action.APIKey = v
	}
	if v := c.String("verdict-api-key"); v != "" {
		cfg.Oracle.Verdict.APIKey = v
	}
	if v := c.String("advisory-api-key"); v != "" {
		cfg.Oracle.Advisory.APIKey = v
	}
	inheritEndpoint(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// inheritEndpoint fills unset verdict oracle fields from the action oracle;
// both roles are usually served by the same model.
func inheritEndpoint(cfg *config.Config) {
	a, v := cfg.Oracle.Action, &cfg.Oracle.Verdict
	if v.URL == "" {
		v.URL = a.URL
	}
	if v.APIKey == "" {
		v.APIKey = a.APIKey
	}
	if v.Model == "" {
		v.Model = a.Model
	}
}

// setupLogging installs the global logger from cfg.
func setupLogging(cfg *config.Config) error {
	return logger.Setup(logger.Options{
		Path:   cfg.Log.File,
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}
