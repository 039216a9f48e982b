package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uiagent/pkg/artifacts"
	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/report"
	"github.com/devicelab-dev/uiagent/pkg/store"
)

var reportCommand = &cli.Command{
	Name:  "report",
	Usage: "Render a stored run as an HTML report",
	Description: `Render a run from the configured store. Screenshots are embedded, so
the file can be shared on its own.

Examples:
  uiagent report --run 0b5c...
  uiagent report --run 0b5c... --out run.html`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "run",
			Usage:    "Run ID",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Output file (default: <home>/reports/<run>.html)",
		},
		&cli.StringFlag{
			Name:  "title",
			Usage: "Report title",
		},
	},
	Action: runReport,
}

func runReport(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logger.Close()

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	arts, err := artifacts.Open(c.Context, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("open artifacts: %w", err)
	}
	out := c.String("out")
	if out == "" {
		out = config.HomePath("reports", c.String("run")+".html")
	}
	return writeReport(c.Context, st, arts, c.String("run"), out, c.String("title"))
}

func writeReport(ctx context.Context, st store.Store, arts artifacts.Store, runID, out, title string) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	test, err := st.GetTest(ctx, run.TestID)
	if err != nil {
		logger.Warn("report: test %s not found: %v", run.TestID, err)
		test = nil
	}
	cfg := report.HTMLConfig{Title: title, EmbedAssets: true}
	if err := report.Generate(ctx, out, run, test, arts, cfg); err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", out)
	return nil
}
