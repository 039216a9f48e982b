package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/server"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP API that creates, stops and inspects test runs",
	Description: `Serve the run API. Identity is taken from the X-User-ID and
X-User-Role headers set by an upstream auth proxy.

Examples:
  uiagent serve
  uiagent --config prod.yaml serve --addr :9090`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Listen address (default: server.addr from config)",
			EnvVars: []string{"UIAGENT_ADDR"},
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Usage: "How long to wait for runs and advisory checks on shutdown",
			Value: 30 * time.Second,
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	sup := rt.supervisor()
	e := server.New(server.Options{
		Store:      rt.store,
		Supervisor: sup,
		Artifacts:  rt.artifacts,
		Gatherer:   rt.registry,
		Version:    Version,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.Server.Addr)
		errCh <- e.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	sctx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown: %v", err)
	}
	if err := sup.Shutdown(sctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
