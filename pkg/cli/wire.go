package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/uiagent/pkg/advisory"
	"github.com/devicelab-dev/uiagent/pkg/agent"
	"github.com/devicelab-dev/uiagent/pkg/artifacts"
	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/device"
	"github.com/devicelab-dev/uiagent/pkg/events"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/metrics"
	"github.com/devicelab-dev/uiagent/pkg/oracle"
	"github.com/devicelab-dev/uiagent/pkg/screen"
	"github.com/devicelab-dev/uiagent/pkg/store"
	"github.com/devicelab-dev/uiagent/pkg/supervisor"
	"github.com/devicelab-dev/uiagent/pkg/tracing"
)

// runtime holds everything a command needs to execute runs.
type runtime struct {
	cfg       *config.Config
	store     store.Store
	artifacts artifacts.Store
	events    events.Publisher
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	device    device.Executor
	deps      agent.Deps

	closers []func(context.Context) error
}

// runtimeOptions overrides parts of the wiring, for tests and ad-hoc runs.
type runtimeOptions struct {
	Device  device.Executor
	Action  oracle.Oracle
	Verdict oracle.Oracle
	Events  events.Publisher
}

// newRuntime wires stores, oracles, device and telemetry from cfg.
func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = metrics.MustNew(rt.registry)

	ok := false
	defer func() {
		if !ok {
			rt.Close(context.Background())
		}
	}()

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, shutdown)

	rt.store, err = store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })

	rt.artifacts, err = artifacts.Open(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("open artifacts: %w", err)
	}

	rt.events = opts.Events
	if rt.events == nil {
		rt.events, err = openEvents(ctx, cfg.Events)
		if err != nil {
			return nil, err
		}
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.events.Close() })

	rt.device = opts.Device
	if rt.device == nil {
		adb, err := device.NewADB(cfg.Device.ADBPath)
		if err != nil {
			return nil, err
		}
		rt.device = adb
	}

	action, verdict := opts.Action, opts.Verdict
	if action == nil || verdict == nil {
		a, v := newOracles(cfg, rt.metrics)
		if action == nil {
			action = a
		}
		if verdict == nil {
			verdict = v
		}
	}

	var dispatcher *advisory.Dispatcher
	if cfg.Agent.AdvisoryEnabled && cfg.Oracle.Advisory.APIKey != "" {
		advisor := oracle.NewAdvisoryClient(cfg.Oracle.Advisory, cfg.Agent.AdvisoryTimeout, rt.metrics)
		dispatcher = advisory.NewDispatcher(advisor, rt.store, rt.events, rt.metrics, cfg.Agent.AdvisoryTimeout)
	} else if cfg.Agent.AdvisoryEnabled {
		logger.Warn("advisory check disabled: no advisory API key")
	}

	rt.deps = agent.Deps{
		Store:     rt.store,
		Artifacts: rt.artifacts,
		Device:    rt.device,
		Screens: device.NewScreenResolver(rt.device, device.Size{
			Width:  cfg.Device.DefaultWidth,
			Height: cfg.Device.DefaultHeight,
		}, cfg.Device.SizeCacheSize),
		Capturer: screen.NewCapturer(rt.device, screen.Options{
			Ratio:    cfg.Agent.ScreenshotRatio,
			Quality:  cfg.Agent.JPEGQuality,
			MaxBytes: cfg.Agent.MaxImageBytes,
		}),
		Action:   action,
		Verdict:  verdict,
		Advisory: dispatcher,
		Events:   rt.events,
		Metrics:  rt.metrics,
	}
	ok = true
	return rt, nil
}

// newOracles builds the action and verdict chat clients. They share one
// limiter, since both usually hit the same provider account.
func newOracles(cfg *config.Config, m *metrics.Metrics) (oracle.Oracle, oracle.Oracle) {
	opts := []oracle.ChatOption{
		oracle.WithMaxRetries(cfg.Oracle.MaxRetries),
		oracle.WithMetrics(m),
	}
	if rps := cfg.Oracle.RequestsPerSecond; rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, oracle.WithLimiter(rate.NewLimiter(rate.Limit(rps), burst)))
	}
	action := oracle.NewChatClient("action", cfg.Oracle.Action, oracle.ActionSystemPrompt, cfg.Oracle.Timeout, opts...)
	verdict := oracle.NewChatClient("verdict", cfg.Oracle.Verdict, oracle.VerdictSystemPrompt, cfg.Oracle.Timeout, opts...)
	return action, verdict
}

func openEvents(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.RedisURL == "" {
		return events.Noop{}, nil
	}
	pub, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.StreamPrefix, cfg.MaxLen)
	if err != nil {
		return nil, fmt.Errorf("connect events redis: %w", err)
	}
	return pub, nil
}

// supervisor creates a supervisor over the runtime's dependencies.
func (rt *runtime) supervisor() *supervisor.Supervisor {
	return supervisor.New(supervisor.Config{
		Agent:          agent.ConfigFrom(rt.cfg),
		DefaultTimeout: rt.cfg.Agent.DefaultTimeout,
	}, rt.deps)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
