// Package agent runs the observe/decide/act loop of one test run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/uiagent/pkg/action"
	"github.com/devicelab-dev/uiagent/pkg/advisory"
	"github.com/devicelab-dev/uiagent/pkg/artifacts"
	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/device"
	"github.com/devicelab-dev/uiagent/pkg/events"
	"github.com/devicelab-dev/uiagent/pkg/history"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/metrics"
	"github.com/devicelab-dev/uiagent/pkg/oracle"
	"github.com/devicelab-dev/uiagent/pkg/store"
	"github.com/devicelab-dev/uiagent/pkg/tracing"
	"github.com/devicelab-dev/uiagent/pkg/verdict"
)

// Run reasons
const (
	ReasonFinished  = "Test finished successfully"
	ReasonCancelled = "Cancelled"
)

// Config tunes one agent.
type Config struct {
	Delay            time.Duration
	LoadingThreshold int
	BlankThreshold   int
	CoordinateScale  float64 // > 0 fixes the scale; 0 derives it per run
	HistoryMaxPairs  int
	Gestures         action.Gestures
}

// ConfigFrom extracts the agent settings from the application config
func ConfigFrom(c *config.Config) Config {
	return Config{
		Delay:            c.Agent.Delay,
		LoadingThreshold: c.Agent.LoadingThreshold,
		BlankThreshold:   c.Agent.BlankThreshold,
		CoordinateScale:  c.Agent.CoordinateScale,
		HistoryMaxPairs:  c.Agent.HistoryMaxPairs,
		Gestures: action.Gestures{
			ScrollDistance: c.Device.ScrollDistance,
			LongPressMs:    c.Device.LongPressMs,
			DragMs:         c.Device.DragMs,
			ScrollMs:       c.Device.ScrollMs,
		},
	}
}

// Capturer returns the current screen as an encoded image
type Capturer interface {
	Capture(ctx context.Context, serial string) (core.Image, error)
}

// Deps are the collaborators an agent uses. Artifacts, Advisory, Events
// and Metrics are optional.
type Deps struct {
	Store     store.Store
	Artifacts artifacts.Store
	Device    device.Executor
	Screens   *device.ScreenResolver
	Capturer  Capturer
	Action    oracle.Oracle
	Verdict   oracle.Oracle
	Advisory  *advisory.Dispatcher
	Events    events.Publisher
	Metrics   *metrics.Metrics
}

// Outcome is how a run ended.
type Outcome struct {
	Status core.RunStatus
	Reason string
	Steps  int
	// Recorded is true when this agent's terminal write took effect.
	Recorded bool
}

// Agent drives one run. It owns its ledger and counters and is not safe
// for concurrent use.
type Agent struct {
	runID  string
	test   core.Test
	cfg    Config
	deps   Deps
	log    *slog.Logger
	serial string

	ledger     *history.Ledger
	classifier *verdict.Classifier
	screen     device.Size // As reported by wm size, always portrait
	exec       *action.Executor
	execScreen device.Size
	next       int
}

// New creates an agent for runID executing test.
func New(runID string, test core.Test, cfg Config, deps Deps) *Agent {
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if deps.Screens == nil {
		deps.Screens = device.NewScreenResolver(deps.Device, device.DefaultSize, 1)
	}
	return &Agent{
		runID:      runID,
		test:       test,
		cfg:        cfg,
		deps:       deps,
		serial:     test.DeviceID,
		log:        logger.With("run_id", runID, "test_id", test.ID, "device", test.DeviceID),
		ledger:     history.NewLedger(history.WithMaxPairs(cfg.HistoryMaxPairs)),
		classifier: verdict.NewClassifier(cfg.LoadingThreshold, cfg.BlankThreshold),
	}
}

// Ledger exposes the conversation history, for inspection in tests
func (a *Agent) Ledger() *history.Ledger {
	return a.ledger
}

// Run executes the loop until a terminal classification, an error or
// cancellation. The returned error is non-nil only when the terminal
// status could not be written.
func (a *Agent) Run(ctx context.Context) (out Outcome, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanRun,
		attribute.String(tracing.AttrRunID, a.runID),
		attribute.String(tracing.AttrTestID, a.test.ID),
		attribute.String(tracing.AttrDevice, a.serial),
	)
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrStep, out.Steps))
		tracing.End(span, err)
	}()

	a.log.Info("agent started", "instruction", a.test.Instruction)
	a.publish(ctx, events.Event{Type: events.RunStarted, Status: string(core.RunRunning)})

	a.screen = a.deps.Screens.Size(ctx, a.serial)
	a.log.Debug("screen resolved", "width", a.screen.Width, "height", a.screen.Height)

	if err := a.setup(ctx); err != nil {
		if ctx.Err() != nil {
			return a.cancelled(ctx)
		}
		return a.finish(ctx, core.RunQuit, err.Error())
	}

	for {
		if !sleep(ctx, a.cfg.Delay) {
			return a.cancelled(ctx)
		}

		res, err := a.iterate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return a.cancelled(ctx)
			}
			a.log.Error("iteration failed", "step", a.next, "error", err)
			return a.finish(ctx, core.RunQuit, err.Error())
		}
		if res.done {
			return a.finish(ctx, res.status, res.reason)
		}
	}
}

// setup runs the test's optional setup command through the device shell.
func (a *Agent) setup(ctx context.Context) error {
	if a.test.SetupCommand == "" {
		return nil
	}
	args, err := SetupArgs(a.test.SetupCommand)
	if err != nil {
		return err
	}
	if _, err := a.deps.Device.Execute(ctx, a.serial, args...); err != nil {
		return core.ErrDeviceCommand.WithCause(err).WithMessage("setup command failed")
	}
	a.log.Info("setup command executed", "command", a.test.SetupCommand)
	return nil
}

// SetupArgs splits a setup command into the adb argv that runs it.
func SetupArgs(cmd string) ([]string, error) {
	words, err := shellwords.Parse(cmd)
	if err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithMessage("invalid setup command")
	}
	if len(words) == 0 {
		return nil, core.ErrInvalidConfig.WithMessage("empty setup command")
	}
	return append([]string{"shell"}, words...), nil
}

type iteration struct {
	done   bool
	status core.RunStatus
	reason string
}

func (a *Agent) iterate(ctx context.Context) (res iteration, err error) {
	index := a.next
	ctx, span := tracing.Start(ctx, tracing.SpanIteration,
		attribute.String(tracing.AttrRunID, a.runID),
		attribute.Int(tracing.AttrStep, index),
	)
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("iteration panicked", "step", index, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("agent panic: %v", r)
		}
		tracing.End(span, err)
	}()

	img, err := a.deps.Capturer.Capture(ctx, a.serial)
	if err != nil {
		return res, err
	}
	if screen := a.screenFor(img); a.exec == nil || screen != a.execScreen {
		a.exec = action.NewExecutor(a.deps.Device, a.serial, a.scaleFor(img, screen), screen, a.cfg.Gestures)
		a.execScreen = screen
	}

	key := core.ScreenshotKey(a.runID, index)
	if a.deps.Artifacts != nil {
		if err := a.deps.Artifacts.Put(ctx, key, img.ContentType, img.Data); err != nil {
			return res, core.ErrPersistence.WithCause(err).WithMessage("store screenshot")
		}
	}

	current := oracle.Observation(img)
	turns := a.ledger.With(current)

	var actionResp, verdictResp string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := a.deps.Action.Complete(gctx, oracle.ActionTurns(a.test.Instruction, turns))
		actionResp = out
		return oracleErr("action", err)
	})
	g.Go(func() error {
		out, err := a.deps.Verdict.Complete(gctx, turns)
		verdictResp = out
		return oracleErr("verdict", err)
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	thought, act, err := oracle.ParseDecision(actionResp)
	if err != nil {
		return res, err
	}

	token := verdict.Extract(verdictResp)
	v, known := verdict.Parse(token)
	if !known {
		a.log.Warn("treating verdict as pass", "step", index,
			"error", core.ErrUnknownVerdict.WithMessage(fmt.Sprintf("unrecognized verdict %q", token)))
	}
	decision := a.classifier.Observe(v)

	cmd, parseErr := action.Parse(act)
	verb := ""
	if parseErr == nil {
		verb = cmd.Verb()
	}

	step := core.Step{
		Index:           index,
		Screenshot:      key,
		ActionResponse:  actionResp,
		VerdictResponse: verdictResp,
		Thought:         thought,
		Action:          act,
		Command:         verb,
		Verdict:         v,
		Suppressed:      decision.Suppress,
		Timestamp:       time.Now().UTC(),
	}
	if err := a.deps.Store.AppendStep(ctx, a.runID, step); err != nil {
		return res, core.ErrPersistence.WithCause(err).WithMessage("save step")
	}
	a.next++
	a.deps.Metrics.StepRecorded(v.Kind.String())
	a.publish(ctx, events.Event{Type: events.StepAppended, StepIndex: index})
	span.SetAttributes(attribute.String(tracing.AttrVerdict, v.Kind.String()), attribute.String(tracing.AttrCommand, verb))
	a.log.Info("step recorded", "step", index, "verdict", v.Kind.String(), "action", act)

	if a.deps.Advisory != nil {
		a.deps.Advisory.Dispatch(ctx, a.runID, index, img)
	}

	switch {
	case decision.Terminate:
		a.log.Warn("terminating on verdict", "step", index, "reason", decision.Reason)
		return iteration{done: true, status: core.RunQuit, reason: decision.Reason}, nil
	case decision.Suppress:
		a.log.Info("transient screen, step kept out of history", "step", index, "verdict", v.Kind.String(), "count", decision.Count)
		return res, nil
	}

	if parseErr != nil {
		a.log.Warn("ignoring unparseable action", "step", index, "action", act, "error", parseErr)
		return res, nil
	}
	if _, ok := cmd.(action.Finished); ok {
		a.log.Info("task finished", "step", index, "action", act)
		return iteration{done: true, status: core.RunCompleted, reason: ReasonFinished}, nil
	}

	if _, err := a.exec.Dispatch(ctx, cmd); err != nil {
		a.deps.Metrics.DeviceError()
		// The device may have been swapped or rotated; re-read wm size next run.
		a.deps.Screens.Forget(a.serial)
		return res, err
	}
	a.ledger.Append(index, current, oracle.Decision(thought, act))
	return res, nil
}

// screenFor returns the screen size in the frame's orientation. Taps use
// the same orientation as screencap, so the raw capture size is exact;
// without it the portrait wm size is swapped for landscape frames.
func (a *Agent) screenFor(img core.Image) device.Size {
	if img.SourceWidth > 0 && img.SourceHeight > 0 {
		return device.Size{Width: img.SourceWidth, Height: img.SourceHeight}
	}
	s := a.screen
	if img.Width > 0 && img.Height > 0 && (img.Width > img.Height) != (s.Width > s.Height) {
		s.Width, s.Height = s.Height, s.Width
	}
	return s
}

// scaleFor returns the configured scale, or screen/frame per axis.
func (a *Agent) scaleFor(img core.Image, screen device.Size) action.Scale {
	if a.cfg.CoordinateScale > 0 {
		return action.Uniform(a.cfg.CoordinateScale)
	}
	s := action.DeriveScale(screen.Width, screen.Height, img.Width, img.Height)
	a.log.Debug("coordinate scale derived", "x", s.X, "y", s.Y)
	return s
}

// finish writes the terminal status. Losing to an earlier terminal write
// (stop or timeout) is not an error.
func (a *Agent) finish(ctx context.Context, status core.RunStatus, reason string) (Outcome, error) {
	out := Outcome{Status: status, Reason: reason, Steps: a.next}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := a.deps.Store.SetStatus(wctx, a.runID, status, reason)
	switch {
	case err == nil:
		out.Recorded = true
		a.log.Info("run finished", "status", status, "reason", reason, "steps", out.Steps)
		a.publish(wctx, events.Event{Type: events.RunFinished, Status: string(status), Reason: reason, StepIndex: out.Steps})
		return out, nil
	case errors.Is(err, store.ErrRunNotRunning):
		a.log.Debug("terminal status already recorded", "wanted", status)
		return out, nil
	default:
		return out, core.ErrPersistence.WithCause(err).WithMessage("update run status")
	}
}

// cancelled records quit with the cancellation cause; normally the
// supervisor has already written it and this write loses.
func (a *Agent) cancelled(ctx context.Context) (Outcome, error) {
	reason := ReasonCancelled
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		reason = cause.Error()
	}
	return a.finish(ctx, core.RunQuit, reason)
}

func (a *Agent) publish(ctx context.Context, ev events.Event) {
	ev.RunID = a.runID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := a.deps.Events.Publish(ctx, ev); err != nil {
		a.log.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

func oracleErr(name string, err error) error {
	if err == nil {
		return nil
	}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return core.ErrOracleFailed.WithCause(err).WithDetails(map[string]interface{}{"oracle": name})
}

// sleep waits d or until ctx is done; it reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}
