// Package supervisor creates, tracks, stops and times out test runs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/devicelab-dev/uiagent/pkg/agent"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/events"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/store"
)

// Run reasons written by the supervisor
const (
	ReasonStopped  = "Stopped by user"
	ReasonTimedOut = "Test timed out"
	ReasonShutdown = "Server shutting down"
)

var (
	// ErrRunNotFound is returned when a run is not active
	ErrRunNotFound = errors.New("run not found")
	// ErrShuttingDown is returned by Create after Shutdown started
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// Config tunes the supervisor
type Config struct {
	Agent          agent.Config
	DefaultTimeout time.Duration // Used when a test sets no timeout

	// Terminal status write retries after an agent failed to record its
	// own outcome.
	StatusRetries  int
	StatusInterval time.Duration
}

// Supervisor owns the registry of active runs. Agents share its Deps;
// everything in Deps must be safe for concurrent use.
type Supervisor struct {
	cfg      Config
	deps     agent.Deps
	registry *Registry

	mu      sync.Mutex
	loops   map[string]chan struct{}
	closing bool
	wg      sync.WaitGroup
}

// New creates a supervisor. deps.Store is required.
func New(cfg Config, deps agent.Deps) *Supervisor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 120 * time.Second
	}
	if cfg.StatusRetries <= 0 {
		cfg.StatusRetries = 5
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 200 * time.Millisecond
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	return &Supervisor{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		loops:    make(map[string]chan struct{}),
	}
}

// Registry exposes the active-run registry
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Create starts a run of testID on behalf of user and returns its ID
// without waiting for the loop.
func (s *Supervisor) Create(ctx context.Context, testID string, user core.User) (string, error) {
	test, err := s.deps.Store.GetTest(ctx, testID)
	if err != nil {
		return "", err
	}
	if !core.CanAccess(user, test.UserID) {
		return "", core.ErrAccessDenied.WithDetails(map[string]interface{}{"test_id": testID})
	}
	if !user.IsAdmin() && test.State != core.TestReady {
		return "", core.ErrTestNotReady.WithDetails(map[string]interface{}{"test_id": testID, "state": string(test.State)})
	}
	if test.SetupCommand != "" {
		if _, err := agent.SetupArgs(test.SetupCommand); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return "", ErrShuttingDown
	}

	now := time.Now().UTC()
	run := &core.TestRun{
		ID:        uuid.NewString(),
		TestID:    test.ID,
		UserID:    user.ID,
		Status:    core.RunRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Store.CreateRun(ctx, run); err != nil {
		return "", core.ErrPersistence.WithCause(err).WithMessage("create run")
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	e := &entry{runID: run.ID, testID: test.ID, ownerID: user.ID, started: now, cancel: cancel}
	done := make(chan struct{})

	// Shutdown may have started while the run was being inserted. Registering
	// under mu guarantees the run is either swept by Shutdown or refused here.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel(ErrShuttingDown)
		s.abandon(run.ID)
		return "", ErrShuttingDown
	}
	s.loops[run.ID] = done
	s.registry.add(e)
	s.wg.Add(2)
	s.mu.Unlock()
	s.deps.Metrics.RunStarted()

	timeout := test.Timeout(s.cfg.DefaultTimeout)
	logger.Info("run %s started for test %s by %s (timeout %s)", run.ID, test.ID, user.ID, timeout)

	go s.loop(runCtx, e, *test, done)
	go s.watch(e.runID, timeout, done)
	return run.ID, nil
}

// loop runs the agent and cleans up after natural completion.
func (s *Supervisor) loop(ctx context.Context, e *entry, test core.Test, done chan struct{}) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.loops, e.runID)
		s.mu.Unlock()
		close(done)
	}()
	defer e.cancel(nil)

	out, err := s.runAgent(ctx, e.runID, test)
	if err != nil {
		logger.Error("run %s: %v", e.runID, err)
		s.record(e.runID, out.Status, out.Reason)
	}
	if s.registry.Remove(e.runID) {
		logger.Debug("run %s removed after completion", e.runID)
	}

	status := out.Status
	if run, gerr := s.deps.Store.GetRun(context.Background(), e.runID); gerr == nil {
		status = run.Status
	}
	s.deps.Metrics.RunFinished(string(status))
	logger.Info("run %s ended: %s", e.runID, status)
}

func (s *Supervisor) runAgent(ctx context.Context, runID string, test core.Test) (out agent.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = agent.Outcome{Status: core.RunQuit, Reason: fmt.Sprintf("agent panic: %v", r)}
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return agent.New(runID, test, s.cfg.Agent, s.deps).Run(ctx)
}

// watch enforces the run timeout; it exits early when the loop ends.
func (s *Supervisor) watch(runID string, timeout time.Duration, done <-chan struct{}) {
	defer s.wg.Done()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-t.C:
		if err := s.terminate(context.Background(), runID, ReasonTimedOut); err == nil {
			logger.Warn("run %s timed out after %s", runID, timeout)
		}
	case <-done:
	}
}

// Stop ends an active run on behalf of user.
func (s *Supervisor) Stop(ctx context.Context, runID string, user core.User) error {
	e, ok := s.registry.get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if !core.CanAccess(user, e.ownerID) {
		return core.ErrAccessDenied.WithDetails(map[string]interface{}{"run_id": runID})
	}
	if err := s.terminate(ctx, runID, ReasonStopped); err != nil {
		return err
	}
	logger.Info("run %s stopped by %s", runID, user.ID)
	return nil
}

// terminate records quit with reason, then cancels the loop so the agent's
// own write carries the same reason and loses.
func (s *Supervisor) terminate(ctx context.Context, runID, reason string) error {
	e, ok := s.registry.take(runID)
	if !ok {
		return ErrRunNotFound
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	switch err := s.deps.Store.SetStatus(wctx, runID, core.RunQuit, reason); {
	case err == nil:
		s.publishFinished(wctx, runID, core.RunQuit, reason)
	case errors.Is(err, store.ErrRunNotRunning):
		logger.Debug("run %s already terminal, %q not recorded", runID, reason)
	default:
		// The agent retries the same write when it observes the cause.
		logger.Warn("run %s: record %q: %v", runID, reason, err)
	}

	e.cancel(errors.New(reason))
	return nil
}

// abandon closes a run that was inserted but never started.
func (s *Supervisor) abandon(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deps.Store.SetStatus(ctx, runID, core.RunQuit, ReasonShutdown); err != nil {
		logger.Warn("run %s: record %q: %v", runID, ReasonShutdown, err)
		return
	}
	s.publishFinished(ctx, runID, core.RunQuit, ReasonShutdown)
}

// record retries a terminal write the agent could not make.
func (s *Supervisor) record(runID string, status core.RunStatus, reason string) {
	if !status.IsTerminal() {
		status = core.RunQuit
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.StatusInterval
	policy := backoff.WithMaxRetries(b, uint64(s.cfg.StatusRetries))

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.deps.Store.SetStatus(ctx, runID, status, reason)
		switch {
		case err == nil:
			s.publishFinished(ctx, runID, status, reason)
			return nil
		case errors.Is(err, store.ErrRunNotRunning), errors.Is(err, store.ErrNotFound):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.deps.Metrics.StatusRetry()
		logger.Warn("run %s: status write failed, retrying in %s: %v", runID, wait, err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil && !errors.Is(err, store.ErrRunNotRunning) {
		logger.Error("run %s: giving up on status %s: %v", runID, status, err)
	}
}

func (s *Supervisor) publishFinished(ctx context.Context, runID string, status core.RunStatus, reason string) {
	err := s.deps.Events.Publish(ctx, events.Event{
		RunID:  runID,
		Type:   events.RunFinished,
		Status: string(status),
		Reason: reason,
		At:     time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("publish %s for run %s: %v", events.RunFinished, runID, err)
	}
}

// Active returns the IDs of running runs, oldest first
func (s *Supervisor) Active() []string {
	return s.registry.IDs()
}

// Wait blocks until the loop of runID has exited or ctx is done. It
// returns immediately for unknown or finished runs.
func (s *Supervisor) Wait(ctx context.Context, runID string) error {
	s.mu.Lock()
	done, ok := s.loops[runID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every active run, then waits for loops and advisory
// checks until ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	ids := s.registry.IDs()
	for _, id := range ids {
		_ = s.terminate(ctx, id, ReasonShutdown)
	}
	if len(ids) > 0 {
		logger.Info("shutdown: stopped %d active runs", len(ids))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}

	if s.deps.Advisory != nil {
		if err := s.deps.Advisory.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for advisory checks: %w", err)
		}
	}
	return nil
}
