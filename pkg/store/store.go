// Package store persists tests, runs and their steps.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/core"
)

var (
	// ErrNotFound is returned for a missing test, run or step.
	ErrNotFound = errors.New("not found")
	// ErrRunNotRunning is returned by SetStatus when the run already has a terminal status.
	ErrRunNotRunning = errors.New("run is not running")
	// ErrDuplicate is returned when an ID or step index already exists.
	ErrDuplicate = errors.New("already exists")
)

// Store is the persistence boundary shared by all runs. Implementations
// are safe for concurrent use.
type Store interface {
	CreateTest(ctx context.Context, t *core.Test) error
	GetTest(ctx context.Context, id string) (*core.Test, error)

	CreateRun(ctx context.Context, run *core.TestRun) error
	// GetRun returns the run with all steps ordered by index.
	GetRun(ctx context.Context, id string) (*core.TestRun, error)
	// ListRuns returns a test's runs latest first, without steps.
	ListRuns(ctx context.Context, testID string) ([]*core.TestRun, error)

	// AppendStep adds a step and bumps the run's updatedAt.
	AppendStep(ctx context.Context, runID string, step core.Step) error
	// UpdateStepIssues attaches advisory issues to the step at index.
	UpdateStepIssues(ctx context.Context, runID string, index int, issues []core.Issue, at time.Time) error
	// SetStatus moves a running run to a terminal status. Only the first
	// terminal write succeeds; later ones get ErrRunNotRunning.
	SetStatus(ctx context.Context, runID string, status core.RunStatus, reason string) error

	Close() error
}

// Open returns the store selected by cfg
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.DSN)
	case "postgres":
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func checkTerminal(status core.RunStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return nil
}
