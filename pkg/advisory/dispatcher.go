// Package advisory runs the background visual-issue check of each step.
package advisory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/events"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/metrics"
	"github.com/devicelab-dev/uiagent/pkg/oracle"
	"github.com/devicelab-dev/uiagent/pkg/store"
)

// Dispatcher starts detached advisory checks and attaches their issues to
// steps by index. Its failures never reach the run.
type Dispatcher struct {
	advisor oracle.Advisor
	store   store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil publisher drops events.
func NewDispatcher(a oracle.Advisor, st store.Store, pub events.Publisher, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	if pub == nil {
		pub = events.Noop{}
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Dispatcher{advisor: a, store: st, events: pub, metrics: m, timeout: timeout}
}

// Dispatch analyzes img in the background and stores the result on step
// index of runID. ctx only carries values; its cancellation is ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, index int, img core.Image) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.metrics.AdvisoryObserved("panic")
				logger.Error("advisory check panicked for run %s step %d: %v", runID, index, r)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.run(ctx, runID, index, img); err != nil {
			d.metrics.AdvisoryObserved("failed")
			logger.Warn("advisory check failed for run %s step %d: %v", runID, index, err)
			return
		}
		d.metrics.AdvisoryObserved("ok")
	}()
}

func (d *Dispatcher) run(ctx context.Context, runID string, index int, img core.Image) error {
	issues, err := d.advisor.Analyze(ctx, img)
	if err != nil {
		return err
	}
	if issues == nil {
		issues = []core.Issue{}
	}
	if err := d.store.UpdateStepIssues(ctx, runID, index, issues, time.Now().UTC()); err != nil {
		return fmt.Errorf("update step issues: %w", err)
	}
	logger.Debug("advisory check for run %s step %d found %d issues", runID, index, len(issues))

	if err := d.events.Publish(ctx, events.Event{
		RunID:     runID,
		Type:      events.StepIssues,
		StepIndex: index,
		Issues:    len(issues),
		At:        time.Now().UTC(),
	}); err != nil {
		logger.Warn("publish %s for run %s: %v", events.StepIssues, runID, err)
	}
	return nil
}

// Wait blocks until every dispatched check has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
