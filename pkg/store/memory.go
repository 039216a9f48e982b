package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

// Memory is an in-process Store. Reads return deep copies.
type Memory struct {
	mu    sync.RWMutex
	tests map[string]*core.Test
	runs  map[string]*core.TestRun
	now   func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		tests: make(map[string]*core.Test),
		runs:  make(map[string]*core.TestRun),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateTest(ctx context.Context, t *core.Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[t.ID]; ok {
		return ErrDuplicate
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.tests[t.ID] = &cp
	return nil
}

func (m *Memory) GetTest(ctx context.Context, id string) (*core.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) CreateRun(ctx context.Context, run *core.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrDuplicate
	}
	m.runs[run.ID] = copyRun(run, true)
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (*core.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(r, true), nil
}

func (m *Memory) ListRuns(ctx context.Context, testID string) ([]*core.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.TestRun
	for _, r := range m.runs {
		if r.TestID == testID {
			out = append(out, copyRun(r, false))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) AppendStep(ctx context.Context, runID string, step core.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	for _, s := range r.Steps {
		if s.Index == step.Index {
			return ErrDuplicate
		}
	}
	r.Steps = append(r.Steps, copyStep(step))
	sort.SliceStable(r.Steps, func(i, j int) bool { return r.Steps[i].Index < r.Steps[j].Index })
	r.UpdatedAt = m.now()
	return nil
}

func (m *Memory) UpdateStepIssues(ctx context.Context, runID string, index int, issues []core.Issue, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	for i := range r.Steps {
		if r.Steps[i].Index == index {
			r.Steps[i].Issues = append([]core.Issue{}, issues...)
			ts := at
			r.Steps[i].IssuesAnalyzedAt = &ts
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) SetStatus(ctx context.Context, runID string, status core.RunStatus, reason string) error {
	if err := checkTerminal(status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if !r.Status.CanTransition(status) {
		return ErrRunNotRunning
	}
	now := m.now()
	r.Status = status
	if reason != "" {
		r.Reason = reason
	}
	r.EndedAt = &now
	r.UpdatedAt = now
	return nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

func copyRun(r *core.TestRun, withSteps bool) *core.TestRun {
	cp := *r
	cp.Steps = nil
	if withSteps {
		cp.Steps = make([]core.Step, len(r.Steps))
		for i, s := range r.Steps {
			cp.Steps[i] = copyStep(s)
		}
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

func copyStep(s core.Step) core.Step {
	if s.Issues != nil {
		s.Issues = append([]core.Issue{}, s.Issues...)
	}
	if s.IssuesAnalyzedAt != nil {
		t := *s.IssuesAnalyzedAt
		s.IssuesAnalyzedAt = &t
	}
	return s
}

var _ Store = (*Memory)(nil)
