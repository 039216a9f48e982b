package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uiagent/pkg/agent"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/device"
	"github.com/devicelab-dev/uiagent/pkg/device/mock"
	"github.com/devicelab-dev/uiagent/pkg/events"
	"github.com/devicelab-dev/uiagent/pkg/oracle"
	"github.com/devicelab-dev/uiagent/pkg/store"
)

var (
	owner    = core.User{ID: "alice", Role: core.RoleUser}
	stranger = core.User{ID: "bob", Role: core.RoleUser}
	admin    = core.User{ID: "root", Role: core.RoleAdmin}
)

type frames struct{}

func (frames) Capture(ctx context.Context, serial string) (core.Image, error) {
	return core.Image{ContentType: core.ContentTypeJPEG, Data: []byte{1}, Width: 540, Height: 1200}, nil
}

// hang never answers until the run is cancelled
var hang = oracle.Func(func(ctx context.Context, turns []oracle.Turn) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
})

func answer(s string) oracle.Oracle {
	return oracle.Func(func(ctx context.Context, turns []oracle.Turn) (string, error) {
		return s, nil
	})
}

type fixture struct {
	sup    *Supervisor
	store  *store.Memory
	events *events.Recorder
}

func newFixture(t *testing.T, act oracle.Oracle, timeout time.Duration) *fixture {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.CreateTest(ctx, &core.Test{ID: "t1", UserID: "alice", Instruction: "open settings", DeviceID: "emu", State: core.TestReady}))
	require.NoError(t, st.CreateTest(ctx, &core.Test{ID: "draft", UserID: "alice", Instruction: "x", DeviceID: "emu", State: core.TestDraft}))

	rec := &events.Recorder{}
	sup := New(Config{
		Agent:          agent.Config{LoadingThreshold: 3, BlankThreshold: 3},
		DefaultTimeout: timeout,
		StatusInterval: time.Millisecond,
	}, agent.Deps{
		Store:    st,
		Device:   mock.New(mock.Config{Size: device.Size{Width: 1080, Height: 2400}}),
		Capturer: frames{},
		Action:   act,
		Verdict:  answer("```pass()```"),
		Events:   rec,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return &fixture{sup: sup, store: st, events: rec}
}

func (f *fixture) wait(t *testing.T, runID string) *core.TestRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Wait(ctx, runID))
	run, err := f.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	return run
}

func TestSupervisor_TimeoutWithHungOracle(t *testing.T) {
	f := newFixture(t, hang, 50*time.Millisecond)

	runID, err := f.sup.Create(context.Background(), "t1", owner)
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, f.sup.Active())

	run := f.wait(t, runID)
	assert.Equal(t, core.RunQuit, run.Status)
	assert.Equal(t, ReasonTimedOut, run.Reason)
	assert.NotNil(t, run.EndedAt)
	assert.Empty(t, f.sup.Active())
	assert.False(t, f.sup.Registry().Remove(runID))

	finished := f.events.OfType(events.RunFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, ReasonTimedOut, finished[0].Reason)
}

func TestSupervisor_StopAfterCompletion(t *testing.T) {
	f := newFixture(t, answer("Thought: done\nAction: finished(content='ok')"), time.Minute)

	runID, err := f.sup.Create(context.Background(), "t1", owner)
	require.NoError(t, err)
	run := f.wait(t, runID)
	assert.Equal(t, core.RunCompleted, run.Status)

	err = f.sup.Stop(context.Background(), runID, owner)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	run, _ = f.store.GetRun(context.Background(), runID)
	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Len(t, f.events.OfType(events.RunFinished), 1)
}

func TestSupervisor_Stop(t *testing.T) {
	f := newFixture(t, hang, time.Minute)
	runID, err := f.sup.Create(context.Background(), "t1", owner)
	require.NoError(t, err)

	err = f.sup.Stop(context.Background(), runID, stranger)
	assert.True(t, errors.Is(err, core.ErrAccessDenied))

	require.NoError(t, f.sup.Stop(context.Background(), runID, owner))
	run := f.wait(t, runID)
	assert.Equal(t, core.RunQuit, run.Status)
	assert.Equal(t, ReasonStopped, run.Reason)

	assert.True(t, errors.Is(f.sup.Stop(context.Background(), runID, owner), ErrRunNotFound))
}

func TestSupervisor_ConcurrentStopTerminatesOnce(t *testing.T) {
	f := newFixture(t, hang, time.Minute)
	runID, err := f.sup.Create(context.Background(), "t1", owner)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.sup.Stop(context.Background(), runID, admin)
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, ErrRunNotFound))
		}
	}
	assert.Equal(t, 1, ok)
	f.wait(t, runID)
	assert.Len(t, f.events.OfType(events.RunFinished), 1)
}

func TestSupervisor_CreateAccess(t *testing.T) {
	f := newFixture(t, hang, time.Minute)
	ctx := context.Background()

	tests := []struct {
		name   string
		testID string
		user   core.User
		want   error
	}{
		{"stranger", "t1", stranger, core.ErrAccessDenied},
		{"draft for owner", "draft", owner, core.ErrTestNotReady},
		{"missing", "nope", owner, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sup.Create(ctx, tt.testID, tt.user)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	// Admins bypass ownership and readiness
	runID, err := f.sup.Create(ctx, "draft", admin)
	require.NoError(t, err)
	require.NoError(t, f.sup.Stop(ctx, runID, admin))
}

func TestSupervisor_CreateRejectsBadSetupCommand(t *testing.T) {
	f := newFixture(t, hang, time.Minute)
	require.NoError(t, f.store.CreateTest(context.Background(), &core.Test{
		ID: "bad", UserID: "alice", DeviceID: "emu", State: core.TestReady, SetupCommand: `am start 'oops`,
	}))

	_, err := f.sup.Create(context.Background(), "bad", owner)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestSupervisor_Shutdown(t *testing.T) {
	f := newFixture(t, hang, time.Minute)
	runID, err := f.sup.Create(context.Background(), "t1", owner)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Shutdown(ctx))

	run, _ := f.store.GetRun(context.Background(), runID)
	assert.Equal(t, ReasonShutdown, run.Reason)

	_, err = f.sup.Create(context.Background(), "t1", owner)
	assert.True(t, errors.Is(err, ErrShuttingDown))
}

// flaky fails the first n terminal writes
type flaky struct {
	*store.Memory
	mu    sync.Mutex
	fails int
}

func (f *flaky) SetStatus(ctx context.Context, runID string, status core.RunStatus, reason string) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.Memory.SetStatus(ctx, runID, status, reason)
}

func TestSupervisor_RetriesFailedTerminalWrite(t *testing.T) {
	f := newFixture(t, answer("Thought: done\nAction: finished()"), time.Minute)
	st := &flaky{Memory: f.store, fails: 2}
	f.sup.deps.Store = st

	runID, err := f.sup.Create(context.Background(), "t1", owner)
	require.NoError(t, err)
	run := f.wait(t, runID)

	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, agent.ReasonFinished, run.Reason)
	assert.Len(t, f.events.OfType(events.RunFinished), 1)
}

// gated holds CreateRun until release is closed
type gated struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gated) CreateRun(ctx context.Context, run *core.TestRun) error {
	close(g.entered)
	<-g.release
	return g.Memory.CreateRun(ctx, run)
}

func TestSupervisor_CreateDuringShutdown(t *testing.T) {
	f := newFixture(t, hang, time.Minute)
	st := &gated{Memory: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	f.sup.deps.Store = st

	type result struct {
		id  string
		err error
	}
	created := make(chan result, 1)
	go func() {
		id, err := f.sup.Create(context.Background(), "t1", owner)
		created <- result{id, err}
	}()
	<-st.entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Shutdown(ctx))
	close(st.release)

	res := <-created
	assert.ErrorIs(t, res.err, ErrShuttingDown)
	assert.Empty(t, res.id)
	assert.Empty(t, f.sup.Active())

	runs, err := f.store.ListRuns(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunQuit, runs[0].Status)
	assert.Equal(t, ReasonShutdown, runs[0].Reason)
	assert.Len(t, f.events.OfType(events.RunFinished), 1)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.add(&entry{runID: "a", started: time.Now()})
	r.add(&entry{runID: "b", started: time.Now().Add(time.Second)})

	assert.Equal(t, []string{"a", "b"}, r.IDs())
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.False(t, r.Has("a"))
	assert.Equal(t, 1, r.Len())
}
