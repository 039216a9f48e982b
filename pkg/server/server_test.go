package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uiagent/pkg/agent"
	"github.com/devicelab-dev/uiagent/pkg/artifacts"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/device"
	"github.com/devicelab-dev/uiagent/pkg/device/mock"
	"github.com/devicelab-dev/uiagent/pkg/metrics"
	"github.com/devicelab-dev/uiagent/pkg/oracle"
	"github.com/devicelab-dev/uiagent/pkg/store"
	"github.com/devicelab-dev/uiagent/pkg/supervisor"
)

type frames struct{}

func (frames) Capture(ctx context.Context, serial string) (core.Image, error) {
	return core.Image{ContentType: core.ContentTypeJPEG, Data: []byte{0xff, 0xd8, 0xff}, Width: 540, Height: 1200}, nil
}

type testServer struct {
	e     *echo.Echo
	store *store.Memory
	sup   *supervisor.Supervisor
}

func newServer(t *testing.T, action string) *testServer {
	t.Helper()
	st := store.NewMemory()
	arts, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)

	reply := func(s string) oracle.Oracle {
		return oracle.Func(func(ctx context.Context, turns []oracle.Turn) (string, error) {
			if s == "" {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return s, nil
		})
	}
	sup := supervisor.New(supervisor.Config{DefaultTimeout: time.Minute}, agent.Deps{
		Store:     st,
		Artifacts: arts,
		Device:    mock.New(mock.Config{Size: device.Size{Width: 1080, Height: 2400}}),
		Capturer:  frames{},
		Action:    reply(action),
		Verdict:   reply("```pass()```"),
		Metrics:   m,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})

	e := New(Options{Store: st, Supervisor: sup, Artifacts: arts, Gatherer: reg, Version: "test"})
	return &testServer{e: e, store: st, sup: sup}
}

func (s *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if user == "root" {
		req.Header.Set(HeaderUserRole, "admin")
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createTest(t *testing.T, user, body string) core.Test {
	t.Helper()
	rec := s.do(http.MethodPost, "/v1/tests", user, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var test core.Test
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &test))
	return test
}

func (s *testServer) startRun(t *testing.T, user, testID string) string {
	t.Helper()
	rec := s.do(http.MethodPost, "/v1/tests/"+testID+"/runs", user, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["run_id"]
}

func (s *testServer) waitRun(t *testing.T, runID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.sup.Wait(ctx, runID))
}

func TestServer_RequiresIdentity(t *testing.T) {
	s := newServer(t, "Thought: x\nAction: finished()")
	rec := s.do(http.MethodGet, "/v1/tests/abc", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_CreateTestValidation(t *testing.T) {
	s := newServer(t, "Thought: x\nAction: finished()")
	tests := []struct {
		name string
		body string
	}{
		{"missing instruction", `{"device_id":"emu"}`},
		{"bad state", `{"instruction":"x","device_id":"emu","state":"archived"}`},
		{"bad setup", `{"instruction":"x","device_id":"emu","setup_command":"echo 'oops"}`},
		{"negative timeout", `{"instruction":"x","device_id":"emu","timeout_seconds":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/tests", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_RunLifecycle(t *testing.T) {
	s := newServer(t, "Thought: done\nAction: finished(content='ok')")
	test := s.createTest(t, "alice", `{"name":"settings","instruction":"Open settings","device_id":"emu"}`)
	assert.Equal(t, core.TestReady, test.State)
	assert.Equal(t, "alice", test.UserID)

	runID := s.startRun(t, "alice", test.ID)
	s.waitRun(t, runID)

	rec := s.do(http.MethodGet, "/v1/runs/"+runID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Run     core.TestRun `json:"run"`
		Summary core.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, core.RunCompleted, got.Run.Status)
	assert.Equal(t, agent.ReasonFinished, got.Run.Reason)
	assert.Equal(t, 1, got.Summary.Steps)

	rec = s.do(http.MethodGet, "/v1/runs/"+runID+"/steps/0/screenshot", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.ContentTypeJPEG, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, rec.Body.Bytes())

	rec = s.do(http.MethodGet, "/v1/runs/"+runID+"/steps/5/screenshot", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/v1/runs/"+runID+"/report", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/runs/"+runID+"/steps/0/screenshot")

	rec = s.do(http.MethodGet, "/v1/runs?test_id="+test.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)

	// Already finished
	rec = s.do(http.MethodPost, "/v1/runs/"+runID+"/stop", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StopAndAccess(t *testing.T) {
	s := newServer(t, "")
	test := s.createTest(t, "alice", `{"instruction":"Open settings","device_id":"emu"}`)

	rec := s.do(http.MethodGet, "/v1/tests/"+test.ID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPost, "/v1/tests/"+test.ID+"/runs", "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	runID := s.startRun(t, "alice", test.ID)

	rec = s.do(http.MethodPost, "/v1/runs/"+runID+"/stop", "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodGet, "/v1/runs/"+runID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/v1/runs/"+runID+"/stop", "root", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	s.waitRun(t, runID)

	run, err := s.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunQuit, run.Status)
	assert.Equal(t, supervisor.ReasonStopped, run.Reason)
}

func TestServer_DraftTestConflict(t *testing.T) {
	s := newServer(t, "")
	test := s.createTest(t, "alice", `{"instruction":"x","device_id":"emu","state":"draft"}`)

	rec := s.do(http.MethodPost, "/v1/tests/"+test.ID+"/runs", "alice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/v1/tests/missing/runs", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newServer(t, "")
	rec := s.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	test := s.createTest(t, "alice", `{"instruction":"x","device_id":"emu"}`)
	s.startRun(t, "alice", test.ID)

	rec = s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "uiagent_runs_active 1")
}
