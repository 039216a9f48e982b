package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/devicelab-dev/uiagent/pkg/agent"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/logger"
	"github.com/devicelab-dev/uiagent/pkg/report"
)

// CreateTestRequest registers a test definition
type CreateTestRequest struct {
	Name           string         `json:"name"`
	Instruction    string         `json:"instruction"`
	DeviceID       string         `json:"device_id"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	SetupCommand   string         `json:"setup_command"`
	State          core.TestState `json:"state"`
}

// CreateTest handles POST /v1/tests
func (h *Handler) CreateTest(c echo.Context) error {
	var req CreateTestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Instruction = strings.TrimSpace(req.Instruction)
	if req.Instruction == "" || req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "instruction and device_id are required")
	}
	if req.TimeoutSeconds < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "timeout_seconds must not be negative")
	}
	switch req.State {
	case "":
		req.State = core.TestReady
	case core.TestReady, core.TestDraft:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "state must be ready or draft")
	}
	if req.SetupCommand != "" {
		if _, err := agent.SetupArgs(req.SetupCommand); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	test := &core.Test{
		ID:             uuid.NewString(),
		UserID:         userOf(c).ID,
		Name:           req.Name,
		Instruction:    req.Instruction,
		DeviceID:       req.DeviceID,
		State:          req.State,
		TimeoutSeconds: req.TimeoutSeconds,
		SetupCommand:   req.SetupCommand,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.CreateTest(c.Request().Context(), test); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, test)
}

// GetTest handles GET /v1/tests/:test_id
func (h *Handler) GetTest(c echo.Context) error {
	test, err := h.store.GetTest(c.Request().Context(), c.Param("test_id"))
	if err != nil {
		return httpError(err)
	}
	if !core.CanAccess(userOf(c), test.UserID) {
		return httpError(core.ErrAccessDenied)
	}
	return c.JSON(http.StatusOK, test)
}

// CreateRun handles POST /v1/tests/:test_id/runs
func (h *Handler) CreateRun(c echo.Context) error {
	runID, err := h.supervisor.Create(c.Request().Context(), c.Param("test_id"), userOf(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// GetRun handles GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.loadRun(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":     run,
		"summary": run.Summarize(),
	})
}

// ListRuns handles GET /v1/runs?test_id=
func (h *Handler) ListRuns(c echo.Context) error {
	testID := c.QueryParam("test_id")
	if testID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "test_id is required")
	}
	ctx := c.Request().Context()
	test, err := h.store.GetTest(ctx, testID)
	if err != nil {
		return httpError(err)
	}
	if !core.CanAccess(userOf(c), test.UserID) {
		return httpError(core.ErrAccessDenied)
	}
	runs, err := h.store.ListRuns(ctx, testID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// StopRun handles POST /v1/runs/:run_id/stop
func (h *Handler) StopRun(c echo.Context) error {
	if err := h.supervisor.Stop(c.Request().Context(), c.Param("run_id"), userOf(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// GetScreenshot handles GET /v1/runs/:run_id/steps/:index/screenshot
func (h *Handler) GetScreenshot(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid step index")
	}
	run, err := h.loadRun(c)
	if err != nil {
		return err
	}
	if index >= len(run.Steps) || h.artifacts == nil {
		return echo.NewHTTPError(http.StatusNotFound, "screenshot not found")
	}
	data, err := h.artifacts.Get(c.Request().Context(), run.Steps[index].Screenshot)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, core.ContentTypeJPEG, data)
}

// GetReport handles GET /v1/runs/:run_id/report
func (h *Handler) GetReport(c echo.Context) error {
	run, err := h.loadRun(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	test, err := h.store.GetTest(ctx, run.TestID)
	if err != nil {
		test = nil
	}

	var buf bytes.Buffer
	cfg := report.HTMLConfig{
		Title: "Run " + run.ID,
		ScreenshotURL: func(runID string, index int) string {
			return fmt.Sprintf("/v1/runs/%s/steps/%d/screenshot", runID, index)
		},
	}
	if err := report.Render(ctx, &buf, run, test, h.artifacts, cfg); err != nil {
		return httpError(err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// loadRun fetches the run named by :run_id and checks access.
func (h *Handler) loadRun(c echo.Context) (*core.TestRun, error) {
	run, err := h.store.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return nil, httpError(err)
	}
	if !core.CanAccess(userOf(c), run.UserID) {
		return nil, httpError(core.ErrAccessDenied)
	}
	return run, nil
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Warn("%s %s -> %d (%s) %v", v.Method, v.URI, v.Status, v.Latency, v.Error)
				return nil
			}
			logger.Debug("%s %s -> %d (%s) id=%s", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
			return nil
		},
	})
}
