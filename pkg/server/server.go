// Package server exposes tests and runs over HTTP.
package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/uiagent/pkg/artifacts"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/store"
	"github.com/devicelab-dev/uiagent/pkg/supervisor"
)

// Identity headers set by the upstream auth layer
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Options configures the HTTP server
type Options struct {
	Store      store.Store
	Supervisor *supervisor.Supervisor
	Artifacts  artifacts.Store
	Gatherer   prometheus.Gatherer // nil uses the default registry
	Version    string
}

// New creates the echo server with every route registered.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	h := NewHandler(opts)
	h.RegisterRoutes(e)
	return e
}

// Handler handles HTTP requests.
type Handler struct {
	store      store.Store
	supervisor *supervisor.Supervisor
	artifacts  artifacts.Store
	gatherer   prometheus.Gatherer
	version    string
}

// NewHandler creates a new handler.
func NewHandler(opts Options) *Handler {
	g := opts.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Handler{
		store:      opts.Store,
		supervisor: opts.Supervisor,
		artifacts:  opts.Artifacts,
		gatherer:   g,
		version:    opts.Version,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1", identify)

	v1.POST("/tests", h.CreateTest)
	v1.GET("/tests/:test_id", h.GetTest)
	v1.POST("/tests/:test_id/runs", h.CreateRun)

	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/:run_id", h.GetRun)
	v1.POST("/runs/:run_id/stop", h.StopRun)
	v1.GET("/runs/:run_id/steps/:index/screenshot", h.GetScreenshot)
	v1.GET("/runs/:run_id/report", h.GetReport)

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	active := 0
	if h.supervisor != nil {
		active = len(h.supervisor.Active())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"version":     h.version,
		"active_runs": active,
	})
}

// identify reads the caller identity from headers
func identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(HeaderUserID)
		if id == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderUserID)
		}
		role := core.RoleUser
		if core.Role(c.Request().Header.Get(HeaderUserRole)) == core.RoleAdmin {
			role = core.RoleAdmin
		}
		c.Set("user", core.User{ID: id, Role: role})
		return next(c)
	}
}

func userOf(c echo.Context) core.User {
	u, _ := c.Get("user").(core.User)
	return u
}

// httpError maps domain errors to status codes
func httpError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, supervisor.ErrRunNotFound), errors.Is(err, artifacts.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrTestNotReady), errors.Is(err, store.ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidConfig), errors.Is(err, core.ErrMissingRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, supervisor.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
