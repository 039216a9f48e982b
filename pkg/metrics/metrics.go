// Package metrics exposes Prometheus collectors for runs, steps and oracle calls.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the supervisor, agents and oracle clients.
type Metrics struct {
	runsActive      prometheus.Gauge
	runsTotal       *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	oracleDuration  *prometheus.HistogramVec
	advisoryTotal   *prometheus.CounterVec
	statusRetries   prometheus.Counter
	deviceCmdErrors prometheus.Counter
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the metrics registered with the global Prometheus
// registry, created once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs Metrics on reg. Registration errors panic; tests
// pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uiagent",
			Name:      "runs_active",
			Help:      "Number of test runs currently executing.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uiagent",
			Name:      "runs_total",
			Help:      "Finished test runs by terminal status.",
		}, []string{"status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uiagent",
			Name:      "steps_total",
			Help:      "Persisted steps by verdict kind.",
		}, []string{"verdict"}),
		oracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uiagent",
			Name:      "oracle_request_duration_seconds",
			Help:      "Latency of oracle requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"oracle", "status"}),
		advisoryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uiagent",
			Name:      "advisory_checks_total",
			Help:      "Advisory screenshot checks by outcome.",
		}, []string{"status"}),
		statusRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uiagent",
			Name:      "status_write_retries_total",
			Help:      "Retries of terminal status writes after a failed attempt.",
		}),
		deviceCmdErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uiagent",
			Name:      "device_command_errors_total",
			Help:      "Device commands that failed.",
		}),
	}

	reg.MustRegister(m.runsActive, m.runsTotal, m.stepsTotal, m.oracleDuration,
		m.advisoryTotal, m.statusRetries, m.deviceCmdErrors)
	return m
}

// RunStarted increments the active gauge
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished decrements the active gauge and counts the terminal status
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

// StepRecorded counts one persisted step
func (m *Metrics) StepRecorded(verdict string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(verdict).Inc()
}

// OracleObserved records one oracle request
func (m *Metrics) OracleObserved(oracle string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.oracleDuration.WithLabelValues(oracle, status).Observe(d.Seconds())
}

// AdvisoryObserved counts one advisory outcome: ok, failed or panic
func (m *Metrics) AdvisoryObserved(status string) {
	if m == nil {
		return
	}
	m.advisoryTotal.WithLabelValues(status).Inc()
}

// StatusRetry counts one terminal status write retry
func (m *Metrics) StatusRetry() {
	if m == nil {
		return
	}
	m.statusRetries.Inc()
}

// DeviceError counts one failed device command
func (m *Metrics) DeviceError() {
	if m == nil {
		return
	}
	m.deviceCmdErrors.Inc()
}
