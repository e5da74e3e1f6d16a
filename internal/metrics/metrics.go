// Package metrics provides the Prometheus collectors for the speech tool server
// and an optional HTTP exporter for them.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "speech_mcp"

	defaultReadHeaderTimeout = 10 * time.Second
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics groups every collector the server records into. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	toolCalls         *prometheus.CounterVec
	engineInitAttempt *prometheus.CounterVec
	synthesisSeconds  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	metrics := &Metrics{
		registry: registry,
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		engineInitAttempt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_init_attempts_total",
				Help:      "Total number of engine initialization attempts by result",
			},
			[]string{"result"},
		),
		synthesisSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_seconds",
				Help:      "Duration of synthesis plus playback in seconds",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		metrics.toolCalls,
		metrics.engineInitAttempt,
		metrics.synthesisSeconds,
		collectors.NewGoCollector(),
	)

	return metrics
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}

	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// EngineInitAttempt records one engine construction attempt.
func (m *Metrics) EngineInitAttempt(outcome string) {
	if m == nil {
		return
	}

	m.engineInitAttempt.WithLabelValues(outcome).Inc()
}

// Synthesis records the duration of one synthesize-and-play call.
func (m *Metrics) Synthesis(duration time.Duration, outcome string) {
	if m == nil {
		return
	}

	m.synthesisSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Exporter serves the collectors over HTTP.
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	mu       sync.Mutex
	server   *http.Server
}

// NewExporter creates an exporter for the given metrics at addr.
func NewExporter(addr string, metrics *Metrics) *Exporter {
	return &Exporter{
		addr:     addr,
		registry: metrics.Registry(),
	}
}

// Handler returns the /metrics handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves /metrics until Shutdown is called. It returns http.ErrServerClosed
// after a graceful shutdown.
func (e *Exporter) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.mu.Lock()
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	server := e.server
	e.mu.Unlock()

	return server.ListenAndServe()
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server == nil {
		return nil
	}

	return e.server.Shutdown(ctx)
}
