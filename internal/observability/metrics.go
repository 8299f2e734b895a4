// Package observability carries the Prometheus instruments for jarvisd
// and the rolling latency window the probe reports from.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	CreditsBilled   prometheus.Counter
	MintOutcomes    *prometheus.CounterVec
	ToolExecutions  *prometheus.CounterVec
	ToolDuration    prometheus.Histogram
	IngestEvents    *prometheus.CounterVec
	MonitorClients  prometheus.Gauge
}

// NewMetrics registers the instrument set under namespace. A nil
// registerer selects the default registry; tests pass their own to
// avoid duplicate registration across cases.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live realtime voice sessions.",
		}),
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions minted, by surface.",
		}, []string{"surface"}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions closed, by surface and end reason.",
		}, []string{"surface", "reason"}),
		CreditsBilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_billed_total",
			Help:      "Voice credits debited from gyms.",
		}),
		MintOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mint_requests_total",
			Help:      "Session mint requests by outcome.",
		}, []string{"outcome"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Bridged tool executions by kind and status.",
		}, []string{"kind", "status"}),
		ToolDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_ms",
			Help:      "Tool execution wall time in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		IngestEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Instrumentation events ingested from kiosks, by type.",
		}, []string{"type"}),
		MonitorClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_clients",
			Help:      "Connected admin monitor websockets.",
		}),
	}
}

// ObserveToolDuration records one tool execution's wall time.
func (m *Metrics) ObserveToolDuration(d time.Duration) {
	m.ToolDuration.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
