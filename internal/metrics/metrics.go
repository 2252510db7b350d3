// Package metrics exposes the Prometheus metrics of the message pipeline.
package metrics

import (
	"time"

	"chatflow_backend/internal/conversations/pipeline"
	"chatflow_backend/platform/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	AICallDuration    *prometheus.HistogramVec
	Fallbacks         *prometheus.CounterVec
	Handoffs          *prometheus.CounterVec
	SecurityIncidents *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	BreakerTrips      *prometheus.CounterVec
}

var _ pipeline.Recorder = (*Metrics)(nil)

// New registers the metrics on reg. Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_pipeline_runs_total",
			Help: "Total number of processed inbound messages by outcome",
		}, []string{"outcome"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatflow_pipeline_duration_seconds",
			Help:    "Time taken to process one inbound message",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"outcome"}),
		AICallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatflow_ai_call_duration_seconds",
			Help:    "Time taken by AI calls including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_fallback_replies_total",
			Help: "Total number of fallback replies sent instead of AI output",
		}, []string{"reason"}),
		Handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_handoffs_total",
			Help: "Total number of handoffs to human agents by decision source",
		}, []string{"source"}),
		SecurityIncidents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_security_incidents_total",
			Help: "Total number of recorded security incidents",
		}, []string{"type"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_deliveries_total",
			Help: "Total number of outbound channel deliveries by status",
		}, []string{"status"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatflow_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half open, 2 open",
		}, []string{"name"}),
		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker transitions by target state",
		}, []string{"name", "to"}),
	}
}

func (m *Metrics) PipelineRun(outcome string, duration time.Duration) {
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) AICall(outcome string, duration time.Duration) {
	m.AICallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) Fallback(reason string) {
	m.Fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handoff(source string) {
	m.Handoffs.WithLabelValues(source).Inc()
}

func (m *Metrics) SecurityIncident(incidentType string) {
	m.SecurityIncidents.WithLabelValues(incidentType).Inc()
}

func (m *Metrics) Delivery(status string) {
	m.Deliveries.WithLabelValues(status).Inc()
}

// BreakerStateChanged matches circuitbreaker.Settings.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(stateValue(to))
	m.BreakerTrips.WithLabelValues(name, string(to)).Inc()
}

func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateHalfOpen:
		return 1
	case circuitbreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
