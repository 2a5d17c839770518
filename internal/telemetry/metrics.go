package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports telemetry as Prometheus series.
type Metrics struct {
	funnelEvents    *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		funnelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanostyle",
			Name:      "funnel_events_total",
			Help:      "Funnel events by name.",
		}, []string{"event"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanostyle",
			Name:      "provider_calls_total",
			Help:      "Provider call attempts by provider, operation and outcome.",
		}, []string{"provider", "operation", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nanostyle",
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call attempt latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
		}, []string{"provider", "operation"}),
	}
	reg.MustRegister(m.funnelEvents, m.providerCalls, m.providerLatency)
	return m
}

// Funnel counts the event.
func (m *Metrics) Funnel(_ context.Context, ev FunnelEvent) {
	m.funnelEvents.WithLabelValues(string(ev.Name)).Inc()
}

// ProviderCall counts the attempt and observes its latency.
func (m *Metrics) ProviderCall(_ context.Context, call ProviderCall) {
	m.providerCalls.WithLabelValues(string(call.Provider), call.Operation, string(call.Status)).Inc()
	m.providerLatency.WithLabelValues(string(call.Provider), call.Operation).Observe(call.Latency.Seconds())
}
