// Package metrics holds the Prometheus collectors for the billing subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reservation outcomes.
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeUnlimited = "unlimited"
	OutcomeReleased  = "released"
	OutcomeError     = "error"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Reservations  *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
	Subscriptions *prometheus.GaugeVec
	PrunedEvents  prometheus.Counter
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "reservations_total",
			Help:      "Usage reservations by metric and outcome.",
		}, []string{"metric", "outcome"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Processor events by type and reconciliation outcome.",
		}, []string{"type", "outcome"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "webhook_apply_seconds",
			Help:      "Time spent applying one processor event.",
			Buckets:   prometheus.DefBuckets,
		}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "billing",
			Name:      "subscriptions",
			Help:      "Subscriptions by status, as of the last monitor pass.",
		}, []string{"status"}),
		PrunedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "processed_events_pruned_total",
			Help:      "Dedup records removed after the retention window.",
		}),
	}
	m.registry.MustRegister(
		m.Reservations,
		m.WebhookEvents,
		m.ApplyDuration,
		m.Subscriptions,
		m.PrunedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
