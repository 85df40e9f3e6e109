// Package metrics holds the Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gridward/internal/permission/models"
)

// Metrics holds all Prometheus metrics for the application. It satisfies the
// outbox's commit observer so every state change is counted by status.
type Metrics struct {
	EventsCommitted  *prometheus.CounterVec
	CommitsRejected  *prometheus.CounterVec
	Retransmissions  *prometheus.CounterVec
	RevocationsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridward_events_committed_total",
			Help: "Permission events committed, by target status",
		}, []string{"status"}),
		CommitsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridward_commits_rejected_total",
			Help: "Permission event commits rejected by the state machine, by target status",
		}, []string{"status"}),
		Retransmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridward_retransmissions_total",
			Help: "Retransmission requests by outcome",
		}, []string{"outcome"}),
		RevocationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridward_revocation_signals_total",
			Help: "Inbound revocation signals processed",
		}),
	}
}

// EventCommitted implements the outbox commit observer.
func (m *Metrics) EventCommitted(status models.Status) {
	m.EventsCommitted.WithLabelValues(string(status)).Inc()
}

// CommitRejected implements the outbox commit observer.
func (m *Metrics) CommitRejected(status models.Status) {
	m.CommitsRejected.WithLabelValues(string(status)).Inc()
}

// RetransmissionFinished counts one resolved retransmission.
func (m *Metrics) RetransmissionFinished(outcome string) {
	m.Retransmissions.WithLabelValues(outcome).Inc()
}
