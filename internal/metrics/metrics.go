// Package metrics exposes Prometheus collectors for response streams and feedback submissions. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	streamOutcomes *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	streamDeltas   prometheus.Counter
	streamRetries  prometheus.Counter
	feedback       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyegpt",
			Subsystem: "stream",
			Name:      "outcomes_total",
			Help:      "Response streams by terminal state.",
		}, []string{"outcome"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skyegpt",
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Time from send to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"outcome"}),
		streamDeltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyegpt",
			Subsystem: "stream",
			Name:      "deltas_total",
			Help:      "Text deltas applied to in-flight messages.",
		}),
		streamRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyegpt",
			Subsystem: "stream",
			Name:      "retries_total",
			Help:      "Stream attempts retried after an error or an empty result.",
		}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyegpt",
			Subsystem: "feedback",
			Name:      "submissions_total",
			Help:      "Feedback submissions by kind (rating, comment) and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.streamOutcomes, m.streamDuration, m.streamDeltas, m.streamRetries, m.feedback)

	return m
}

// ObserveStream records a finished stream.
func (m *Metrics) ObserveStream(outcome string, d time.Duration, deltas int) {
	if m == nil {
		return
	}
	m.streamOutcomes.WithLabelValues(outcome).Inc()
	m.streamDuration.WithLabelValues(outcome).Observe(d.Seconds())
	m.streamDeltas.Add(float64(deltas))
}

// ObserveRetry records a retried stream attempt.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.streamRetries.Inc()
}

// ObserveFeedback records a feedback submission. kind is "rating" or "comment".
func (m *Metrics) ObserveFeedback(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.feedback.WithLabelValues(kind, result).Inc()
}
