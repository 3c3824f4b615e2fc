package stream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for stream processors.
type Metrics struct {
	MessagesTotal  *prometheus.CounterVec
	CommitFailures *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
}

// NewMetrics registers and returns stream metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertenrich_stream_messages_total",
			Help: "Total message processing attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		CommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertenrich_stream_commit_failures_total",
			Help: "Total failed offset or ack commits by source.",
		}, []string{"source"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertenrich_stream_message_duration_seconds",
			Help:    "Duration of a single message processing attempt.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"source"}),
	}
	reg.MustRegister(m.MessagesTotal, m.CommitFailures, m.Duration)
	return m
}

func (m *Metrics) observe(source string, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(source, string(outcome)).Inc()
	m.Duration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) incCommitFailed(source string) {
	if m == nil {
		return
	}
	m.CommitFailures.WithLabelValues(source).Inc()
}
