package enrich

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the enrichment pipeline.
type Metrics struct {
	EnrichmentsTotal *prometheus.CounterVec
	EnrichDuration   prometheus.Histogram
	LookupsTotal     *prometheus.CounterVec
	RecipientsTotal  *prometheus.CounterVec
	RecipientsPer    prometheus.Histogram
}

// NewMetrics registers and returns enrichment metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnrichmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertenrich_enrichments_total",
			Help: "Total enriched alerts by severity and whether the patient was found.",
		}, []string{"severity", "patient_found"}),
		EnrichDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertenrich_enrich_duration_seconds",
			Help:    "Duration of a single enrichment including the directory lookup.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertenrich_directory_lookups_total",
			Help: "Total directory lookups by outcome.",
		}, []string{"outcome"}),
		RecipientsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertenrich_recipients_total",
			Help: "Total resolved recipients by role.",
		}, []string{"role"}),
		RecipientsPer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertenrich_recipients_per_alert",
			Help:    "Number of recipients resolved per enriched alert.",
			Buckets: prometheus.LinearBuckets(1, 1, 8), // 1 .. 8
		}),
	}

	reg.MustRegister(
		m.EnrichmentsTotal,
		m.EnrichDuration,
		m.LookupsTotal,
		m.RecipientsTotal,
		m.RecipientsPer,
	)

	return m
}

// Hooks returns pipeline Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLookup: func(outcome LookupOutcome) {
			m.LookupsTotal.WithLabelValues(string(outcome)).Inc()
		},
		OnEnrich: func(e *EnrichEvent) {
			found := "false"
			if e.PatientFound {
				found = "true"
			}
			m.EnrichmentsTotal.WithLabelValues(string(e.Severity), found).Inc()
			m.EnrichDuration.Observe(e.DurationSecs)
			m.RecipientsPer.Observe(float64(len(e.Recipients)))
			for _, r := range e.Recipients {
				m.RecipientsTotal.WithLabelValues(string(r.Role)).Inc()
			}
		},
	}
}
