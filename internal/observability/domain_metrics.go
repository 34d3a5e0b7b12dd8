package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_ask_outcomes_total",
			Help: "Total ask requests by terminal outcome.",
		},
		[]string{"status"},
	)
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_rejections_total",
			Help: "Total validator rejections by rule.",
		},
		[]string{"rule"},
	)
	synthesisLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_synthesis_latency_seconds",
			Help:    "Latency of one completion-service call.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
	executionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_execution_latency_seconds",
			Help:    "Latency of validated statement execution.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
	)
	indexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_index_rebuilds_total",
			Help: "Total schema index rebuild attempts by result.",
		},
		[]string{"result"},
	)
	indexActiveDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlpilot_index_active_documents",
			Help: "Documents in the active index version.",
		},
	)
	translationDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_translation_degraded_total",
			Help: "Total questions passed through untranslated after a translation failure.",
		},
	)
	resultsTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_results_truncated_total",
			Help: "Total result sets truncated at the row cap.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		askOutcomesTotal,
		rejectionsTotal,
		synthesisLatencySeconds,
		executionLatencySeconds,
		indexRebuildsTotal,
		indexActiveDocuments,
		translationDegradedTotal,
		resultsTruncatedTotal,
	)
}

func ObserveAskOutcome(status string) {
	askOutcomesTotal.WithLabelValues(status).Inc()
}

func ObserveRejection(rule string) {
	rejectionsTotal.WithLabelValues(rule).Inc()
}

func ObserveSynthesisLatency(elapsed time.Duration) {
	synthesisLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveExecutionLatency(elapsed time.Duration) {
	executionLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveIndexRebuild(succeeded bool, documents int) {
	if succeeded {
		indexRebuildsTotal.WithLabelValues("success").Inc()
		indexActiveDocuments.Set(float64(documents))
		return
	}
	indexRebuildsTotal.WithLabelValues("failure").Inc()
}

func IncrementTranslationDegraded() {
	translationDegradedTotal.Inc()
}

func IncrementResultTruncated() {
	resultsTruncatedTotal.Inc()
}
