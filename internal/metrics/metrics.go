// Package metrics exposes Prometheus instrumentation for the case-search
// compiler's backend traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	subQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casesearch",
			Name:      "subquery_duration_seconds",
			Help:      "Duration of backend sub-queries issued during query compilation",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	subQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casesearch",
			Name:      "subqueries_total",
			Help:      "Total backend sub-queries issued during query compilation",
		},
		[]string{"op"},
	)

	cardinalityAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "casesearch",
			Name:      "related_case_aborts_total",
			Help:      "Compilations aborted because a related-case lookup exceeded the cap",
		},
	)
)

func init() {
	prometheus.MustRegister(subQueryDuration)
	prometheus.MustRegister(subQueriesTotal)
	prometheus.MustRegister(cardinalityAborts)
}

// ObserveSubQuery records one backend sub-query of the given kind.
func ObserveSubQuery(op string, d time.Duration) {
	subQueriesTotal.WithLabelValues(op).Inc()
	subQueryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// CardinalityAbort records a compile aborted by the related-case cap.
func CardinalityAbort() {
	cardinalityAborts.Inc()
}
