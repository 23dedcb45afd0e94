package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	summariesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsum_summaries_built_total",
			Help: "Total number of admission summaries packaged",
		},
		[]string{"outcome"},
	)

	narrativeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsum_narrative_requests_total",
			Help: "Total number of narrative generation requests",
		},
		[]string{"detail", "outcome"},
	)

	narrativeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chartsum_narrative_duration_seconds",
			Help:    "End-to-end narrative generation duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func recordSummary(outcome string) {
	summariesBuilt.WithLabelValues(outcome).Inc()
}

func recordNarrative(detail string, outcome string, duration time.Duration) {
	narrativeRequests.WithLabelValues(detail, outcome).Inc()
	if outcome == "ok" {
		narrativeDuration.Observe(duration.Seconds())
	}
}
