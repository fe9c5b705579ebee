package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corpusd_search_duration_seconds",
		Help:    "End-to-end hybrid search duration.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	branchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpusd_search_branch_failures_total",
		Help: "Search branch failures by branch (semantic, lexical).",
	}, []string{"branch"})
)
