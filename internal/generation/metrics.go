package generation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corpusd_generation_attempt_duration_seconds",
		Help:    "Duration of generation attempts by provider and outcome.",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"provider", "outcome"})

	blockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corpusd_generation_blocked_total",
		Help: "Completions withheld by the output safety screen.",
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corpusd_generation_cooldowns_total",
		Help: "Rate-limit cool-downs entered.",
	})
)

func recordAttempt(provider, outcome string, duration time.Duration) {
	attemptDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}
