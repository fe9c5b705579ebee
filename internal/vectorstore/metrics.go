package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corpusd_vectorstore_operation_duration_seconds",
		Help:    "Duration of vector store operations by backend and operation.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"backend", "operation"})

	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpusd_vectorstore_operation_errors_total",
		Help: "Total vector store operation errors by backend and operation.",
	}, []string{"backend", "operation"})
)

func recordOperation(backend, operation string, duration time.Duration, err error) {
	operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		operationErrors.WithLabelValues(backend, operation).Inc()
	}
}
