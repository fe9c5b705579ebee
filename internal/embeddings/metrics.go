package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	embeddingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corpusd_embedding_generation_duration_seconds",
		Help:    "Duration of embedding generation by model and operation.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"model", "operation"})

	embeddingBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corpusd_embedding_batch_size",
		Help:    "Number of texts per embedding batch request.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"model", "operation"})

	embeddingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpusd_embedding_errors_total",
		Help: "Total embedding generation errors by model and operation.",
	}, []string{"model", "operation"})
)

// Metrics records embedding generation metrics.
type Metrics struct{}

// NewMetrics creates a new Metrics instance for embeddings.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordGeneration records duration, batch size, and errors for one call.
func (m *Metrics) RecordGeneration(model, operation string, duration time.Duration, batchSize int, err error) {
	embeddingDuration.WithLabelValues(model, operation).Observe(duration.Seconds())
	if batchSize > 0 {
		embeddingBatchSize.WithLabelValues(model, operation).Observe(float64(batchSize))
	}
	if err != nil {
		embeddingErrors.WithLabelValues(model, operation).Inc()
	}
}
