package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ingestedChunks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "corpusd_ingest_chunks_total",
	Help: "Chunks written to the stores by the ingestion pipeline.",
})
