package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// embedBatchesTotal counts provider embed calls by result.
	embedBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "embeddings",
			Name:      "batches_total",
			Help:      "Total number of embedding provider calls",
		},
		[]string{"result"},
	)

	// embedChunksTotal counts chunks successfully embedded.
	embedChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "embeddings",
			Name:      "chunks_total",
			Help:      "Total number of chunks embedded",
		},
	)

	// embedDuration tracks provider call latency.
	embedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "embeddings",
			Name:      "batch_duration_seconds",
			Help:      "Duration of embedding provider calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// observeEmbedBatch records metrics for one provider call.
func observeEmbedBatch(size int, elapsed time.Duration, err error) {
	embedDuration.Observe(elapsed.Seconds())
	if err != nil {
		embedBatchesTotal.WithLabelValues("error").Inc()
		return
	}
	embedBatchesTotal.WithLabelValues("success").Inc()
	embedChunksTotal.Add(float64(size))
}
