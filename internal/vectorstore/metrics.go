package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// writeItemsTotal counts written items by operation and result.
	writeItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "vectorstore",
			Name:      "write_items_total",
			Help:      "Total records written or deleted, by operation and result",
		},
		[]string{"op", "result"},
	)

	// writeBatchesTotal counts Apply calls by result.
	writeBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "vectorstore",
			Name:      "write_batches_total",
			Help:      "Total batch writer Apply calls by result",
		},
		[]string{"result"},
	)
)

// observeWrite records metrics for one Apply call.
func observeWrite(result WriteResult) {
	writeItemsTotal.WithLabelValues("upsert", "success").Add(float64(result.Upserted))
	writeItemsTotal.WithLabelValues("delete", "success").Add(float64(result.Deleted))
	for _, f := range result.Failures {
		writeItemsTotal.WithLabelValues(f.Op, "error").Inc()
	}
	if result.Failed() {
		writeBatchesTotal.WithLabelValues("error").Inc()
		return
	}
	writeBatchesTotal.WithLabelValues("success").Inc()
}
