package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts completed pipeline runs by result.
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total indexing runs by result",
		},
		[]string{"result"},
	)

	// itemsTotal counts processed documents by result.
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Total documents processed by result",
		},
		[]string{"result"},
	)

	// itemFailuresTotal counts item failures by error kind.
	itemFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "pipeline",
			Name:      "item_failures_total",
			Help:      "Total item failures by error kind",
		},
		[]string{"kind"},
	)

	// prepareDuration tracks the fetch/normalize/chunk/embed time per item.
	prepareDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "pipeline",
			Name:      "item_prepare_duration_seconds",
			Help:      "Duration of per-document preparation in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func observeRun(result Result) {
	if result.ItemsFailed > 0 {
		runsTotal.WithLabelValues("partial").Inc()
	} else {
		runsTotal.WithLabelValues("success").Inc()
	}
	itemsTotal.WithLabelValues("completed").Add(float64(result.ItemsCompleted))
	itemsTotal.WithLabelValues("failed").Add(float64(result.ItemsFailed))
}

func observeItemPrepared(elapsed time.Duration) {
	prepareDuration.Observe(elapsed.Seconds())
}

func observeItemFailed(kind Kind) {
	itemFailuresTotal.WithLabelValues(string(kind)).Inc()
}
