package accesssync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// syncMutationsTotal counts access-set mutations by kind.
var syncMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "corpusd",
		Subsystem: "accesssync",
		Name:      "mutations_total",
		Help:      "Total access-set mutations by kind",
	},
	[]string{"kind"},
)

// observeSync records metrics for one merge or revocation pass.
func observeSync(s Summary) {
	syncMutationsTotal.WithLabelValues("created").Add(float64(s.Created))
	syncMutationsTotal.WithLabelValues("granted").Add(float64(s.Granted))
	syncMutationsTotal.WithLabelValues("unchanged").Add(float64(s.Unchanged))
	syncMutationsTotal.WithLabelValues("revoked").Add(float64(s.Revoked))
	syncMutationsTotal.WithLabelValues("deleted").Add(float64(s.Deleted))
}
