package chash

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opAdd    = "add"
	opRemove = "remove"
)

type metrics struct {
	rebuilds        *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec
	backends        prometheus.Gauge
	resolveErrors   prometheus.Counter
}

// newMetrics creates the table collectors. A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer, table string) *metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"table": table}

	return &metrics{
		rebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "maglev",
			Name:        "table_rebuilds_total",
			Help:        "Number of lookup table rebuilds, by membership operation.",
			ConstLabels: labels,
		}, []string{"op"}),
		rebuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "maglev",
			Name:        "table_rebuild_duration_seconds",
			Help:        "Time spent computing permutations and populating the lookup table.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		backends: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "maglev",
			Name:        "backends",
			Help:        "Number of backends in the lookup table.",
			ConstLabels: labels,
		}),
		resolveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "maglev",
			Name:        "resolve_errors_total",
			Help:        "Number of flow keys that could not be resolved to a backend.",
			ConstLabels: labels,
		}),
	}
}
