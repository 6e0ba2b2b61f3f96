package objectcache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omalloc/trove/internal/constants"
)

const (
	outcomeMemoryHit = "memory_hit"
	outcomeStoreHit  = "store_hit"
	outcomeMiss      = "miss"
	outcomeCoalesced = "coalesced"
	outcomeOffered   = "offered"
)

var (
	// tr_trove_objectcache_lookups_total{cache="subreddit",outcome="miss"} 3
	_metricLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "objectcache_lookups_total",
		Help:      "Typed cache lookups by outcome",
	}, []string{"cache", "outcome"})
	_metricRefreshKeys = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "objectcache_refresh_batch_keys",
		Help:      "Keys per remote refresh",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	}, []string{"cache"})
	_metricEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "objectcache_evictions_total",
		Help:      "Values dropped from memory",
	}, []string{"cache"})
)

func init() {
	prometheus.MustRegister(_metricLookups)
	prometheus.MustRegister(_metricRefreshKeys)
	prometheus.MustRegister(_metricEvictions)
}
