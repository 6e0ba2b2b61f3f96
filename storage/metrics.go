package storage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omalloc/trove/internal/constants"
)

var (
	// tr_trove_store_commits_total{codec="zstd",result="ok"} 12
	_metricCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "store_commits_total",
		Help:      "Cache drafts finished, by codec and result",
	}, []string{"codec", "result"})
	_metricStoredBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "store_bytes_total",
		Help:      "Bytes committed to disk, by content category",
	}, []string{"category"})
	_metricLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "store_lookups_total",
		Help:      "Cache entry lookups, by result",
	}, []string{"result"})
	_metricPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "store_pruned_total",
		Help:      "Entries removed by age",
	})
)

func init() {
	prometheus.MustRegister(_metricCommits)
	prometheus.MustRegister(_metricStoredBytes)
	prometheus.MustRegister(_metricLookups)
	prometheus.MustRegister(_metricPruned)

	_metricLookups.WithLabelValues("hit")
	_metricLookups.WithLabelValues("miss")
}
