package fetch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omalloc/trove/internal/constants"
)

const (
	outcomeComplete  = "complete"
	outcomeCached    = "cached"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeRejected  = "rejected"
)

var (
	// tr_trove_fetch_results_total{queue="api",outcome="complete"} 42
	_metricResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "fetch_results_total",
		Help:      "Finished fetches by queue and outcome",
	}, []string{"queue", "outcome"})
	_metricBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "fetch_bytes_total",
		Help:      "Bytes streamed from the network by content category",
	}, []string{"category"})
	_metricFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "fetch_failures_total",
		Help:      "Failed fetches by failure kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(_metricResults)
	prometheus.MustRegister(_metricBytes)
	prometheus.MustRegister(_metricFailures)
}
