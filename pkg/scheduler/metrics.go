package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omalloc/trove/internal/constants"
)

var (
	// tr_trove_scheduler_queue_depth{pool="api"} 3
	_metricQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "scheduler_queue_depth",
		Help:      "Tasks waiting for a worker",
	}, []string{"pool"})
	_metricRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "scheduler_running",
		Help:      "Tasks currently executing",
	}, []string{"pool"})
	_metricTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: constants.MetricNamespace,
		Subsystem: constants.MetricSubsystem,
		Name:      "scheduler_tasks_total",
		Help:      "Tasks run to completion, by result",
	}, []string{"pool", "result"})
)

func init() {
	prometheus.MustRegister(_metricQueueDepth)
	prometheus.MustRegister(_metricRunning)
	prometheus.MustRegister(_metricTasksTotal)
}
