// Package metrics provides Prometheus metrics for the automation layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsd_task_runs_total",
			Help: "Total number of task runs by terminal status",
		},
		[]string{"task", "status"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsd_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"task"},
	)
	ArtifactsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsd_artifacts_pruned_total",
			Help: "Total number of artifacts deleted by the retention pruner",
		},
		[]string{"root"},
	)
	PruneFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsd_prune_failures_total",
			Help: "Total number of artifact deletions that failed",
		},
		[]string{"root"},
	)
	SupervisorOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsd_supervisor_operations_total",
			Help: "Supervisor start/stop operations by outcome",
		},
		[]string{"process", "op", "outcome"},
	)
)

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
