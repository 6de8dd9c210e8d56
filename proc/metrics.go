// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package proc

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for runner metrics.
const (
	TasksTotalKey          = "relstore_tasks_total"
	TaskDurationSecondsKey = "relstore_task_duration_seconds"
	RunnerQueueDepthKey    = "relstore_runner_queue_depth"
	CommittedRowsTotalKey  = "relstore_committed_rows_total"
)

// Collectors for runner metrics.
var (
	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TasksTotalKey,
		Help: "Cumulative number of finished tasks.",
	}, []string{"type", "priority", "status"})
	TaskDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    TaskDurationSecondsKey,
		Help:    "Time from scope acquisition to the end of a task.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"type"})
	RunnerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: RunnerQueueDepthKey,
		Help: "Number of tasks waiting for their scope.",
	})
	CommittedRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CommittedRowsTotalKey,
		Help: "Cumulative number of rows committed to the back store.",
	}, []string{"op"})
)

// Collectors returns every runner collector, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TasksTotal,
		TaskDurationSeconds,
		RunnerQueueDepth,
		CommittedRowsTotal,
	}
}
