// Package metrics provides Prometheus metrics for monitoring the orchestrator.
package metrics

import (
	"time"

	"github.com/mvoland/orq/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_tasks_submitted_total",
			Help: "Total number of tasks accepted for distribution",
		},
		[]string{"complexity"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_tasks_completed_total",
			Help: "Total number of tasks completed by all assigned workers",
		},
		[]string{"complexity"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_tasks_failed_total",
			Help: "Total number of tasks failed by a worker failure",
		},
		[]string{"complexity"},
	)
	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_submissions_rejected_total",
			Help: "Total number of task submissions rejected at validation",
		},
		[]string{"reason"},
	)
	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_dispatch_errors_total",
			Help: "Total number of dispatch attempts that returned an error",
		},
		[]string{"worker"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_events_published_total",
			Help: "Total number of events published on the message channel",
		},
		[]string{"event"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orq_task_duration_seconds",
			Help:    "Task duration from distribution to terminal state in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"complexity", "status"},
	)
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orq_workers_busy",
			Help: "Number of workers currently assigned to a task",
		},
	)
	WorkersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orq_workers_registered",
			Help: "Number of registered worker kinds",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskSubmitted(complexity task.Complexity) {
	TasksSubmitted.WithLabelValues(string(complexity)).Inc()
}

func RecordTaskCompleted(complexity task.Complexity, duration time.Duration) {
	TasksCompleted.WithLabelValues(string(complexity)).Inc()
	TaskDuration.WithLabelValues(string(complexity), "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(complexity task.Complexity, duration time.Duration) {
	TasksFailed.WithLabelValues(string(complexity)).Inc()
	TaskDuration.WithLabelValues(string(complexity), "failed").Observe(duration.Seconds())
}

func RecordSubmissionRejected(reason string) {
	SubmissionsRejected.WithLabelValues(reason).Inc()
}

func RecordDispatchError(worker string) {
	DispatchErrors.WithLabelValues(worker).Inc()
}

func RecordEventPublished(event string) {
	EventsPublished.WithLabelValues(event).Inc()
}

func UpdateBusyWorkers(count int) {
	WorkersBusy.Set(float64(count))
}

func UpdateRegisteredWorkers(count int) {
	WorkersRegistered.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
