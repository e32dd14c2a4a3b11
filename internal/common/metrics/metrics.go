// internal/common/metrics/metrics.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	ProposalsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_proposals_submitted_total",
			Help: "Submissions by outcome (accepted, malformed, failed)",
		},
		[]string{"outcome"},
	)

	DecisionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_decisions_recorded_total",
			Help: "Decisions recorded, by decision type and resulting stage",
		},
		[]string{"decision", "new_stage"},
	)

	TransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_transitions_rejected_total",
			Help: "Decisions refused by the stage transition rules",
		},
		[]string{"rule"},
	)

	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_lock_wait_seconds",
			Help:    "Time spent waiting for the per-proposal decision lock",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"backend"},
	)
)

// JobObserver mirrors job outcomes into another metrics pipeline.
type JobObserver func(taskType, status string, duration time.Duration)

var (
	observerMu sync.RWMutex
	observer   JobObserver
)

// SetJobObserver registers fn for every finished job; nil removes it.
func SetJobObserver(fn JobObserver) {
	observerMu.Lock()
	defer observerMu.Unlock()
	observer = fn
}

// JobTimer tracks one job from receipt to completion.
type JobTimer struct {
	taskType string
	start    time.Time
}

// StartJob marks a job active and starts its duration clock.
func StartJob(taskType string) *JobTimer {
	WorkerJobsActive.WithLabelValues(taskType).Inc()
	return &JobTimer{taskType: taskType, start: time.Now()}
}

func (t *JobTimer) Completed() {
	t.finish("completed")
	WorkerJobsCompleted.WithLabelValues(t.taskType).Inc()
}

func (t *JobTimer) Failed(errorCode string) {
	t.finish("failed")
	WorkerJobsFailed.WithLabelValues(t.taskType, errorCode).Inc()
}

func (t *JobTimer) finish(status string) {
	elapsed := time.Since(t.start)
	WorkerJobsActive.WithLabelValues(t.taskType).Dec()
	WorkerJobDuration.WithLabelValues(t.taskType).Observe(elapsed.Seconds())

	observerMu.RLock()
	fn := observer
	observerMu.RUnlock()
	if fn != nil {
		fn(t.taskType, status, elapsed)
	}
}
