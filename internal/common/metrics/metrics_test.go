package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobTimer(t *testing.T) {
	const task = "metrics-test-task"

	timer := StartJob(task)
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkerJobsActive.WithLabelValues(task)))
	timer.Completed()

	failed := StartJob(task)
	failed.Failed("INVALID_TRANSITION")

	assert.Equal(t, 0.0, testutil.ToFloat64(WorkerJobsActive.WithLabelValues(task)))
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkerJobsCompleted.WithLabelValues(task)))
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkerJobsFailed.WithLabelValues(task, "INVALID_TRANSITION")))
	assert.Equal(t, 1, testutil.CollectAndCount(WorkerJobDuration, "worker_job_duration_seconds"))
}

func TestJobObserver(t *testing.T) {
	var statuses []string
	SetJobObserver(func(taskType, status string, _ time.Duration) {
		if taskType == "observer-test-task" {
			statuses = append(statuses, status)
		}
	})
	t.Cleanup(func() { SetJobObserver(nil) })

	StartJob("observer-test-task").Completed()
	StartJob("observer-test-task").Failed("MALFORMED_INPUT")

	assert.Equal(t, []string{"completed", "failed"}, statuses)
}
