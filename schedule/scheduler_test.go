package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/store"
)

// stubQueue files tasks straight into the store, the way the
// dispatcher does, so reaping sees real rows.
type stubQueue struct {
	store *store.Store
	fail  bool
	added []string
}

func (q *stubQueue) AddTask(taskType string, params map[string]interface{}, scheduleAt *float64, timeoutSec int) (string, error) {
	if q.fail {
		return "", errors.New("queue unavailable")
	}
	id := uuid.NewString()
	if err := q.store.CreateTask(id, taskType, params, scheduleAt, timeoutSec); err != nil {
		return "", err
	}
	q.added = append(q.added, id)
	return id, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Scheduler.TickIntervalSec = 60
	cfg.Scheduler.MaxConcurrentTasks = 3
	cfg.Scheduler.ShutdownGraceSec = 1
	cfg.Scheduler.MaxFailures = 3
	return cfg
}

// newTestScheduler builds a scheduler with an empty job table so each
// test seeds exactly what it needs.
func newTestScheduler(t *testing.T, st *store.Store, q TaskQueue) *Scheduler {
	t.Helper()
	s := New(st, q, testConfig(), zap.NewNop().Sugar())
	s.mu.Lock()
	s.jobs = make(map[string]*Job)
	s.order = nil
	s.mu.Unlock()
	return s
}

// dueJob seeds a job whose next firing is already in the past.
func dueJob(s *Scheduler, taskType, name string) *Job {
	job := &Job{
		Type:           taskType,
		Name:           name,
		Pattern:        PatternHourly,
		Enabled:        true,
		TimeoutMinutes: 1,
	}
	s.AddJob(job)
	past := time.Now().Add(-time.Minute)
	s.mu.Lock()
	job.NextRun = &past
	s.mu.Unlock()
	return job
}

func TestNewSeedsDefaultJobs(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	s := New(st, &stubQueue{store: st}, testConfig(), zap.NewNop().Sugar())

	jobs := s.Jobs()
	require.Len(t, jobs, 6)
	assert.Equal(t, store.TaskTypeLoadVacancies, jobs[0].Type)
	assert.Equal(t, store.TaskTypeHealthCheck, jobs[5].Type)

	for _, job := range jobs {
		require.NotNil(t, job.NextRun, "%s gets an initial firing", job.Type)
		assert.Equal(t, 3, job.MaxFailures)
	}

	// Delay zero follows the pattern: top of the next hour.
	first := jobs[0].NextRun
	assert.Zero(t, first.Minute())
	assert.Zero(t, first.Second())
	assert.True(t, first.After(time.Now()))

	// first_run_delay_sec staggers the health sample to right away.
	health := jobs[5].NextRun
	assert.WithinDuration(t, time.Now().Add(5*time.Second), *health, 3*time.Second)
}

func TestTickFiresDueJob(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	job := dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	s.tick(time.Now())

	require.Len(t, q.added, 1)
	task, err := st.GetTask(q.added[0])
	require.NoError(t, err)
	assert.Equal(t, store.TaskTypeLoadVacancies, task.Type)
	assert.Equal(t, 60, task.TimeoutSec, "timeout_minutes converts to seconds")

	status := s.GetStatus()
	assert.Equal(t, 1, status.ActiveTasks)
	assert.True(t, job.Enabled)
}

func TestTickDoesNotRefireInFlightJob(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	s.tick(time.Now())
	s.tick(time.Now())

	assert.Len(t, q.added, 1, "a job with an unsettled execution must not refire")
}

func TestTickSkipsTypeWithQueueBacklog(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	// An operator already queued the same type out of band.
	require.NoError(t, st.CreateTask("manual-1", store.TaskTypeLoadVacancies, nil, nil, 60))

	s.tick(time.Now())

	assert.Empty(t, q.added)
	assert.Zero(t, s.GetStatus().ActiveTasks)
}

func TestTickHonorsConcurrencyCap(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	s.maxConcurrent = 1
	dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")
	dueJob(s, store.TaskTypeLoadEmployers, "employer load")

	s.tick(time.Now())

	assert.Len(t, q.added, 1, "second job defers to the next tick")
	assert.Equal(t, 1, s.GetStatus().ActiveTasks)
}

func TestReapCompletedRunUpdatesBookkeeping(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	job := dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	s.tick(time.Now())
	require.Len(t, q.added, 1)
	taskID := q.added[0]

	require.NoError(t, st.UpdateTaskStatus(taskID, store.TaskStatusRunning, nil, "worker-0"))
	require.NoError(t, st.UpdateTaskStatus(taskID, store.TaskStatusCompleted,
		map[string]interface{}{"loaded": 12}, "worker-0"))

	s.tick(time.Now())

	assert.Equal(t, 1, job.RunCount)
	assert.Zero(t, job.FailureCount)
	require.NotNil(t, job.LastRun)
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.After(time.Now()), "next firing recomputed after settle")

	status := s.GetStatus()
	assert.Zero(t, status.ActiveTasks)
	assert.Equal(t, 1, status.TotalExecutions)
	require.Len(t, status.LastExecutions, 1)
	assert.Equal(t, store.TaskStatusCompleted, status.LastExecutions[0].Status)
}

func TestRepeatedFailuresDisableJob(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	job := dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	for i := 0; i < 3; i++ {
		past := time.Now().Add(-time.Minute)
		s.mu.Lock()
		job.NextRun = &past
		s.mu.Unlock()

		s.tick(time.Now())
		require.Len(t, q.added, i+1)

		taskID := q.added[i]
		require.NoError(t, st.UpdateTaskStatus(taskID, store.TaskStatusRunning, nil, "worker-0"))
		require.NoError(t, st.UpdateTaskStatus(taskID, store.TaskStatusFailed,
			map[string]interface{}{"error": fmt.Sprintf("boom %d", i)}, "worker-0"))

		s.tick(time.Now())
		assert.Equal(t, i+1, job.FailureCount)
	}

	assert.False(t, job.Enabled, "three straight failures disable the job")
	assert.Nil(t, job.NextRun)

	status := s.GetStatus()
	assert.Equal(t, "boom 2", status.LastExecutions[len(status.LastExecutions)-1].Error)
	assert.Zero(t, status.ScheduledTasks)
}

func TestEnqueueErrorCountsAsFailure(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st, fail: true}
	s := newTestScheduler(t, st, q)
	job := dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	s.tick(time.Now())

	assert.Equal(t, 1, job.FailureCount)
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.After(time.Now()), "a failed enqueue still reschedules")
	assert.Zero(t, s.GetStatus().ActiveTasks)
}

func TestSetJobEnabled(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	job := dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")
	job.FailureCount = 2

	require.True(t, s.SetJobEnabled(job.ID, false))
	assert.Nil(t, job.NextRun)

	s.tick(time.Now())
	assert.Empty(t, q.added, "disabled jobs never fire")

	require.True(t, s.SetJobEnabled(job.ID, true))
	assert.Zero(t, job.FailureCount, "re-enabling clears the failure streak")
	require.NotNil(t, job.NextRun)

	assert.False(t, s.SetJobEnabled("nope", true))
}

func TestStopCancelsUnfinishedExecutions(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	s.Start()
	s.tick(time.Now())
	require.Len(t, q.added, 1)

	s.Stop()

	task, err := st.GetTask(q.added[0])
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCancelled, task.Status)
	assert.Contains(t, task.ResultJSON, "Cancelled due to daemon shutdown")

	status := s.GetStatus()
	assert.False(t, status.Running)
	assert.Zero(t, status.ActiveTasks)
	require.Len(t, status.LastExecutions, 1)
	assert.Equal(t, store.TaskStatusCancelled, status.LastExecutions[0].Status)
}

func TestStopWaitsForExecutionsToSettle(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	q := &stubQueue{store: st}
	s := newTestScheduler(t, st, q)
	job := dueJob(s, store.TaskTypeLoadVacancies, "vacancy load")

	s.Start()
	s.tick(time.Now())
	require.Len(t, q.added, 1)

	// Finish the task before Stop begins waiting.
	require.NoError(t, st.UpdateTaskStatus(q.added[0], store.TaskStatusRunning, nil, "worker-0"))
	require.NoError(t, st.UpdateTaskStatus(q.added[0], store.TaskStatusCompleted, nil, "worker-0"))

	s.Stop()

	assert.Equal(t, 1, job.RunCount, "the grace wait settles finished work")
	task, err := st.GetTask(q.added[0])
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, task.Status)
}

func TestHistoryStaysBounded(t *testing.T) {
	st := internaltesting.CreateTestStore(t)
	s := newTestScheduler(t, st, &stubQueue{store: st})

	s.mu.Lock()
	for i := 0; i < historyLimit+25; i++ {
		s.appendHistory(Execution{TaskID: fmt.Sprintf("task-%d", i)})
	}
	size := len(s.history)
	newest := s.history[len(s.history)-1].TaskID
	oldest := s.history[0].TaskID
	s.mu.Unlock()

	assert.Equal(t, historyLimit, size)
	assert.Equal(t, fmt.Sprintf("task-%d", historyLimit+24), newest)
	assert.Equal(t, "task-25", oldest)
}
