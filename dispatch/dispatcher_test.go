package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/store"
)

// stubHandler is a scriptable handler: it can return a fixed result or
// error, block until released, and report task starts to the test.
type stubHandler struct {
	name    string
	block   chan struct{} // when non-nil, Execute waits for close or ctx
	started chan string   // when non-nil, receives task ids as they begin
	result  map[string]interface{}
	err     error

	mu    sync.Mutex
	calls int
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()

	if h.started != nil {
		h.started <- task.ID
	}
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.result, h.err
}

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.TaskDispatcher.MaxWorkers = 2
	cfg.TaskDispatcher.MonitorIntervalSec = 1
	cfg.TaskDispatcher.DefaultTimeoutSec = 30
	return cfg
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	st := internaltesting.CreateTestStore(t)
	d := New(st, testConfig(), zap.NewNop().Sugar())
	t.Cleanup(d.Stop)
	return d, st
}

func TestAddTaskDefaultsTimeout(t *testing.T) {
	d, st := newTestDispatcher(t)

	id, err := d.AddTask(store.TaskTypeHealthCheck, nil, nil, 0)
	require.NoError(t, err)

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, 30, task.TimeoutSec, "zero timeout falls back to the configured default")
	assert.Equal(t, store.TaskStatusPending, task.Status)
}

func TestAddTaskDeferredSkipsImmediateOffer(t *testing.T) {
	d, st := newTestDispatcher(t)

	future := nowUnix() + 3600
	id, err := d.AddTask(store.TaskTypeLoadVacancies, nil, &future, 60)
	require.NoError(t, err)

	assert.Empty(t, d.queue, "deferred tasks wait for the monitor")

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusPending, task.Status)

	// Not due yet, so the monitor pass must not offer it either.
	d.offerDue()
	assert.Empty(t, d.queue)
}

func TestRunTaskExecutesHandler(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{name: store.TaskTypeHealthCheck, result: map[string]interface{}{"ok": true}}
	d.registry.Register(h)

	id, err := d.AddTask(store.TaskTypeHealthCheck, map[string]interface{}{"source": "test"}, nil, 5)
	require.NoError(t, err)

	d.runTask("worker-0", id)

	assert.Equal(t, 1, h.callCount())
	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, task.Status)
	assert.Equal(t, "worker-0", task.WorkerID)
	assert.Contains(t, task.ResultJSON, `"ok":true`)
}

func TestRunTaskClaimsOnlyOnce(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{name: store.TaskTypeHealthCheck}
	d.registry.Register(h)

	id, err := d.AddTask(store.TaskTypeHealthCheck, nil, nil, 5)
	require.NoError(t, err)

	d.runTask("worker-0", id)
	d.runTask("worker-1", id) // stale duplicate hint

	assert.Equal(t, 1, h.callCount(), "a settled task cannot be claimed again")
	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, task.Status)
}

func TestRunTaskUnknownTypeFails(t *testing.T) {
	d, st := newTestDispatcher(t)

	id, err := d.AddTask("bogus_type", nil, nil, 5)
	require.NoError(t, err)

	d.runTask("worker-0", id)

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusFailed, task.Status)
	assert.Contains(t, task.ResultJSON, "unknown task type: bogus_type")
}

func TestRunTaskHandlerErrorFailsTask(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{name: store.TaskTypeCleanup, err: errors.New("disk full")}
	d.registry.Register(h)

	id, err := d.AddTask(store.TaskTypeCleanup, nil, nil, 5)
	require.NoError(t, err)

	d.runTask("worker-0", id)

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusFailed, task.Status)
	assert.Contains(t, task.ResultJSON, "disk full")
}

func TestRunTaskTimesOutBlockedHandler(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{name: store.TaskTypeLoadVacancies, block: make(chan struct{})}
	d.registry.Register(h)

	id, err := d.AddTask(store.TaskTypeLoadVacancies, nil, nil, 1)
	require.NoError(t, err)

	d.runTask("worker-0", id) // returns when the 1s task context expires

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusFailed, task.Status)
	assert.Contains(t, task.ResultJSON, "Timeout after")
}

func TestEnqueueSuppressesDuplicates(t *testing.T) {
	d, _ := newTestDispatcher(t)

	assert.True(t, d.enqueue("task-1"))
	assert.False(t, d.enqueue("task-1"), "an id already in flight is not queued twice")
	assert.True(t, d.enqueue("task-2"))
	assert.Len(t, d.queue, 2)
}

func TestOfferDueOnePerType(t *testing.T) {
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateTask("a", store.TaskTypeLoadVacancies, nil, nil, 60))
	require.NoError(t, st.CreateTask("b", store.TaskTypeLoadVacancies, nil, nil, 60))
	require.NoError(t, st.CreateTask("c", store.TaskTypeLoadEmployers, nil, nil, 60))

	d.offerDue()

	assert.Len(t, d.queue, 2, "at most one offer per task type")
}

func TestOfferDueSkipsRunningType(t *testing.T) {
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateTask("a", store.TaskTypeLoadVacancies, nil, nil, 60))
	claimed, err := st.ClaimTask("a", "worker-0")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, st.CreateTask("b", store.TaskTypeLoadVacancies, nil, nil, 60))

	d.offerDue()

	assert.Empty(t, d.queue, "a type already running is not offered again")
}

func TestOfferDueRespectsFreeze(t *testing.T) {
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateTask("a", store.TaskTypeLoadVacancies, nil, nil, 60))

	d.SetFrozen(true)
	d.offerDue()
	assert.Empty(t, d.queue)

	d.SetFrozen(false)
	d.offerDue()
	assert.Len(t, d.queue, 1, "thawing makes the same row eligible again")
}

func TestStartStopLifecycle(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{name: store.TaskTypeHealthCheck, result: map[string]interface{}{"ok": true}}
	d.registry.Register(h)

	assert.False(t, d.GetStatus().Running)

	d.Start()
	status := d.GetStatus()
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.Workers)

	id, err := d.AddTask(store.TaskTypeHealthCheck, nil, nil, 5)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := st.GetTask(id)
		return err == nil && task.Status == store.TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	d.Stop()
	assert.False(t, d.GetStatus().Running)
}

func TestStopCancelsInFlightTask(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{
		name:    store.TaskTypeLoadVacancies,
		block:   make(chan struct{}), // never closed; Execute leaves via ctx
		started: make(chan string, 1),
	}
	d.registry.Register(h)
	d.Start()

	id, err := d.AddTask(store.TaskTypeLoadVacancies, nil, nil, 300)
	require.NoError(t, err)

	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	d.Stop()

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCancelled, task.Status)
	assert.Contains(t, task.ResultJSON, shutdownMessage)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	d, st := newTestDispatcher(t) // two workers
	h := &stubHandler{
		name:    store.TaskTypeLoadVacancies,
		block:   make(chan struct{}),
		started: make(chan string, 8),
		result:  map[string]interface{}{"pages": 1},
	}
	d.registry.Register(h)
	d.Start()

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := d.AddTask(store.TaskTypeLoadVacancies, nil, nil, 60)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Both workers fill up, the rest of the queue has to wait.
	for i := 0; i < 2; i++ {
		select {
		case <-h.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("worker %d never claimed a task", i)
		}
	}
	select {
	case id := <-h.started:
		t.Fatalf("task %s claimed beyond the worker pool", shortID(id))
	case <-time.After(300 * time.Millisecond):
	}

	close(h.block)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			task, err := st.GetTask(id)
			if err != nil || task.Status != store.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 25*time.Millisecond)

	assert.Equal(t, 4, h.callCount())
}

func TestFrozenWorkerLeavesRowPending(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := &stubHandler{name: store.TaskTypeLoadVacancies}
	d.registry.Register(h)
	d.SetFrozen(true)
	d.Start()

	id, err := d.AddTask(store.TaskTypeLoadVacancies, nil, nil, 60)
	require.NoError(t, err)

	// The worker drains the hint without claiming the row.
	require.Eventually(t, func() bool { return len(d.queue) == 0 },
		5*time.Second, 10*time.Millisecond)

	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusPending, task.Status)
	assert.Zero(t, h.callCount())

	// After a thaw the monitor pass re-offers the same row.
	d.SetFrozen(false)
	d.offerDue()

	require.Eventually(t, func() bool {
		task, err := st.GetTask(id)
		return err == nil && task.Status == store.TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestGetProgress(t *testing.T) {
	d, st := newTestDispatcher(t)

	id, err := d.AddTask(store.TaskTypeLoadVacancies, nil, nil, 60)
	require.NoError(t, err)

	progress, err := d.GetProgress(id)
	require.NoError(t, err)
	assert.Empty(t, progress)

	require.NoError(t, st.UpdateTaskProgress(id, map[string]interface{}{"current_page": 3}))

	progress, err = d.GetProgress(id)
	require.NoError(t, err)
	assert.Equal(t, float64(3), progress["current_page"])
}

func TestSetFrozenReportsState(t *testing.T) {
	d, _ := newTestDispatcher(t)

	assert.False(t, d.Frozen())
	d.SetFrozen(true)
	assert.True(t, d.Frozen())
	assert.True(t, d.GetStatus().Frozen)
	d.SetFrozen(true) // no-op, stays frozen
	assert.True(t, d.Frozen())
	d.SetFrozen(false)
	assert.False(t, d.Frozen())
}
