// Package dispatch runs the durable task queue: a bounded worker pool
// claiming pending tasks from the store, plus a monitor pass that
// fails overdue work and feeds due tasks to the workers. Tasks survive
// restarts because the store is the queue; the in-process channel only
// carries hints about which ids to look at next.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

const (
	defaultWorkers        = 3
	defaultMonitorEvery   = 10 * time.Second
	defaultTaskTimeoutSec = 600

	// drainTimeout bounds Stop(): running handlers get this long to
	// observe cancellation before their tasks are marked cancelled.
	drainTimeout = 30 * time.Second

	queueCapacity = 256

	// ProcessName keys the dispatcher's row in the process registry.
	ProcessName = "task_dispatcher"
)

// shutdownMessage lands in the result blob of tasks abandoned by Stop.
const shutdownMessage = "Cancelled due to dispatcher shutdown"

// ActiveTask describes what one worker is executing right now.
type ActiveTask struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	StartedAt float64 `json:"started_at"`
}

// Status is the dispatcher snapshot served by the control surface.
type Status struct {
	Running    bool                  `json:"running"`
	Frozen     bool                  `json:"frozen"`
	Workers    int                   `json:"workers"`
	QueueDepth int                   `json:"queue_depth"`
	Active     map[string]ActiveTask `json:"active"`
}

// Dispatcher owns the worker pool and the monitor pass.
type Dispatcher struct {
	store    *store.Store
	cfg      *config.Config
	registry *Registry
	logger   *zap.SugaredLogger

	queue        chan string
	workers      int
	monitorEvery time.Duration
	drain        time.Duration

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	frozen   bool
	started  bool
	enqueued map[string]struct{}
	active   map[string]ActiveTask
}

// New creates a dispatcher with an empty handler registry. Callers
// register handlers before Start().
func New(st *store.Store, cfg *config.Config, logger *zap.SugaredLogger) *Dispatcher {
	return NewWithContext(context.Background(), st, cfg, logger)
}

// NewWithContext ties the dispatcher's lifetime to a parent context,
// so a server shutdown cancels workers without a separate Stop path.
func NewWithContext(ctx context.Context, st *store.Store, cfg *config.Config, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	workers := cfg.TaskDispatcher.MaxWorkers
	if workers <= 0 {
		workers = defaultWorkers
	}
	monitorEvery := time.Duration(cfg.TaskDispatcher.MonitorIntervalSec) * time.Second
	if monitorEvery <= 0 {
		monitorEvery = defaultMonitorEvery
	}

	dctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		store:        st,
		cfg:          cfg,
		registry:     NewRegistry(),
		logger:       logger,
		queue:        make(chan string, queueCapacity),
		workers:      workers,
		monitorEvery: monitorEvery,
		drain:        drainTimeout,
		parentCtx:    ctx,
		ctx:          dctx,
		cancel:       cancel,
		frozen:       cfg.TaskDispatcher.Frozen,
		enqueued:     make(map[string]struct{}),
		active:       make(map[string]ActiveTask),
	}
}

// Registry returns the handler registry for wiring task handlers.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// ObserveConfig makes operator edits to task_dispatcher.frozen take
// effect without a restart.
func (d *Dispatcher) ObserveConfig(w *config.Watcher) {
	if w == nil {
		return
	}
	w.OnReload(func(cfg *config.Config) error {
		d.SetFrozen(cfg.TaskDispatcher.Frozen)
		return nil
	})
}

// Start spawns the workers and the monitor goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	// After a previous Stop the context is spent; derive a fresh one
	// before any goroutine sees it.
	select {
	case <-d.ctx.Done():
		d.ctx, d.cancel = context.WithCancel(d.parentCtx)
	default:
	}
	d.started = true
	frozen := d.frozen
	d.mu.Unlock()

	if err := d.store.RegisterProcess(ProcessName, os.Getpid(), shellquote.Join(os.Args...), "", nil); err != nil {
		d.logger.Warnw("Failed to register dispatcher process", "error", err)
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.wg.Add(1)
	go d.monitor()

	d.logger.Infow(sym.Task+" Dispatcher started",
		"workers", d.workers, "frozen", frozen, "monitor_interval", d.monitorEvery)
}

// Stop halts intake, waits for in-flight handlers to drain, and marks
// whatever outlived the drain window as cancelled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	d.logger.Infow(sym.Halt + " Dispatcher stopping")
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Infow(sym.Halt + " Dispatcher drained")
	case <-time.After(d.drain):
		d.logger.Warnw(sym.Halt+" Drain timeout, abandoning in-flight tasks", "timeout", d.drain)
	}

	d.mu.Lock()
	leftovers := make([]ActiveTask, 0, len(d.active))
	for _, at := range d.active {
		leftovers = append(leftovers, at)
	}
	d.mu.Unlock()

	for _, at := range leftovers {
		result := map[string]interface{}{"error": shutdownMessage}
		if err := d.store.UpdateTaskStatus(at.ID, store.TaskStatusCancelled, result, ""); err != nil {
			d.logger.Warnw("Failed to cancel leftover task", "task_id", shortID(at.ID), "error", err)
		}
	}

	if err := d.store.UpdateProcessStatus(ProcessName, store.ProcessStatusStopped); err != nil {
		d.logger.Debugw("Failed to update process registry", "error", err)
	}
}

// AddTask enqueues a task and returns its id. A nil scheduleAt means
// run now; such one-shots go straight to the workers and skip the
// monitor's same-type conflict rule.
func (d *Dispatcher) AddTask(taskType string, params map[string]interface{}, scheduleAt *float64, timeoutSec int) (string, error) {
	if timeoutSec <= 0 {
		timeoutSec = d.cfg.TaskDispatcher.DefaultTimeoutSec
	}
	if timeoutSec <= 0 {
		timeoutSec = defaultTaskTimeoutSec
	}

	id := uuid.NewString()
	if err := d.store.CreateTask(id, taskType, params, scheduleAt, timeoutSec); err != nil {
		return "", err
	}

	if scheduleAt == nil || *scheduleAt <= nowUnix() {
		d.enqueue(id)
	}
	d.logger.Infow(sym.Task+" Task queued", "task_id", shortID(id), "type", taskType)
	return id, nil
}

// GetStatus snapshots the pool for the control surface.
func (d *Dispatcher) GetStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	active := make(map[string]ActiveTask, len(d.active))
	for worker, task := range d.active {
		active[worker] = task
	}
	return Status{
		Running:    d.started,
		Frozen:     d.frozen,
		Workers:    d.workers,
		QueueDepth: len(d.queue),
		Active:     active,
	}
}

// GetProgress returns the task's progress blob.
func (d *Dispatcher) GetProgress(id string) (map[string]interface{}, error) {
	task, err := d.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	progress := map[string]interface{}{}
	if task.ProgressJSON != "" {
		if err := json.Unmarshal([]byte(task.ProgressJSON), &progress); err != nil {
			return nil, errors.Wrapf(err, "decode progress for task %s", id)
		}
	}
	return progress, nil
}

// SetFrozen flips the freeze flag. Frozen workers stop claiming new
// tasks; whatever already runs keeps running.
func (d *Dispatcher) SetFrozen(frozen bool) {
	d.mu.Lock()
	changed := d.frozen != frozen
	d.frozen = frozen
	d.mu.Unlock()

	if !changed {
		return
	}
	if frozen {
		d.logger.Infow(sym.Task + " Worker intake frozen")
	} else {
		d.logger.Infow(sym.Task + " Worker intake resumed")
	}
}

// Frozen reports the freeze flag.
func (d *Dispatcher) Frozen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frozen
}

// enqueue offers a task id to the workers. Duplicates and a full
// channel both return false; the pending row stays in the store and a
// later monitor pass retries.
func (d *Dispatcher) enqueue(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.enqueued[id]; dup {
		return false
	}
	select {
	case d.queue <- id:
		d.enqueued[id] = struct{}{}
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	label := fmt.Sprintf("worker-%d", n)

	for {
		select {
		case <-d.ctx.Done():
			return
		case id := <-d.queue:
			d.mu.Lock()
			delete(d.enqueued, id)
			frozen := d.frozen
			d.mu.Unlock()

			if frozen {
				// Leave the row pending; the monitor re-offers it
				// after a thaw.
				continue
			}
			d.runTask(label, id)
		}
	}
}

// runTask claims, executes and resolves one task.
func (d *Dispatcher) runTask(label, id string) {
	claimed, err := d.store.ClaimTask(id, label)
	if err != nil {
		d.logger.Errorw("Failed to claim task", "task_id", shortID(id), "error", err)
		return
	}
	if !claimed {
		return
	}

	task, err := d.store.GetTask(id)
	if err != nil {
		d.logger.Errorw("Claimed task not readable", "task_id", shortID(id), "error", err)
		return
	}

	d.mu.Lock()
	d.active[label] = ActiveTask{ID: task.ID, Type: task.Type, StartedAt: nowUnix()}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, label)
		d.mu.Unlock()
	}()

	timeout := time.Duration(task.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultTaskTimeoutSec * time.Second
	}
	taskCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	d.logger.Infow(sym.Task+" Task started",
		"task_id", shortID(id), "type", task.Type, "worker", label)

	handler, ok := d.registry.Get(task.Type)
	if !ok {
		d.failTask(task, label, fmt.Sprintf("unknown task type: %s", task.Type))
		return
	}

	started := time.Now()
	result, err := handler.Execute(taskCtx, task)
	if err != nil {
		select {
		case <-d.ctx.Done():
			// Shutdown, not a handler fault.
			res := map[string]interface{}{"error": shutdownMessage}
			if uerr := d.store.UpdateTaskStatus(id, store.TaskStatusCancelled, res, label); uerr != nil {
				d.logger.Warnw("Failed to mark task cancelled", "task_id", shortID(id), "error", uerr)
			}
			return
		default:
		}

		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Timeout after %.1fs", time.Since(started).Seconds())
		}
		d.failTask(task, label, msg)
		return
	}

	if uerr := d.store.UpdateTaskStatus(id, store.TaskStatusCompleted, result, label); uerr != nil {
		d.logger.Errorw("Failed to mark task completed", "task_id", shortID(id), "error", uerr)
		return
	}
	d.logger.Infow(sym.Task+" Task completed",
		"task_id", shortID(id), "type", task.Type,
		"duration", time.Since(started).Round(time.Millisecond))
}

func (d *Dispatcher) failTask(task *store.Task, label, msg string) {
	result := map[string]interface{}{"error": msg}
	if err := d.store.UpdateTaskStatus(task.ID, store.TaskStatusFailed, result, label); err != nil {
		d.logger.Errorw("Failed to mark task failed", "task_id", shortID(task.ID), "error", err)
		return
	}
	d.logger.Warnw(sym.Task+" Task failed",
		"task_id", shortID(task.ID), "type", task.Type, "error", msg)
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
