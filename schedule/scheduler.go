// Package schedule runs the recurring job table: a minute tick loop
// that files due jobs into the durable task queue and keeps per-job
// bookkeeping (run counts, consecutive failures, auto-disable). The
// queue rows are the source of truth for execution outcomes; the
// scheduler polls them and never executes handlers itself.
package schedule

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
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

const (
	defaultTickInterval  = 60 * time.Second
	defaultMaxConcurrent = 3
	defaultMaxFailures   = 3
	defaultShutdownGrace = 300 * time.Second

	// gracePollEvery paces the shutdown wait for in-flight executions.
	gracePollEvery = 5 * time.Second

	historyLimit = 1000

	// ProcessName keys the scheduler's row in the process registry.
	ProcessName = "scheduler_daemon"
)

// shutdownMessage lands in the result blob of executions the shutdown
// grace window could not wait out.
const shutdownMessage = "Cancelled due to daemon shutdown"

// TaskQueue is the slice of the dispatcher the scheduler fires jobs
// through.
type TaskQueue interface {
	AddTask(taskType string, params map[string]interface{}, scheduleAt *float64, timeoutSec int) (string, error)
}

// Execution tracks one fired job from enqueue to terminal queue status.
type Execution struct {
	JobID     string     `json:"job_id"`
	JobName   string     `json:"job_name"`
	Type      string     `json:"task_type"`
	TaskID    string     `json:"task_id"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  float64    `json:"duration_seconds"`
	Error     string     `json:"error,omitempty"`
}

// Status is the scheduler snapshot served by the control surface.
type Status struct {
	Running         bool        `json:"running"`
	ActiveTasks     int         `json:"active_tasks"`
	ScheduledTasks  int         `json:"scheduled_tasks"`
	TotalExecutions int         `json:"total_executions"`
	LastExecutions  []Execution `json:"last_executions"`
	Jobs            []Job       `json:"jobs"`
}

// Scheduler owns the recurring job table and the tick loop.
type Scheduler struct {
	store  *store.Store
	queue  TaskQueue
	logger *zap.SugaredLogger

	tickInterval  time.Duration
	maxConcurrent int
	maxFailures   int
	grace         time.Duration

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	started    bool
	jobs       map[string]*Job
	order      []string
	executions map[string]*Execution // keyed by queue task id
	history    []Execution
	ticks      int64
	lastTickAt time.Time
}

// New builds a scheduler pre-seeded with the default job table.
func New(st *store.Store, queue TaskQueue, cfg *config.Config, logger *zap.SugaredLogger) *Scheduler {
	return NewWithContext(context.Background(), st, queue, cfg, logger)
}

// NewWithContext ties the scheduler's lifetime to a parent context.
func NewWithContext(ctx context.Context, st *store.Store, queue TaskQueue, cfg *config.Config, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	tick := time.Duration(cfg.Scheduler.TickIntervalSec) * time.Second
	if tick <= 0 {
		tick = defaultTickInterval
	}
	maxConcurrent := cfg.Scheduler.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	maxFailures := cfg.Scheduler.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	grace := time.Duration(cfg.Scheduler.ShutdownGraceSec) * time.Second
	if grace <= 0 {
		grace = defaultShutdownGrace
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		store:         st,
		queue:         queue,
		logger:        logger,
		tickInterval:  tick,
		maxConcurrent: maxConcurrent,
		maxFailures:   maxFailures,
		grace:         grace,
		parentCtx:     ctx,
		ctx:           sctx,
		cancel:        cancel,
		jobs:          make(map[string]*Job),
		executions:    make(map[string]*Execution),
	}
	for _, job := range DefaultJobs() {
		s.AddJob(job)
	}
	return s
}

// AddJob registers a job and computes its first firing. A positive
// first_run_delay_sec param wins over the pattern for the initial run.
// Returns the job id.
func (s *Scheduler) AddJob(job *Job) string {
	if job.MaxFailures <= 0 {
		job.MaxFailures = s.maxFailures
	}

	now := time.Now()
	var next time.Time
	if delay := job.firstRunDelay(); delay > 0 {
		next = now.Add(delay)
	} else {
		next = NextAfter(job.Pattern, now)
	}
	job.NextRun = &next

	s.mu.Lock()
	if job.ID == "" {
		job.ID = fmt.Sprintf("%s_%s", job.Type, uuid.NewString()[:8])
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.mu.Unlock()

	s.logger.Infow(sym.Sched+" Job scheduled",
		"job", job.Name, "pattern", job.Pattern, "next_run", next.Format(time.RFC3339))
	return job.ID
}

// SetJobEnabled flips a job on or off. Enabling recomputes the next
// firing and clears the failure streak.
func (s *Scheduler) SetJobEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	job.Enabled = enabled
	if enabled {
		job.FailureCount = 0
		next := NextAfter(job.Pattern, time.Now())
		job.NextRun = &next
	} else {
		job.NextRun = nil
	}
	return true
}

// Start registers the daemon in the process table and begins ticking.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	// After a previous Stop the context is spent; derive a fresh one
	// before the goroutine sees it.
	select {
	case <-s.ctx.Done():
		s.ctx, s.cancel = context.WithCancel(s.parentCtx)
	default:
	}
	s.started = true
	jobs := len(s.jobs)
	s.mu.Unlock()

	if err := s.store.RegisterProcess(ProcessName, os.Getpid(), shellquote.Join(os.Args...), "", nil); err != nil {
		s.logger.Warnw("Failed to register scheduler process", "error", err)
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Infow(sym.Sched+" Scheduler started",
		"jobs", jobs, "tick_interval", s.tickInterval, "max_concurrent", s.maxConcurrent)
}

// Stop halts the tick loop, waits up to the shutdown grace window for
// in-flight executions to reach a terminal queue status, and marks the
// rest cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Infow(sym.Halt + " Scheduler stopping")
	s.cancel()
	s.wg.Wait()

	deadline := time.Now().Add(s.grace)
	for {
		s.reapExecutions(time.Now())

		s.mu.Lock()
		remaining := len(s.executions)
		s.mu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			s.logger.Warnw(sym.Halt+" Shutdown grace expired",
				"abandoned", remaining, "grace", s.grace)
			break
		}

		s.logger.Infow(sym.Halt+" Waiting for active executions", "active", remaining)
		pause := gracePollEvery
		if until := time.Until(deadline); until < pause {
			pause = until
		}
		time.Sleep(pause)
	}

	s.cancelLeftovers()

	if err := s.store.UpdateProcessStatus(ProcessName, store.ProcessStatusStopped); err != nil {
		s.logger.Debugw("Failed to update process registry", "error", err)
	}
	s.logger.Infow(sym.Halt + " Scheduler stopped")
}

// cancelLeftovers marks executions that outlived the grace window as
// cancelled, both in the queue and in the local history.
func (s *Scheduler) cancelLeftovers() {
	s.mu.Lock()
	leftovers := make([]*Execution, 0, len(s.executions))
	for _, ex := range s.executions {
		leftovers = append(leftovers, ex)
	}
	s.mu.Unlock()

	for _, ex := range leftovers {
		result := map[string]interface{}{"error": shutdownMessage}
		if err := s.store.UpdateTaskStatus(ex.TaskID, store.TaskStatusCancelled, result, ""); err != nil {
			s.logger.Warnw("Failed to cancel leftover execution",
				"task_id", shortID(ex.TaskID), "error", err)
		}

		now := time.Now()
		ex.Status = store.TaskStatusCancelled
		ex.Error = shutdownMessage
		ex.EndTime = &now
		ex.Duration = now.Sub(ex.StartTime).Seconds()

		s.mu.Lock()
		delete(s.executions, ex.TaskID)
		s.appendHistory(*ex)
		s.mu.Unlock()
	}
}

// run is the tick loop.
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			s.lastTickAt = now
			s.ticks++
			s.mu.Unlock()

			s.tick(now)
		}
	}
}

// tick settles finished executions first, then fires whatever came due.
func (s *Scheduler) tick(now time.Time) {
	s.reapExecutions(now)
	s.fireDueJobs(now)
}

// reapExecutions polls the queue rows behind in-flight executions and
// folds terminal outcomes back into job bookkeeping: success resets
// the failure streak, failure extends it and disables the job once the
// streak hits its limit. The next firing is computed only after the
// execution settles, so long runs never overlap themselves.
func (s *Scheduler) reapExecutions(now time.Time) {
	s.mu.Lock()
	inflight := make([]*Execution, 0, len(s.executions))
	for _, ex := range s.executions {
		inflight = append(inflight, ex)
	}
	s.mu.Unlock()

	for _, ex := range inflight {
		task, err := s.store.GetTask(ex.TaskID)
		if err != nil {
			// The row vanished (cleanup raced us): settle as failed so
			// the job is not stuck in-flight forever.
			s.logger.Warnw("Execution row missing, settling as failed",
				"task_id", shortID(ex.TaskID), "error", err)
			s.settleExecution(ex, store.TaskStatusFailed, "task row missing", now)
			continue
		}
		if !task.IsTerminal() {
			continue
		}

		errMsg := ""
		if task.Status != store.TaskStatusCompleted {
			errMsg = taskErrorMessage(task)
		}
		s.settleExecution(ex, task.Status, errMsg, now)
	}
}

// settleExecution moves one execution to the history and updates its
// job's counters and next firing.
func (s *Scheduler) settleExecution(ex *Execution, status, errMsg string, now time.Time) {
	end := now
	ex.Status = status
	ex.Error = errMsg
	ex.EndTime = &end
	ex.Duration = end.Sub(ex.StartTime).Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.executions, ex.TaskID)
	s.appendHistory(*ex)

	job, ok := s.jobs[ex.JobID]
	if !ok {
		return
	}

	switch status {
	case store.TaskStatusCompleted:
		start := ex.StartTime
		job.LastRun = &start
		job.RunCount++
		job.FailureCount = 0
		s.logger.Infow(sym.Sched+" Job run completed",
			"job", job.Name, "task_id", shortID(ex.TaskID),
			"duration", time.Duration(ex.Duration*float64(time.Second)).Round(time.Millisecond))

	case store.TaskStatusFailed:
		job.FailureCount++
		s.logger.Warnw(sym.Sched+" Job run failed",
			"job", job.Name, "task_id", shortID(ex.TaskID),
			"failures", job.FailureCount, "error", errMsg)
		if job.FailureCount >= job.MaxFailures {
			job.Enabled = false
			s.logger.Warnw(sym.Sched+" Job disabled after repeated failures",
				"job", job.Name, "failures", job.FailureCount)
		}

	case store.TaskStatusCancelled:
		// Shutdown artifact, not a job fault.
		s.logger.Infow(sym.Sched+" Job run cancelled",
			"job", job.Name, "task_id", shortID(ex.TaskID))
	}

	if job.Enabled {
		next := NextAfter(job.Pattern, now)
		job.NextRun = &next
	} else {
		job.NextRun = nil
	}
}

// fireDueJobs enqueues every enabled job whose time has come, skipping
// jobs already in flight and types that still have queue backlog, and
// deferring everything past the concurrency cap to the next tick.
func (s *Scheduler) fireDueJobs(now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0, len(s.order))
	inflightJobs := make(map[string]bool, len(s.executions))
	for _, ex := range s.executions {
		inflightJobs[ex.JobID] = true
	}
	active := len(s.executions)
	for _, id := range s.order {
		job := s.jobs[id]
		if job == nil || !job.Enabled || job.NextRun == nil || now.Before(*job.NextRun) {
			continue
		}
		if inflightJobs[id] {
			continue
		}
		due = append(due, job)
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	// One queue probe per tick covers every candidate's type conflict
	// check, including tasks enqueued by operators outside this loop.
	backlog, err := s.store.TypeCounts(store.TaskStatusPending, store.TaskStatusRunning)
	if err != nil {
		s.logger.Warnw("Failed to probe queue backlog, deferring tick", "error", err)
		return
	}

	for _, job := range due {
		if active >= s.maxConcurrent {
			s.logger.Warnw(sym.Sched+" Concurrency cap reached, deferring job",
				"job", job.Name, "cap", s.maxConcurrent)
			continue
		}
		if backlog[job.Type] > 0 {
			s.logger.Debugw(sym.Sched+" Type already queued, skipping",
				"job", job.Name, "type", job.Type)
			continue
		}
		if s.fireJob(job, now) {
			active++
			backlog[job.Type]++
		}
	}
}

// fireJob enqueues one job run.
func (s *Scheduler) fireJob(job *Job, now time.Time) bool {
	timeoutSec := job.TimeoutMinutes * 60
	taskID, err := s.queue.AddTask(job.Type, job.Params, nil, timeoutSec)
	if err != nil {
		s.logger.Errorw(sym.Sched+" Failed to enqueue job",
			"job", job.Name, "type", job.Type, "error", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		j, ok := s.jobs[job.ID]
		if !ok {
			return false
		}
		j.FailureCount++
		if j.FailureCount >= j.MaxFailures {
			j.Enabled = false
			j.NextRun = nil
			s.logger.Warnw(sym.Sched+" Job disabled after repeated failures",
				"job", j.Name, "failures", j.FailureCount)
		} else {
			next := NextAfter(j.Pattern, now)
			j.NextRun = &next
		}
		return false
	}

	s.mu.Lock()
	s.executions[taskID] = &Execution{
		JobID:     job.ID,
		JobName:   job.Name,
		Type:      job.Type,
		TaskID:    taskID,
		Status:    store.TaskStatusRunning,
		StartTime: now,
	}
	s.mu.Unlock()

	s.logger.Infow(sym.Sched+" Job fired",
		"job", job.Name, "type", job.Type, "task_id", shortID(taskID))
	return true
}

// GetStatus snapshots the scheduler for the control surface: counters,
// the ten most recent executions, and the job table.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	last := make([]Execution, len(recent))
	copy(last, recent)

	enabled := 0
	jobs := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		if job := s.jobs[id]; job != nil {
			if job.Enabled {
				enabled++
			}
			jobs = append(jobs, *job)
		}
	}

	return Status{
		Running:         s.started,
		ActiveTasks:     len(s.executions),
		ScheduledTasks:  enabled,
		TotalExecutions: len(s.history),
		LastExecutions:  last,
		Jobs:            jobs,
	}
}

// Jobs returns a snapshot of the job table in seed order.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		if job := s.jobs[id]; job != nil {
			jobs = append(jobs, *job)
		}
	}
	return jobs
}

// appendHistory records a settled execution, keeping the tail. Callers
// hold s.mu.
func (s *Scheduler) appendHistory(ex Execution) {
	s.history = append(s.history, ex)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// taskErrorMessage digs the failure text out of a terminal task row.
func taskErrorMessage(task *store.Task) string {
	result := map[string]interface{}{}
	if task.ResultJSON != "" {
		if err := json.Unmarshal([]byte(task.ResultJSON), &result); err == nil {
			if msg, ok := result["error"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return task.Status
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
