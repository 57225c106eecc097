package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/talocan/hharvest/errors"
)

// Task lifecycle states. pending tasks are eligible for dispatch once
// schedule_at passes; running tasks belong to a worker; the remaining
// three are terminal.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// Task types understood by the dispatcher.
const (
	TaskTypeLoadVacancies   = "load_vacancies"
	TaskTypeLoadEmployers   = "load_employers"
	TaskTypeSyncHost2       = "sync_host2"
	TaskTypeAnalyzeHost3    = "analyze_host3"
	TaskTypeProcessPipeline = "process_pipeline"
	TaskTypeCleanup         = "cleanup"
	TaskTypeHealthCheck     = "health_check"
)

// Task is one row of the durable work queue. Timestamps are unix
// seconds; nullable ones are pointers.
type Task struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	ParamsJSON   string   `json:"params_json,omitempty"`
	Status       string   `json:"status"`
	CreatedAt    float64  `json:"created_at"`
	ScheduleAt   *float64 `json:"schedule_at,omitempty"`
	StartedAt    *float64 `json:"started_at,omitempty"`
	FinishedAt   *float64 `json:"finished_at,omitempty"`
	TimeoutSec   int      `json:"timeout_sec"`
	WorkerID     string   `json:"worker_id,omitempty"`
	ResultJSON   string   `json:"result_json,omitempty"`
	ProgressJSON string   `json:"progress_json,omitempty"`
}

// Params decodes the params blob. A missing blob yields an empty map.
func (t *Task) Params() map[string]interface{} {
	params := map[string]interface{}{}
	if t.ParamsJSON != "" {
		_ = json.Unmarshal([]byte(t.ParamsJSON), &params)
	}
	return params
}

// IsTerminal reports whether the task has finished one way or another.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusCancelled
}

const taskColumns = `id, type, params_json, status, created_at, schedule_at,
	started_at, finished_at, timeout_sec, worker_id, result_json, progress_json`

// CreateTask enqueues a task. Re-registering an existing id is a no-op
// (INSERT OR IGNORE), which lets the scheduler enqueue deterministic
// ids without racing itself.
func (s *Store) CreateTask(id, taskType string, params map[string]interface{}, scheduleAt *float64, timeoutSec int) error {
	paramsJSON, err := json.Marshal(orEmpty(params))
	if err != nil {
		return errors.Wrap(err, "marshal task params")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO tasks (id, type, params_json, created_at, schedule_at, timeout_sec)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, taskType, string(paramsJSON), nowUnix(), scheduleAt, timeoutSec,
	)
	if err != nil {
		return errors.Wrapf(err, "create task %s", id)
	}

	s.infow("Created task", "task_id", id, "task_type", taskType)
	return nil
}

// UpdateTaskStatus moves a task through its lifecycle and stamps the
// matching timestamp: started_at when entering running, finished_at on
// any terminal state. Tasks already terminal are left untouched.
func (s *Store) UpdateTaskStatus(id, status string, result map[string]interface{}, workerID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := nowUnix()
	var err error

	switch status {
	case TaskStatusRunning:
		if workerID != "" {
			_, err = s.db.Exec(`
				UPDATE tasks SET status = ?, started_at = ?, worker_id = ?
				WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
				status, now, workerID, id)
		} else {
			_, err = s.db.Exec(`
				UPDATE tasks SET status = ?, started_at = ?
				WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
				status, now, id)
		}
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		resultJSON, merr := json.Marshal(orEmpty(result))
		if merr != nil {
			return errors.Wrap(merr, "marshal task result")
		}
		_, err = s.db.Exec(`
			UPDATE tasks SET status = ?, finished_at = ?, result_json = ?
			WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
			status, now, string(resultJSON), id)
	default:
		_, err = s.db.Exec(`
			UPDATE tasks SET status = ?
			WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
			status, id)
	}

	if err != nil {
		return errors.Wrapf(err, "update task %s to %s", id, status)
	}
	return nil
}

// ClaimTask transitions a pending task to running for the given worker.
// Returns false when the task is no longer pending, so duplicate queue
// entries collapse to a single execution.
func (s *Store) ClaimTask(id, workerID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, started_at = ?, worker_id = ?
		WHERE id = ? AND status = ?`,
		TaskStatusRunning, nowUnix(), workerID, id, TaskStatusPending)
	if err != nil {
		return false, errors.Wrapf(err, "claim task %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateTaskProgress overwrites the task's progress blob.
func (s *Store) UpdateTaskProgress(id string, progress map[string]interface{}) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return errors.Wrap(err, "marshal task progress")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.Exec("UPDATE tasks SET progress_json = ? WHERE id = ?", string(progressJSON), id); err != nil {
		return errors.Wrapf(err, "update progress for task %s", id)
	}
	return nil
}

// GetDueTasks returns up to 50 pending tasks whose schedule has passed,
// oldest schedule first. Reading does not claim; callers transition the
// task to running themselves.
func (s *Store) GetDueTasks() ([]Task, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = 'pending'
		  AND (schedule_at IS NULL OR schedule_at <= ?)
		ORDER BY schedule_at ASC, created_at ASC
		LIMIT 50`, taskColumns), nowUnix())
	if err != nil {
		return nil, errors.Wrap(err, "query due tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetPendingTasks returns pending tasks in creation order, regardless
// of schedule. Used to reload the queue after a restart.
func (s *Store) GetPendingTasks(limit int) ([]Task, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?`, taskColumns), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query pending tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetTask fetches a single task by id. Returns a not-found error when
// the id is unknown.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns), id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("task %s", id)
		}
		return nil, errors.Wrapf(err, "get task %s", id)
	}
	return task, nil
}

// GetTasks lists tasks newest first, optionally filtered by status.
// An empty status returns every status.
func (s *Store) GetTasks(status string, limit, offset int) ([]Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks", taskColumns)
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tasks")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetTasksByStatuses lists tasks newest first, filtered to any of the
// given statuses. An empty slice returns every status.
func (s *Store) GetTasksByStatuses(statuses []string, limit, offset int) ([]Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks", taskColumns)
	args := []interface{}{}
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?,", len(statuses))
		query += fmt.Sprintf(" WHERE status IN (%s)", placeholders[:len(placeholders)-1])
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tasks by statuses")
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FailOverdueTasks marks running tasks whose timeout elapsed as failed
// and returns their ids. Catches tasks orphaned by a crashed worker as
// well as ones the in-process monitor missed.
func (s *Store) FailOverdueTasks() ([]string, error) {
	now := nowUnix()
	rows, err := s.db.Query(`
		SELECT id, started_at, timeout_sec FROM tasks
		WHERE status = 'running'
		  AND started_at IS NOT NULL
		  AND started_at + timeout_sec < ?`, now)
	if err != nil {
		return nil, errors.Wrap(err, "query overdue tasks")
	}

	type overdue struct {
		id      string
		elapsed float64
	}
	var found []overdue
	for rows.Next() {
		var id string
		var startedAt float64
		var timeoutSec int
		if err := rows.Scan(&id, &startedAt, &timeoutSec); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan overdue task")
		}
		found = append(found, overdue{id: id, elapsed: now - startedAt})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate overdue tasks")
	}

	var failed []string
	for _, o := range found {
		result := map[string]interface{}{"error": fmt.Sprintf("Timeout after %.1fs", o.elapsed)}
		if err := s.UpdateTaskStatus(o.id, TaskStatusFailed, result, ""); err != nil {
			s.warnw("Failed to mark overdue task", "task_id", o.id, "error", err)
			continue
		}
		failed = append(failed, o.id)
	}
	return failed, nil
}

// CountActiveTasks returns how many tasks are currently running.
func (s *Store) CountActiveTasks() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tasks WHERE status = 'running'").Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count active tasks")
	}
	return count, nil
}

// TypeCounts returns task type -> count over the given statuses. The
// dispatcher uses it to skip types that already run; the scheduler also
// counts pending tasks against the concurrency cap.
func (s *Store) TypeCounts(statuses ...string) (map[string]int, error) {
	if len(statuses) == 0 {
		return map[string]int{}, nil
	}

	placeholders := strings.Repeat("?,", len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT type, COUNT(*) FROM tasks
		WHERE status IN (%s) GROUP BY type`, placeholders[:len(placeholders)-1]), args...)
	if err != nil {
		return nil, errors.Wrap(err, "count tasks by type")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var taskType string
		var n int
		if err := rows.Scan(&taskType, &n); err != nil {
			return nil, errors.Wrap(err, "scan type count")
		}
		counts[taskType] = n
	}
	return counts, rows.Err()
}

// CountActiveWorkers returns how many distinct workers hold a running task.
func (s *Store) CountActiveWorkers() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT worker_id) FROM tasks
		WHERE status = 'running' AND worker_id IS NOT NULL AND worker_id != ''`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count active workers")
	}
	return count, nil
}

// WorkerStat is one worker's share of the queue.
type WorkerStat struct {
	WorkerID string `json:"worker_id"`
	Running  int    `json:"running"`
	Pending  int    `json:"pending"`
	Total    int    `json:"total"`
}

// WorkerStats aggregates task counts per worker for the occupancy view.
func (s *Store) WorkerStats() ([]WorkerStat, error) {
	rows, err := s.db.Query(`
		SELECT worker_id,
		       SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END) AS running,
		       SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) AS pending,
		       COUNT(*) AS total
		FROM tasks
		WHERE worker_id IS NOT NULL AND worker_id != ''
		GROUP BY worker_id
		ORDER BY worker_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query worker stats")
	}
	defer rows.Close()

	var stats []WorkerStat
	for rows.Next() {
		var ws WorkerStat
		if err := rows.Scan(&ws.WorkerID, &ws.Running, &ws.Pending, &ws.Total); err != nil {
			return nil, errors.Wrap(err, "scan worker stat")
		}
		stats = append(stats, ws)
	}
	return stats, rows.Err()
}

// ClearTasksByStatus deletes every task in the given status and returns
// the number removed. The control surface uses it to flush terminal
// clutter; it refuses to clear running tasks.
func (s *Store) ClearTasksByStatus(status string) (int, error) {
	if status == TaskStatusRunning {
		return 0, errors.NewInvalidRequestError("cannot clear running tasks")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec("DELETE FROM tasks WHERE status = ?", status)
	if err != nil {
		return 0, errors.Wrapf(err, "clear tasks with status %s", status)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupOldTasks deletes terminal tasks older than daysToKeep.
// Returns the number of rows removed. Callers that want the file
// shrunk too run Vacuum afterwards.
func (s *Store) CleanupOldTasks(daysToKeep int) (int, error) {
	cutoff := nowUnix() - float64(daysToKeep)*24*3600

	s.writeMu.Lock()
	res, err := s.db.Exec(`
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(finished_at, 0) < ?`, cutoff)
	s.writeMu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old tasks")
	}
	n, _ := res.RowsAffected()

	s.infow("Cleaned up old tasks", "deleted", n, "days_kept", daysToKeep)
	return int(n), nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var paramsJSON, workerID, resultJSON, progressJSON sql.NullString
	var scheduleAt, startedAt, finishedAt sql.NullFloat64
	err := row.Scan(&t.ID, &t.Type, &paramsJSON, &t.Status, &t.CreatedAt,
		&scheduleAt, &startedAt, &finishedAt, &t.TimeoutSec,
		&workerID, &resultJSON, &progressJSON)
	if err != nil {
		return nil, err
	}
	fillTask(&t, paramsJSON, workerID, resultJSON, progressJSON, scheduleAt, startedAt, finishedAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var t Task
		var paramsJSON, workerID, resultJSON, progressJSON sql.NullString
		var scheduleAt, startedAt, finishedAt sql.NullFloat64
		err := rows.Scan(&t.ID, &t.Type, &paramsJSON, &t.Status, &t.CreatedAt,
			&scheduleAt, &startedAt, &finishedAt, &t.TimeoutSec,
			&workerID, &resultJSON, &progressJSON)
		if err != nil {
			return nil, errors.Wrap(err, "scan task row")
		}
		fillTask(&t, paramsJSON, workerID, resultJSON, progressJSON, scheduleAt, startedAt, finishedAt)
		tasks = append(tasks, t)
	}
	return tasks, errors.Wrap(rows.Err(), "iterate task rows")
}

func fillTask(t *Task, paramsJSON, workerID, resultJSON, progressJSON sql.NullString,
	scheduleAt, startedAt, finishedAt sql.NullFloat64) {
	t.ParamsJSON = paramsJSON.String
	t.WorkerID = workerID.String
	t.ResultJSON = resultJSON.String
	t.ProgressJSON = progressJSON.String
	if scheduleAt.Valid {
		t.ScheduleAt = &scheduleAt.Float64
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Float64
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Float64
	}
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
