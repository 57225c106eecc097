package store

import (
	"database/sql"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/talocan/hharvest/errors"
)

// Process registry statuses.
const (
	ProcessStatusRunning = "running"
	ProcessStatusStopped = "stopped"
	ProcessStatusDead    = "dead"
)

// ProcessRecord tracks a long-running local process (scheduler daemon,
// web server) so stale instances can be detected across restarts.
type ProcessRecord struct {
	Name        string  `json:"name"`
	PID         int     `json:"pid"`
	StartTime   float64 `json:"start_time"`
	CommandLine string  `json:"command_line,omitempty"`
	Host        string  `json:"host"`
	Port        *int    `json:"port,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   float64 `json:"created_at"`
	UpdatedAt   float64 `json:"updated_at"`
}

// RegisterProcess upserts a registry row under the logical name.
func (s *Store) RegisterProcess(name string, pid int, commandLine, host string, port *int) error {
	if host == "" {
		host = "localhost"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := nowUnix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO system_processes
		(name, pid, start_time, command_line, host, port, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'running', ?, ?)`,
		name, pid, now, commandLine, host, port, now, now)
	return errors.Wrapf(err, "register process %s", name)
}

// GetProcessPID returns the pid recorded for a running process, or a
// not-found error when nothing is registered under that name.
func (s *Store) GetProcessPID(name string) (int, error) {
	var pid int
	err := s.db.QueryRow(
		"SELECT pid FROM system_processes WHERE name = ? AND status = 'running'", name).Scan(&pid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errors.NewNotFoundError("process %s", name)
		}
		return 0, errors.Wrapf(err, "get pid for %s", name)
	}
	return pid, nil
}

// UpdateProcessStatus sets the registry status for a process.
func (s *Store) UpdateProcessStatus(name, status string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		"UPDATE system_processes SET status = ?, updated_at = ? WHERE name = ?",
		status, nowUnix(), name)
	return errors.Wrapf(err, "update process %s status", name)
}

// KillProcess terminates the registered process: SIGTERM first, then
// SIGKILL if it is still alive a second later. Returns false when no
// running process is registered under the name.
func (s *Store) KillProcess(name string) (bool, error) {
	pid, err := s.GetProcessPID(name)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}

	alive, err := process.PidExists(int32(pid))
	if err == nil && alive {
		proc, perr := process.NewProcess(int32(pid))
		if perr == nil {
			if terr := proc.Terminate(); terr != nil {
				s.warnw("SIGTERM failed", "process", name, "pid", pid, "error", terr)
			}
			time.Sleep(time.Second)
			if still, _ := process.PidExists(int32(pid)); still {
				if kerr := proc.Kill(); kerr != nil {
					s.warnw("SIGKILL failed", "process", name, "pid", pid, "error", kerr)
					return false, errors.Wrapf(kerr, "kill process %s", name)
				}
			}
		}
	}

	if err := s.UpdateProcessStatus(name, ProcessStatusStopped); err != nil {
		return false, err
	}
	s.infow("Process stopped", "process", name, "pid", pid)
	return true, nil
}

// CleanupDeadProcesses marks registry rows whose pid no longer exists.
// Returns the names marked dead.
func (s *Store) CleanupDeadProcesses() ([]string, error) {
	rows, err := s.db.Query("SELECT name, pid FROM system_processes WHERE status = 'running'")
	if err != nil {
		return nil, errors.Wrap(err, "query running processes")
	}

	type proc struct {
		name string
		pid  int
	}
	var running []proc
	for rows.Next() {
		var p proc
		if err := rows.Scan(&p.name, &p.pid); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan process row")
		}
		running = append(running, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate process rows")
	}

	var dead []string
	for _, p := range running {
		exists, err := process.PidExists(int32(p.pid))
		if err != nil || exists {
			continue
		}
		if err := s.UpdateProcessStatus(p.name, ProcessStatusDead); err != nil {
			s.warnw("Failed to mark dead process", "process", p.name, "error", err)
			continue
		}
		dead = append(dead, p.name)
	}
	return dead, nil
}

// GetProcesses lists the whole registry.
func (s *Store) GetProcesses() ([]ProcessRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, pid, start_time, command_line, host, port, status, created_at, updated_at
		FROM system_processes ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "query processes")
	}
	defer rows.Close()

	var out []ProcessRecord
	for rows.Next() {
		var p ProcessRecord
		var commandLine, host, status sql.NullString
		var port sql.NullInt64
		if err := rows.Scan(&p.Name, &p.PID, &p.StartTime, &commandLine, &host, &port, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan process record")
		}
		p.CommandLine = commandLine.String
		p.Host = host.String
		p.Status = status.String
		if port.Valid {
			n := int(port.Int64)
			p.Port = &n
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate process records")
}
