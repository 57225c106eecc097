package server

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"os/exec"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/schedule"
	"github.com/talocan/hharvest/store"
)

// daemonCommandTail caps how much captured stdout/stderr a daemon
// control response carries
const daemonCommandTail = 500

// daemonStatusView adds a server-side clock to the probe result so the
// dashboard can age the reading
type daemonStatusView struct {
	schedule.DaemonState
	UnixTime int64 `json:"unix_time"`
}

// handleDaemonStatus probes the scheduler daemon's pid file
func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, daemonStatusView{
		DaemonState: schedule.ProbeDaemon(config.DefaultPidFilePath),
		UnixTime:    time.Now().Unix(),
	})
}

// handleDaemonTasksActive summarizes the live queue for the daemon panel
func (s *Server) handleDaemonTasksActive(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	running, err := s.store.GetTasksByStatuses([]string{store.TaskStatusRunning}, 200, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	pending, err := s.store.GetTasksByStatuses([]string{store.TaskStatusPending}, 200, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	rows := make([]map[string]interface{}, 0, len(running))
	for i, t := range running {
		worker := t.WorkerID
		if worker == "" {
			worker = "-"
		}
		rows = append(rows, map[string]interface{}{
			"num":       i + 1,
			"worker":    worker,
			"task_type": t.Type,
			"status":    t.Status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": map[string]interface{}{
			"total":     len(running) + len(pending),
			"running":   len(running),
			"pending":   len(pending),
			"queue_eta": "~0min",
			"unix_time": time.Now().Unix(),
		},
		"tasks": rows,
	})
}

// handleDaemonStart launches the scheduler daemon in the background
func (s *Server) handleDaemonStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.delegateDaemonCommand(w, r, 60*time.Second, "daemon", "start", "--background")
}

// handleDaemonStop asks the scheduler daemon to shut down
func (s *Server) handleDaemonStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.delegateDaemonCommand(w, r, 60*time.Second, "daemon", "stop")
}

// handleDaemonRestart bounces the scheduler daemon
func (s *Server) handleDaemonRestart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.delegateDaemonCommand(w, r, 90*time.Second, "daemon", "restart")
}

// delegateDaemonCommand shells out to the CLI's daemon verbs instead of
// reaching into the scheduler from the panel process. The daemon owns
// its own lifecycle; the panel only relays the request and reports what
// the command printed.
func (s *Server) delegateDaemonCommand(w http.ResponseWriter, r *http.Request, timeout time.Duration, verbs ...string) {
	argv, err := daemonCommandArgv(verbs...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	s.logger.Infow("Delegating daemon command", "command", shellquote.Join(argv...))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	status := "ok"
	returncode := 0
	if runErr != nil {
		status = "error"
		if cmd.ProcessState != nil {
			returncode = cmd.ProcessState.ExitCode()
		} else {
			// Command never started
			writeError(w, http.StatusInternalServerError, runErr.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"returncode": returncode,
		"stdout":     tail(stdout.String(), daemonCommandTail),
		"stderr":     tail(stderr.String(), daemonCommandTail),
	})
}

// daemonCommandArgv resolves the daemon control command line. The
// HHARVEST_DAEMON_CMD override exists for containerized panels and
// tests; by default the panel re-invokes its own binary.
func daemonCommandArgv(verbs ...string) ([]string, error) {
	if raw := os.Getenv("HHARVEST_DAEMON_CMD"); raw != "" {
		base, err := shellquote.Split(raw)
		if err != nil {
			return nil, err
		}
		return append(base, verbs...), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return append([]string{exe}, verbs...), nil
}
