package schedule

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/talocan/hharvest/errors"
)

// DaemonState is the result of probing the daemon pid file: whether a
// live scheduler process owns it, and that process's vitals when it
// does.
type DaemonState struct {
	Status   string  `json:"status"`
	Running  bool    `json:"running"`
	Pid      int     `json:"pid,omitempty"`
	CPU      float64 `json:"cpu_percent,omitempty"`
	MemoryMB float64 `json:"memory_mb,omitempty"`
	Started  string  `json:"started,omitempty"`
	Message  string  `json:"message"`
}

// WritePidFile records the current pid, creating the parent directory
// when needed.
func WritePidFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create pid file directory")
		}
	}
	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
	return errors.Wrap(err, "write pid file")
}

// ReadPidFile returns the recorded pid. A missing file surfaces as a
// not-found error.
func ReadPidFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("pid file %s", path)
		}
		return 0, errors.Wrap(err, "read pid file")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "parse pid file %s", path)
	}
	return pid, nil
}

// RemovePidFile deletes the pid file. Missing files are fine.
func RemovePidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove pid file")
	}
	return nil
}

// ProbeDaemon checks whether the pid recorded at path belongs to a
// live process and gathers its vitals. A pid file pointing at a dead
// process is removed so the next probe reports a clean stop.
func ProbeDaemon(path string) DaemonState {
	pid, err := ReadPidFile(path)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return DaemonState{Status: "stopped", Message: "pid file not found"}
		}
		return DaemonState{Status: "error", Message: err.Error()}
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return DaemonState{Status: "error", Pid: pid, Message: err.Error()}
	}
	if !alive {
		_ = RemovePidFile(path)
		return DaemonState{Status: "stopped", Message: "process not found, stale pid file removed"}
	}

	state := DaemonState{Status: "running", Running: true, Pid: pid, Message: "daemon active"}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return state
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		state.CPU = round1(cpu)
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		state.MemoryMB = round1(float64(mem.RSS) / 1024 / 1024)
	}
	if created, err := proc.CreateTime(); err == nil {
		state.Started = time.UnixMilli(created).Format(time.RFC3339)
	}
	return state
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
