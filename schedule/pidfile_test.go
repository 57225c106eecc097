package schedule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talocan/hharvest/errors"
)

func TestPidFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")

	require.NoError(t, WritePidFile(path))

	pid, err := ReadPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePidFile(path))
	require.NoError(t, RemovePidFile(path), "removing twice is fine")

	_, err = ReadPidFile(path)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestReadPidFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0o644))

	_, err := ReadPidFile(path)
	assert.Error(t, err)
	assert.False(t, errors.IsNotFoundError(err))
}

func TestProbeDaemonMissingFile(t *testing.T) {
	state := ProbeDaemon(filepath.Join(t.TempDir(), "daemon.pid"))

	assert.Equal(t, "stopped", state.Status)
	assert.False(t, state.Running)
}

func TestProbeDaemonLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, WritePidFile(path))

	state := ProbeDaemon(path)

	assert.Equal(t, "running", state.Status)
	assert.True(t, state.Running)
	assert.Equal(t, os.Getpid(), state.Pid)
}

func TestProbeDaemonStalePidRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	// A pid far beyond the kernel's default maximum cannot be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	state := ProbeDaemon(path)

	assert.Equal(t, "stopped", state.Status)
	assert.False(t, state.Running)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "stale pid file is removed")
}
