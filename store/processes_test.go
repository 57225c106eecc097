package store_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talocan/hharvest/errors"
	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/store"
)

func TestProcessRegistry(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	port := 8080
	require.NoError(t, s.RegisterProcess("web_server", os.Getpid(), "hharvest start", "localhost", &port))

	pid, err := s.GetProcessPID("web_server")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	procs, err := s.GetProcesses()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "web_server", procs[0].Name)
	assert.Equal(t, store.ProcessStatusRunning, procs[0].Status)
	require.NotNil(t, procs[0].Port)
	assert.Equal(t, 8080, *procs[0].Port)

	// Re-registering replaces the row
	require.NoError(t, s.RegisterProcess("web_server", os.Getpid(), "hharvest start", "localhost", nil))
	procs, err = s.GetProcesses()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Nil(t, procs[0].Port)
}

func TestGetProcessPIDNotFound(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	_, err := s.GetProcessPID("nothing_here")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUpdateProcessStatusHidesFromPIDLookup(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	require.NoError(t, s.RegisterProcess("scheduler_daemon", 12345, "", "", nil))
	require.NoError(t, s.UpdateProcessStatus("scheduler_daemon", store.ProcessStatusStopped))

	_, err := s.GetProcessPID("scheduler_daemon")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestKillProcessUnregistered(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	killed, err := s.KillProcess("nothing_here")
	require.NoError(t, err)
	assert.False(t, killed)
}

func TestCleanupDeadProcesses(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	// A pid this large cannot exist; our own pid always does.
	require.NoError(t, s.RegisterProcess("ghost", 999999999, "", "", nil))
	require.NoError(t, s.RegisterProcess("self", os.Getpid(), "", "", nil))

	dead, err := s.CleanupDeadProcesses()
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, dead)

	procs, err := s.GetProcesses()
	require.NoError(t, err)
	statuses := map[string]string{}
	for _, p := range procs {
		statuses[p.Name] = p.Status
	}
	assert.Equal(t, store.ProcessStatusDead, statuses["ghost"])
	assert.Equal(t, store.ProcessStatusRunning, statuses["self"])
}
