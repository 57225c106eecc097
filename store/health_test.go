package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/store"
)

func TestSaveAndGetSystemHealth(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	require.NoError(t, s.SaveSystemHealth(&store.HealthSample{
		TS: 1000, CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30,
		DatabaseSizeMB: 1.5, ActiveTasks: 2,
		HostStatusJSON: `{"host1":{"status":"active"}}`,
	}))
	// Zero ts defaults to now
	require.NoError(t, s.SaveSystemHealth(&store.HealthSample{
		CPUPercent: 50, MemoryPercent: 60, DiskPercent: 70,
	}))

	samples, err := s.GetRecentHealth(10)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	// Newest first
	assert.Equal(t, 50.0, samples[0].CPUPercent)
	assert.Greater(t, samples[0].TS, 1000.0)
	assert.Equal(t, 10.0, samples[1].CPUPercent)
	assert.Equal(t, `{"host1":{"status":"active"}}`, samples[1].HostStatusJSON)
}

func TestCleanupOldHealth(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	require.NoError(t, s.SaveSystemHealth(&store.HealthSample{TS: 1000}))
	require.NoError(t, s.SaveSystemHealth(&store.HealthSample{}))

	removed, err := s.CleanupOldHealth(30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	samples, err := s.GetRecentHealth(10)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}
