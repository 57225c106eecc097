package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/store"
)

func TestGetStats(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	require.NoError(t, s.CreateTask("t-done", store.TaskTypeLoadVacancies, nil, nil, 3600))
	require.NoError(t, s.UpdateTaskStatus("t-done", store.TaskStatusRunning, nil, "worker-0"))
	require.NoError(t, s.UpdateTaskStatus("t-done", store.TaskStatusCompleted,
		map[string]interface{}{"loaded_count": 2}, ""))
	require.NoError(t, s.CreateTask("t-wait", store.TaskTypeCleanup, nil, nil, 3600))

	_, err := s.SaveVacancy(sampleVacancy("1"))
	require.NoError(t, err)
	_, err = s.SaveVacancy(sampleVacancy("2"))
	require.NoError(t, err)

	// Push one vacancy outside the 10-minute load window but keep it
	// inside the 24-hour "today" window.
	_, err = s.DB().Exec("UPDATE vacancies SET created_at = created_at - 3600 WHERE hh_id = '1'")
	require.NoError(t, err)

	stats, err := s.GetStats()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Tasks[store.TaskStatusCompleted])
	assert.Equal(t, 1, stats.Tasks[store.TaskStatusPending])

	assert.Equal(t, 2, stats.Vacancies.Total)
	assert.Equal(t, 0, stats.Vacancies.Processed)
	assert.Equal(t, 2, stats.Vacancies.Today)
	assert.Equal(t, 1, stats.Vacancies.AddedLastRun)
	require.NotNil(t, stats.Vacancies.LastRunAt)
	assert.NotEmpty(t, stats.Timestamp)
}

func TestGetStatsWithoutLoadRuns(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Empty(t, stats.Tasks)
	assert.Zero(t, stats.Vacancies.AddedLastRun)
	assert.Nil(t, stats.Vacancies.LastRunAt)
}

func TestGetCombinedChangesStats(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	_, err := s.SaveVacancy(sampleVacancy("1"))
	require.NoError(t, err)
	_, err = s.SaveVacancy(sampleVacancy("2"))
	require.NoError(t, err)
	_, err = s.SaveEmployer(&store.Employer{HHID: "777", Name: "Acme Systems"})
	require.NoError(t, err)

	changes, err := s.GetCombinedChangesStats(7)
	require.NoError(t, err)
	assert.Equal(t, 2, changes.Vacancies.NewVacancies)
	assert.Equal(t, 2, changes.Vacancies.TotalChanges)
	assert.Equal(t, 100, changes.Vacancies.EfficiencyPercentage)
	assert.Equal(t, 1, changes.Employers.TotalChanges)
	assert.Equal(t, 2, changes.Summary.TotalOperations)

	// days below 1 is normalized, not an error
	changes, err = s.GetCombinedChangesStats(0)
	require.NoError(t, err)
	assert.Equal(t, 2, changes.Vacancies.NewVacancies)
}

func TestDatabaseSizeMB(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	size := s.DatabaseSizeMB()
	assert.Greater(t, size, 0.0)
}
