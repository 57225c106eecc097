package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/store"
)

func TestNewCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "hh_v4.sqlite3")

	s, err := store.New(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
}

func TestVacuum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hh_v4.sqlite3")

	s, err := store.New(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Vacuum())
}

// --- Sqlmock Tests ---
// Failure paths that an on-disk database will not produce on demand.

func TestQueryFailuresAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewWithDB(db, "mock.sqlite3", zap.NewNop().Sugar())

	t.Run("GetStats", func(t *testing.T) {
		mock.ExpectQuery("SELECT status, COUNT").WillReturnError(fmt.Errorf("disk I/O error"))

		_, err := s.GetStats()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query task stats")
		assert.Contains(t, err.Error(), "disk I/O error")
	})

	t.Run("TailLogs", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, ts, level").WillReturnError(fmt.Errorf("disk I/O error"))

		_, err := s.TailLogs(10, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query logs")
	})

	t.Run("GetDueTasks", func(t *testing.T) {
		mock.ExpectQuery("SELECT .* FROM tasks").WillReturnError(fmt.Errorf("database is locked"))

		_, err := s.GetDueTasks()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query due tasks")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
