package testing

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/store"
)

// CreateTestStore opens a throwaway on-disk store under t.TempDir.
// Automatically registers cleanup via t.Cleanup().
func CreateTestStore(t *testing.T) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hh_v4.sqlite3")
	s, err := store.New(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
