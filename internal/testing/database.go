package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/talocan/hharvest/db"
)

// CreateTestDB creates an in-memory SQLite test database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return sqlDB
}

// CreateMigratedTestDB creates an in-memory database with the full
// harvest schema applied.
func CreateMigratedTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB := CreateTestDB(t)
	if err := db.Migrate(sqlDB, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return sqlDB
}
