// Package store is the single source of truth for harvested data: the
// task queue, the vacancy and employer corpus, plugin results, the
// process registry, health samples, and centralized logs. It owns all
// SQL; other packages speak in its types.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/db"
	"github.com/talocan/hharvest/errors"
)

// Store wraps the SQLite database. Reads run concurrently under WAL;
// writes are serialized through writeMu so transactions never contend
// on the driver's busy handler.
type Store struct {
	db      *sql.DB
	path    string
	logger  *zap.SugaredLogger
	writeMu sync.Mutex
}

// New opens (creating if necessary) the database at path, applies
// migrations, and backfills columns older databases predate.
func New(path string, logger *zap.SugaredLogger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data directory")
		}
	}

	sqlDB, err := db.OpenWithMigrations(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureColumns(sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlDB, path: path, logger: logger}, nil
}

// NewWithDB wraps an already-open database. The caller keeps ownership
// of the handle; Close still closes it. Used by tests and maintenance
// tooling that manage their own connections.
func NewWithDB(sqlDB *sql.DB, path string, logger *zap.SugaredLogger) *Store {
	return &Store{db: sqlDB, path: path, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the raw handle for maintenance commands (VACUUM, export
// queries). Regular callers use the typed methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Vacuum reclaims free pages.
func (s *Store) Vacuum() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return errors.Wrap(err, "vacuum database")
	}
	return nil
}

func (s *Store) debugw(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Debugw(msg, keysAndValues...)
	}
}

func (s *Store) infow(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Infow(msg, keysAndValues...)
	}
}

func (s *Store) warnw(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Warnw(msg, keysAndValues...)
	}
}
