// Package db opens the hharvest SQLite database and applies embedded
// schema migrations. Higher-level query logic lives in the store package.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/sym"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked
// database before giving up. The harvester has several writers (worker
// pool, scheduler, log sink) sharing one file, so this stays generous.
const SQLiteBusyTimeoutMS = 30000

// Open opens a SQLite database at the specified path with the pragmas
// the harvester relies on. If logger is provided, logs database
// operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}

	// NORMAL sync is durable enough under WAL and much faster
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set synchronous mode")
	}

	if _, err := db.Exec("PRAGMA cache_size = 10000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set cache size")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS)); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and brings the schema up to
// date in one step. Most callers want this instead of Open + Migrate.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return db, nil
}
