package commands

import (
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/store"
)

// openStore opens and migrates the engine database at the configured
// path. If dbPath is empty, it resolves from config. Uses logger.Logger
// for store operations.
func openStore(dbPath string) (*store.Store, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.GetDatabasePath()
	}

	st, err := store.New(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return st, nil
}
