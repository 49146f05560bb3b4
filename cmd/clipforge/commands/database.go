package commands

import (
	"database/sql"

	"github.com/clipforge/clipforge/config"
	"github.com/clipforge/clipforge/db"
	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/logger"
)

// openDatabase opens and migrates the database at the given path. An empty
// path falls back to the configured one.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "clipforge.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
