package localstore

import (
	"fmt"
	"os"
	"path/filepath"

	"example.com/fitsync/internal/platform/logger"
)

// Open selects a backend by driver name ("badger" or "sqlite").
func Open(driver, path string, log *logger.Logger) (Store, error) {
	switch driver {
	case "badger":
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true, Logger: log})
	case "sqlite":
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("localstore: create directory %s: %w", path, err)
		}
		return OpenSQLite(filepath.Join(path, "local.db"))
	default:
		return nil, fmt.Errorf("localstore: unknown driver %q", driver)
	}
}
