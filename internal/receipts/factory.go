package receipts

import (
	"database/sql"
	"fmt"

	"surfacesync/internal/config"
	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
)

// New builds the queue selected by cfg.Backend. db is only used by the
// postgres backend.
func New(cfg config.ReceiptsConfig, db *sql.DB, log logger.Logger) (Queue, error) {
	switch cfg.Backend {
	case constants.BackendDir, "":
		return NewDirQueue(cfg.Dir, cfg.CorruptMaxAge, log)
	case constants.BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres receipts backend requires a database connection")
		}
		return NewPostgresQueue(db, cfg.Table, cfg.CorruptMaxAge, log), nil
	default:
		return nil, fmt.Errorf("unknown receipts backend: %s", cfg.Backend)
	}
}
