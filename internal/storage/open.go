package storage

import (
	"fmt"
	"strings"

	logx "taskgate/pkg/logx"
)

// Default paths per driver when Config.Path is empty.
const (
	DefaultFilePath   = "./data/taskgate.runs.jsonl"
	DefaultSQLitePath = "./data/taskgate.db"
)

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled; callers treat a nil Store as "history off".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Path = strings.TrimSpace(cfg.Path)

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		if cfg.Path == "" {
			cfg.Path = DefaultFilePath
		}
		return openFile(cfg, log.With(logx.String("store", "file")))
	case "sqlite", "sqlite3":
		if cfg.Path == "" {
			cfg.Path = DefaultSQLitePath
		}
		return openSQLite(cfg, log.With(logx.String("store", "sqlite")))
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
