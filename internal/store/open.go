package store

import (
	"errors"
	"strings"

	logx "pwnotify/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (KV, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = "pwnotify"
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "redis":
		return openRedis(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
