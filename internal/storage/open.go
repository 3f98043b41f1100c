package storage

import (
	"context"
	"errors"
	"strings"

	logx "puckbot/pkg/logx"
)

// Store is the minimal persistence API used by the publisher and the
// milestone engine.
type Store interface {
	AppendPost(ctx context.Context, r PostRecord) error
	PutBaseline(ctx context.Context, b Baseline) error
	GetBaseline(ctx context.Context, playerID int64) (Baseline, bool, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
