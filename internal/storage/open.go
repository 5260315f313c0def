package storage

import (
	"context"
	"errors"
	"strings"

	"aviamon/internal/market"
	logx "aviamon/pkg/logx"
)

// RoomStore persists per-room round snapshots.
//
// LoadRounds returns the stored rounds oldest-first; a missing or unreadable
// snapshot yields an empty slice, never an error that blocks startup.
// SaveRounds replaces the room's snapshot wholesale.
type RoomStore interface {
	LoadRounds(ctx context.Context, room market.RoomID) ([]market.Round, error)
	SaveRounds(ctx context.Context, room market.RoomID, rounds []market.Round) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (RoomStore, error) {
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
