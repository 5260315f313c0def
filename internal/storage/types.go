package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures round persistence.
//
// Driver values:
//   - "file": one JSON array file per room (atomic rewrite)
//   - "sqlite": single SQLite database file
//
// If Driver is empty or "none", persistence is disabled and history is
// memory-only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
