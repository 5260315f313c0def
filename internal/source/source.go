// Package source produces new rounds for the monitor to analyze.
package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"aviamon/internal/market"
	logx "aviamon/pkg/logx"
)

// Config selects and tunes a data source driver.
type Config struct {
	Driver   string
	Timeout  time.Duration     // http driver; 0 means default
	RoomURLs map[string]string // http driver; room id -> endpoint
}

// DataSource pulls the latest round for a room. Implementations must be
// safe for concurrent use; the monitor calls Pull once per room per cycle.
type DataSource interface {
	Pull(ctx context.Context, room market.RoomID) (market.Round, error)
}

// Open initializes the configured driver. An empty driver means "sim".
func Open(cfg Config, profiles map[market.RoomID]market.Profile, log logx.Logger) (DataSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sim":
		return newSim(profiles), nil
	case "http":
		return newHTTP(cfg, log)
	default:
		return nil, errors.New("unknown source driver: " + driver)
	}
}
