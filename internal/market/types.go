// Package market holds the domain value objects shared by the history store,
// the analyzer and the monitor: rooms, rounds, targets and predictions.
package market

import (
	"errors"
	"time"
)

// ErrUnknownRoom is returned when a caller names a room outside the fixed set.
var ErrUnknownRoom = errors.New("unknown room")

// RoomID identifies one independently tracked game room.
type RoomID string

const (
	Room1 RoomID = "room1"
	Room2 RoomID = "room2"
	Room3 RoomID = "room3"
)

// Rooms returns all rooms in their fixed processing order.
// The monitor iterates this slice every cycle; keep the order stable.
func Rooms() []RoomID { return []RoomID{Room1, Room2, Room3} }

// Valid reports whether r names a known room.
func (r RoomID) Valid() bool {
	switch r {
	case Room1, Room2, Room3:
		return true
	}
	return false
}

// Round is one observed multiplier value. Immutable once created; owned by the
// history slot of its room.
type Round struct {
	Timestamp  time.Time `json:"timestamp"`
	Multiplier float64   `json:"multiplier"`
	SequenceID int64     `json:"round_id"`
	Room       RoomID    `json:"room"`
}

// Targets is the fixed ordered set of multiplier thresholds a probability is
// computed for. Process-wide constant; do not mutate.
var Targets = []float64{1.5, 2, 3, 4, 5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 1000}

// TrendLabel is a coarse summary of short-term directional movement.
type TrendLabel string

const (
	TrendInsufficientData TrendLabel = "INSUFFICIENT_DATA"
	TrendAnalyzing        TrendLabel = "ANALYZING"
	TrendStrongUp         TrendLabel = "STRONG UP"
	TrendStrongDown       TrendLabel = "STRONG DOWN"
	TrendUpward           TrendLabel = "UPWARD"
	TrendDownward         TrendLabel = "DOWNWARD"
	TrendVolatile         TrendLabel = "VOLATILE"
)

// Prediction is a derived, ephemeral snapshot of a room's recent behavior.
// Recomputed every monitor cycle; never persisted.
type Prediction struct {
	Room          RoomID
	Trend         TrendLabel
	Confidence    float64 // [0,1]
	Volatility    float64 // >= 0
	RecentHigh    float64
	Probabilities map[float64]float64 // target -> [0,1]
	At            time.Time
}
