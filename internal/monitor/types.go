package monitor

import (
	"time"

	"aviamon/internal/market"
)

// Config controls the polling/alerting cycle.
type Config struct {
	Enabled bool

	PollInterval time.Duration // 0 means default (20s)
	ErrorBackoff time.Duration // 0 means default (10s)

	// DigestSchedule optionally enables the periodic status digest.
	// Cron spec ("0 * * * *", "@hourly") or Go duration ("30m"); empty disables.
	DigestSchedule string

	Thresholds Thresholds
}

const (
	DefaultPollInterval = 20 * time.Second
	DefaultErrorBackoff = 10 * time.Second
)

// Thresholds are the per-tier probability cutoffs, all in (0, 1].
type Thresholds struct {
	UrgentFive  float64 // target 5
	HighLarge   float64 // targets > 20
	HighMid     float64 // targets in (5, 20]
	MediumSmall float64 // targets < 5
}

func (t Thresholds) withDefaults() Thresholds {
	if t.UrgentFive <= 0 {
		t.UrgentFive = 0.7
	}
	if t.HighLarge <= 0 {
		t.HighLarge = 0.4
	}
	if t.HighMid <= 0 {
		t.HighMid = 0.6
	}
	if t.MediumSmall <= 0 {
		t.MediumSmall = 0.8
	}
	return t
}

type Tier string

const (
	TierUrgent Tier = "urgent"
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
)

// Alert is one per-target signal extracted from a prediction.
type Alert struct {
	Room        market.RoomID
	Tier        Tier
	Target      float64
	Probability float64
	Priority    int
}

// CycleEvent is published on the event bus after every completed cycle.
type CycleEvent struct {
	At          time.Time `json:"at"`
	RoomsOK     int       `json:"rooms_ok"`
	RoomsFailed int       `json:"rooms_failed"`
	Alerts      int       `json:"alerts"`
}
