package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Monitor controls the polling/analysis/alerting pipeline.
	Monitor MonitorConfig `json:"monitor"`

	// Source selects where new rounds come from.
	Source SourceConfig `json:"source"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	// Rooms optionally overrides per-room value ranges and base probability
	// tables. Keys are room ids ("room1".."room3").
	Rooms map[string]RoomOverride `json:"rooms,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig controls the alert scheduler.
//
// All durations are Go duration strings (e.g. "20s", "3m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "20s"
//   - error_backoff: "10s"
//   - learning_duration: "3m"
//   - history_cap: 1000
//   - thresholds: urgent_five 0.7, high_large 0.4, high_mid 0.6, medium_small 0.8
type MonitorConfig struct {
	Enabled bool `json:"enabled"`

	PollInterval     string `json:"poll_interval,omitempty"`
	ErrorBackoff     string `json:"error_backoff,omitempty"`
	LearningDuration string `json:"learning_duration,omitempty"`
	HistoryCap       int    `json:"history_cap,omitempty"`

	// DigestSchedule optionally schedules a per-subscriber status digest.
	// Accepts a cron spec ("0 * * * *", "@hourly") or a Go duration ("30m").
	DigestSchedule string `json:"digest_schedule,omitempty"`

	Thresholds *ThresholdsConfig `json:"thresholds,omitempty"`
}

// ThresholdsConfig sets the per-tier probability cutoffs.
// All values must fall in (0, 1].
type ThresholdsConfig struct {
	UrgentFive  float64 `json:"urgent_five"`  // target 5
	HighLarge   float64 `json:"high_large"`   // targets > 20
	HighMid     float64 `json:"high_mid"`     // targets in (5, 20]
	MediumSmall float64 `json:"medium_small"` // targets < 5
}

// SourceConfig selects the data source driver.
//
// Driver values:
//   - "sim": deterministic-range simulated rounds (default)
//   - "http": GET a per-room URL returning a JSON round
type SourceConfig struct {
	Driver  string `json:"driver,omitempty"`
	Timeout string `json:"timeout,omitempty"` // http driver; Go duration string

	// RoomURLs maps room id -> endpoint (http driver only).
	RoomURLs map[string]string `json:"rooms,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig controls the durable room snapshot store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/rooms" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RoomOverride tunes one room's static profile.
type RoomOverride struct {
	Display  string             `json:"display,omitempty"`
	MinValue float64            `json:"min_value,omitempty"`
	MaxValue float64            `json:"max_value,omitempty"`
	BaseProb map[string]float64 `json:"base_prob,omitempty"` // target (as string) -> probability
}
