package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"aviamon/internal/market"
	"aviamon/internal/monitor"
	"aviamon/internal/notifier"
	"aviamon/internal/source"
	"aviamon/internal/storage"
	"aviamon/internal/subs"
)

// mapNotifierConfig maps the JSON config into the runtime notifier.Config
// (parsed durations). An omitted notifier section means enabled with
// defaults.
func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     1 * time.Minute,
		DedupMaxEntries: 2000,
	}

	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	out.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	out.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if out.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	if out.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	return out, nil
}

// mapStorageConfig returns (config, enabled, error). An omitted section or
// driver "none" disables persistence.
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSourceConfig(cfg *Config) (source.Config, error) {
	out := source.Config{Driver: "sim"}
	if cfg == nil {
		return out, nil
	}
	if d := strings.TrimSpace(cfg.Source.Driver); d != "" {
		out.Driver = strings.ToLower(d)
	}
	timeout, err := parseDurationOrDefault("source.timeout", cfg.Source.Timeout, 0)
	if err != nil {
		return source.Config{}, err
	}
	out.Timeout = timeout
	out.RoomURLs = cfg.Source.RoomURLs
	return out, nil
}

func mapMonitorConfig(cfg *Config) (monitor.Config, error) {
	out := monitor.Config{}
	if cfg == nil {
		return out, nil
	}
	mc := cfg.Monitor
	out.Enabled = mc.Enabled
	out.DigestSchedule = mc.DigestSchedule

	var err error
	out.PollInterval, err = parseDurationOrDefault("monitor.poll_interval", mc.PollInterval, monitor.DefaultPollInterval)
	if err != nil {
		return monitor.Config{}, err
	}
	out.ErrorBackoff, err = parseDurationOrDefault("monitor.error_backoff", mc.ErrorBackoff, monitor.DefaultErrorBackoff)
	if err != nil {
		return monitor.Config{}, err
	}
	if err := monitor.ValidateSchedule(mc.DigestSchedule); err != nil {
		return monitor.Config{}, fmt.Errorf("monitor.digest_schedule: %w", err)
	}

	if t := mc.Thresholds; t != nil {
		for _, f := range []struct {
			name string
			v    float64
		}{
			{"urgent_five", t.UrgentFive},
			{"high_large", t.HighLarge},
			{"high_mid", t.HighMid},
			{"medium_small", t.MediumSmall},
		} {
			if f.v < 0 || f.v > 1 {
				return monitor.Config{}, fmt.Errorf("monitor.thresholds.%s must be in [0, 1]", f.name)
			}
		}
		out.Thresholds = monitor.Thresholds{
			UrgentFive:  t.UrgentFive,
			HighLarge:   t.HighLarge,
			HighMid:     t.HighMid,
			MediumSmall: t.MediumSmall,
		}
	}
	return out, nil
}

func mapLearningDuration(cfg *Config) (time.Duration, error) {
	if cfg == nil {
		return subs.DefaultLearningDuration, nil
	}
	return parseDurationOrDefault("monitor.learning_duration", cfg.Monitor.LearningDuration, subs.DefaultLearningDuration)
}

func mapHistoryCap(cfg *Config) (int, error) {
	if cfg == nil || cfg.Monitor.HistoryCap == 0 {
		return 0, nil // history.New picks its default
	}
	c := cfg.Monitor.HistoryCap
	if c < 1 || c > 10000 {
		return 0, fmt.Errorf("monitor.history_cap must be in [1, 10000]")
	}
	return c, nil
}

// buildProfiles applies per-room config overrides on top of the built-in
// room profiles.
func buildProfiles(cfg *Config) (map[market.RoomID]market.Profile, error) {
	profiles := market.DefaultProfiles()
	if cfg == nil {
		return profiles, nil
	}
	for key, ov := range cfg.Rooms {
		room := market.RoomID(strings.ToLower(strings.TrimSpace(key)))
		p, ok := profiles[room]
		if !ok {
			return nil, fmt.Errorf("rooms.%s: unknown room id", key)
		}
		if d := strings.TrimSpace(ov.Display); d != "" {
			p.Display = d
		}
		if ov.MinValue != 0 {
			p.MinValue = ov.MinValue
		}
		if ov.MaxValue != 0 {
			p.MaxValue = ov.MaxValue
		}
		if p.MinValue <= 0 || p.MaxValue <= p.MinValue {
			return nil, fmt.Errorf("rooms.%s: value range must satisfy 0 < min < max", key)
		}
		if len(ov.BaseProb) > 0 {
			merged := make(map[float64]float64, len(p.BaseProb)+len(ov.BaseProb))
			for t, v := range p.BaseProb {
				merged[t] = v
			}
			for ts, v := range ov.BaseProb {
				target, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
				if err != nil || target <= 1 {
					return nil, fmt.Errorf("rooms.%s.base_prob: invalid target %q", key, ts)
				}
				if v < 0 || v > 1 {
					return nil, fmt.Errorf("rooms.%s.base_prob[%s]: probability must be in [0, 1]", key, ts)
				}
				merged[target] = v
			}
			p.BaseProb = merged
		}
		profiles[room] = p
	}
	return profiles, nil
}
