package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks a digest schedule string without building a
// service. Empty means disabled and is accepted.
func ValidateSchedule(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	_, err := parseSchedule(raw)
	return err
}

// parseSchedule accepts a cron expression ("0 * * * *", "@hourly",
// "@every 30m") or a plain Go duration ("30m") and returns something that
// can answer "when next".
func parseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}

	// Whitespace or a leading '@' means cron; anything else is a duration.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := cronParser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return sched, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '0 * * * *' or duration like '30m')", raw)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule interval must be > 0")
	}
	return cron.Every(d), nil
}
