// Package schedule computes when deferred tasks become due.
package schedule

import (
	"fmt"
	"time"
)

// NextDailyRun returns the next occurrence of the given wall-clock time in
// loc, strictly after now. A now at or past today's cutoff yields
// tomorrow's cutoff.
func NextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ParseDailyTime parses a "HH:MM" wall-clock string.
func ParseDailyTime(s string) (hour, minute int, err error) {
	if _, err := time.Parse("15:04", s); err != nil {
		return 0, 0, fmt.Errorf("invalid daily time %q: %w", s, err)
	}
	if _, scanErr := fmt.Sscanf(s, "%d:%d", &hour, &minute); scanErr != nil {
		return 0, 0, fmt.Errorf("invalid daily time %q: %w", s, scanErr)
	}
	return hour, minute, nil
}
