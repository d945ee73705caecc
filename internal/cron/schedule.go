package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ScheduleType mirrors store.ScheduleType without importing the store
// package, keeping cron dependency-free and independently testable.
type ScheduleType string

const (
	Cron     ScheduleType = "cron"
	Interval ScheduleType = "interval"
	Once     ScheduleType = "once"
)

// Validate checks that value is a well-formed schedule of the given type,
// without reference to "now" — used synchronously at task-submit time so
// a malformed schedule is rejected before anything is persisted.
func Validate(kind ScheduleType, value string) error {
	switch kind {
	case Cron:
		if !gronx.IsValid(value) {
			return fmt.Errorf("cron: invalid cron expression %q", value)
		}
		return nil
	case Interval:
		_, err := parseIntervalMillis(value)
		return err
	case Once:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("cron: invalid once timestamp %q: %w", value, err)
		}
		return nil
	default:
		return fmt.Errorf("cron: unknown schedule type %q", kind)
	}
}

// Next computes the next run time (unix milliseconds) strictly after
// afterMs, for a schedule previously accepted by Validate. For "once" it
// ignores afterMs and returns the timestamp itself on every call; the
// scheduler marks a once task completed after its run.
func Next(kind ScheduleType, value string, tz *time.Location, afterMs int64) (int64, error) {
	switch kind {
	case Cron:
		loc := tz
		if loc == nil {
			loc = time.UTC
		}
		ref := time.UnixMilli(afterMs).In(loc)
		next, err := gronx.NextTickAfter(value, ref, false)
		if err != nil {
			return 0, fmt.Errorf("cron: next occurrence of %q: %w", value, err)
		}
		return next.UnixMilli(), nil
	case Interval:
		ms, err := parseIntervalMillis(value)
		if err != nil {
			return 0, err
		}
		return afterMs + ms, nil
	case Once:
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, err
		}
		return ts, nil
	default:
		return 0, fmt.Errorf("cron: unknown schedule type %q", kind)
	}
}

// parseIntervalMillis parses an interval value like "30s", "5m", "2h" into
// milliseconds. Plain integers are treated as milliseconds already.
func parseIntervalMillis(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("cron: empty interval")
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("cron: interval must be positive, got %q", value)
		}
		return d.Milliseconds(), nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cron: invalid interval %q", value)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("cron: interval must be positive, got %q", value)
	}
	return ms, nil
}
