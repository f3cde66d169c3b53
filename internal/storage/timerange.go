package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRelative resolves a relative duration expression ("1h", "15m",
// "7d") against now, or parses an absolute RFC3339 timestamp. Resolution
// happens at call time, not when the expression was written down.
func ParseRelative(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("storage: empty time expression")
	}

	if d, ok := parseRelativeDuration(expr); ok {
		return now.Add(-d), nil
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, expr); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("storage: unrecognized time expression %q", expr)
}

func parseRelativeDuration(expr string) (time.Duration, bool) {
	if len(expr) < 2 {
		return 0, false
	}
	unit := expr[len(expr)-1]
	numPart := expr[:len(expr)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n < 0 {
		return 0, false
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// BucketGranularity chooses the time-distribution bucket width for a
// range: finer buckets for short ranges, coarser for long ones, so the
// series length stays roughly constant regardless of span.
func BucketGranularity(since, until time.Time) time.Duration {
	span := until.Sub(since)
	switch {
	case span <= time.Hour:
		return time.Minute
	case span <= 24*time.Hour:
		return 5 * time.Minute
	case span <= 7*24*time.Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}
