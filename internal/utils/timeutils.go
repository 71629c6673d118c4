package utils

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and the common date-only or zone-less forms
// collaborators emit. Zone-less values are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", value)
}

// DayKey returns the UTC calendar day of t as YYYY-MM-DD, or "" for the zero time.
func DayKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// MinutesToSeconds converts a user-authored interval into its stored form.
func MinutesToSeconds(minutes int) int {
	return minutes * 60
}

// SecondsToMinutes converts a stored interval back to minutes. Positive
// intervals shorter than a minute round up to one.
func SecondsToMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	if seconds < 60 {
		return 1
	}
	return seconds / 60
}
