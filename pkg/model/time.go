package model

import (
	"fmt"
	"time"
)

// ParseTime parses a persisted or snapshot timestamp. Besides RFC 3339 it
// accepts the naive ISO-8601 variants found in legacy JSON caches (no zone
// suffix, variable fraction width, date-only). Naive times are taken as UTC.
// An empty string parses to the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
