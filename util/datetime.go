// Package util provides utility functions for the mirror.
//
//revive:disable-next-line:var-naming
package util

import (
	"fmt"
	"strings"
	"time"
)

// ISODatetimeLayout renders timestamps with millisecond precision and a numeric
// offset, e.g. 2023-01-01T00:00:00.000+00:00, which is what the NVD date filters expect.
const ISODatetimeLayout = "2006-01-02T15:04:05.000-07:00"

// Layouts without zone information are interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISODatetime parses the ISO 8601 forms produced by the NVD API and found in
// sync state files. Values without a timezone are treated as UTC.
func ParseISODatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 datetime %q", s)
}

// FormatISODatetime renders t in the normalized millisecond form
func FormatISODatetime(t time.Time) string {
	return t.Format(ISODatetimeLayout)
}
