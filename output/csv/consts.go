package csv

import "fmt"

// TimeFormat is the format of the timestamp column.
type TimeFormat string

// Supported timestamp formats.
const (
	TimeFormatUnix    TimeFormat = "unix"
	TimeFormatRFC3339 TimeFormat = "rfc3339"
)

// TimeFormatString parses a timestamp format name; empty means unix.
func TimeFormatString(s string) (TimeFormat, error) {
	switch TimeFormat(s) {
	case "", TimeFormatUnix:
		return TimeFormatUnix, nil
	case TimeFormatRFC3339:
		return TimeFormatRFC3339, nil
	default:
		return "", fmt.Errorf("unknown time format %q, must be %s or %s", s, TimeFormatUnix, TimeFormatRFC3339)
	}
}

// DefaultColumns are the tags written as their own columns; the other tags
// of a sample end up in extra_tags.
var DefaultColumns = []string{ //nolint:gochecknoglobals
	"check", "error", "error_code", "expected_response", "group",
	"method", "name", "proto", "scenario", "status", "url",
}
