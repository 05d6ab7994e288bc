package httpext

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	Min, Max int
}

// ExpectedStatuses are the statuses that do not count as a failed request in
// http_req_failed. A transport error has status 0.
type ExpectedStatuses []StatusRange

// DefaultExpectedStatuses returns the 200-399 range.
func DefaultExpectedStatuses() ExpectedStatuses {
	return ExpectedStatuses{{Min: 200, Max: 399}}
}

// Matches reports whether status is expected.
func (es ExpectedStatuses) Matches(status int) bool {
	for _, r := range es {
		if status >= r.Min && status <= r.Max {
			return true
		}
	}
	return false
}

func (es ExpectedStatuses) String() string {
	parts := make([]string, len(es))
	for i, r := range es {
		if r.Min == r.Max {
			parts[i] = strconv.Itoa(r.Min)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", r.Min, r.Max)
		}
	}
	return strings.Join(parts, ",")
}

// ErrInvalidStatusRange is returned for malformed expected statuses.
var ErrInvalidStatusRange = errors.New("invalid status range")

// ParseExpectedStatuses parses single statuses like "404" and ranges like
// "200-299".
func ParseExpectedStatuses(parts ...string) (ExpectedStatuses, error) {
	result := make(ExpectedStatuses, 0, len(parts))
	for _, part := range parts {
		minStr, maxStr, isRange := strings.Cut(strings.TrimSpace(part), "-")
		if !isRange {
			maxStr = minStr
		}
		lo, err := strconv.Atoi(strings.TrimSpace(minStr))
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrInvalidStatusRange, part)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(maxStr))
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrInvalidStatusRange, part)
		}
		if lo < 0 || hi > 999 || lo > hi {
			return nil, fmt.Errorf("%w %q", ErrInvalidStatusRange, part)
		}
		result = append(result, StatusRange{Min: lo, Max: hi})
	}
	return result, nil
}
