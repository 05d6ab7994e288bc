package summary

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/liuxd6825/loadrun/metrics"
)

// humanizeValue formats a sample value of the metric for people: rates as
// percentages, time values (milliseconds) as durations and data as bytes.
func humanizeValue(m *metrics.Metric, v float64) string {
	if m.Type == metrics.Rate {
		return strconv.FormatFloat(100*v, 'f', 2, 64) + "%"
	}
	switch m.Contains {
	case metrics.Time:
		return humanizeDuration(time.Duration(v * float64(time.Millisecond)))
	case metrics.Data:
		return humanizeBytes(v)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// humanizeDuration keeps two truncated decimals below a minute, and whole
// seconds above.
func humanizeDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Truncate(time.Second).String()
	}
	if d < 0 {
		return "-" + humanizeDuration(-d)
	}

	var unit time.Duration
	var suffix string
	switch {
	case d < time.Microsecond:
		return strconv.FormatInt(int64(d), 10) + "ns"
	case d < time.Millisecond:
		unit, suffix = time.Microsecond, "µs"
	case d < time.Second:
		unit, suffix = time.Millisecond, "ms"
	default:
		unit, suffix = time.Second, "s"
	}
	hundredths := int64(d) / int64(unit/100)
	return fmt.Sprintf("%d.%02d%s", hundredths/100, hundredths%100, suffix)
}

func humanizeBytes(v float64) string {
	units := []string{"B", "kB", "MB", "GB", "TB", "PB"}
	i := 0
	for v >= 1000 && i < len(units)-1 {
		v /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", v, units[i])
	}
	if v < 10 {
		return fmt.Sprintf("%.1f %s", v, units[i])
	}
	return fmt.Sprintf("%.0f %s", v, units[i])
}

// strWidth returns the number of terminal columns s takes, skipping ANSI
// escape sequences.
func strWidth(s string) (n int) {
	var it norm.Iter
	it.InitString(norm.NFKD, s)

	inEscSeq := false
	inLongEscSeq := false
	for !it.Done() {
		data := it.Next()

		if data[0] == '\x1b' {
			inEscSeq = true
			continue
		}
		if inEscSeq && data[0] == '[' {
			inLongEscSeq = true
			continue
		}
		if inLongEscSeq {
			// parameter and intermediate bytes up to the final byte
			if data[0] >= 0x40 && data[0] <= 0x7E {
				inEscSeq = false
				inLongEscSeq = false
			}
			continue
		}
		if inEscSeq {
			inEscSeq = false
			continue
		}

		n++
	}
	return n
}
