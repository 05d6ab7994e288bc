package summary

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
)

const (
	groupPrefix   = "█"
	detailsPrefix = "↳"

	succMark = "✓"
	failMark = "✗"
)

type palette struct {
	std, succ, fail, gray, value, extra *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		std:   color.New(),
		succ:  color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		gray:  color.New(color.Faint),
		value: color.New(color.FgCyan),
		extra: color.New(color.FgCyan, color.Faint),
	}
	for _, c := range []*color.Color{p.std, p.succ, p.fail, p.gray, p.value, p.extra} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return p
}

// TextWriter renders a Summary for the terminal.
type TextWriter struct {
	NoColor bool
	Indent  string
}

// Write writes the check tree, then every metric with its thresholds.
func (tw TextWriter) Write(w io.Writer, s *Summary) error {
	p := newPalette(tw.NoColor)
	var b strings.Builder

	fmt.Fprintf(&b, "%s  run %s %s after %s\n\n", tw.Indent, s.RunID, s.State, s.Duration.Round(time.Millisecond))
	summarizeGroup(&b, p, tw.Indent+"    ", s.RootGroup)
	summarizeMetrics(&b, p, tw.Indent+"  ", s)

	_, err := io.WriteString(w, b.String())
	return err
}

func summarizeCheck(w io.Writer, p palette, indent string, check *lib.Check) {
	passes, fails := check.Counts()
	mark, c := succMark, p.succ
	if fails > 0 {
		mark, c = failMark, p.fail
	}
	_, _ = c.Fprintf(w, "%s%s %s\n", indent, mark, check.Name)
	if fails > 0 {
		_, _ = c.Fprintf(w, "%s %s  %d%% %s %s %d / %s %d\n",
			indent, detailsPrefix,
			int(100*(float64(passes)/float64(passes+fails))),
			p.gray.Sprint("-"), succMark, passes, failMark, fails,
		)
	}
}

func summarizeGroup(w io.Writer, p palette, indent string, group *lib.Group) {
	if group.Name != "" {
		_, _ = fmt.Fprintf(w, "%s%s %s\n\n", indent, groupPrefix, group.Name)
		indent += "  "
	}

	checks := group.SnapshotChecks()
	for _, check := range checks {
		summarizeCheck(w, p, indent, check)
	}
	if len(checks) > 0 {
		_, _ = fmt.Fprintln(w)
	}

	for _, child := range group.SnapshotGroups() {
		summarizeGroup(w, p, indent, child)
	}
}

func displayName(m *metrics.Metric) string {
	if m.Sub != nil {
		return "{ " + m.Sub.Suffix + " }"
	}
	return m.Name
}

func indentFor(m *metrics.Metric) string {
	if m.Sub != nil {
		return "  "
	}
	return ""
}

// nonTrendValue returns the main value of a non-trend metric and the extra
// annotations shown next to it.
func nonTrendValue(s *Summary, m *metrics.Metric, sink metrics.Sink) (string, []string) {
	switch sink := sink.(type) {
	case *metrics.CounterSink:
		return humanizeValue(m, sink.Value), []string{humanizeValue(m, sink.Rate(s.Duration)) + "/s"}
	case *metrics.GaugeSink:
		return humanizeValue(m, sink.Value), []string{
			"min=" + humanizeValue(m, sink.Min),
			"max=" + humanizeValue(m, sink.Max),
		}
	case *metrics.RateSink:
		return humanizeValue(m, sink.Rate()), []string{
			succMark + " " + strconv.FormatInt(sink.Trues, 10),
			failMark + " " + strconv.FormatInt(sink.Total-sink.Trues, 10),
		}
	default:
		return "[no data]", nil
	}
}

//nolint:funlen
func summarizeMetrics(w io.Writer, p palette, indent string, s *Summary) {
	nameLenMax := 0
	values := make(map[*metrics.Metric]string)
	valueMaxLen := 0
	extras := make(map[*metrics.Metric][]string)
	extraMaxLens := make([]int, 2)
	trendCols := make(map[*metrics.Metric][]string)
	trendColMaxLens := make([]int, len(s.trendStats))

	for _, om := range s.Metrics {
		m := om.Metric
		if l := strWidth(displayName(m) + indentFor(m)); l > nameLenMax {
			nameLenMax = l
		}

		if sink, ok := om.Sink.(metrics.TrendStats); ok {
			cols := make([]string, len(s.trendStats))
			for i, v := range s.trendValues(sink) {
				cols[i] = humanizeValue(m, v)
				if l := strWidth(cols[i]); l > trendColMaxLens[i] {
					trendColMaxLens[i] = l
				}
			}
			trendCols[m] = cols
			continue
		}

		value, extra := nonTrendValue(s, m, om.Sink)
		values[m] = value
		if l := strWidth(value); l > valueMaxLen {
			valueMaxLen = l
		}
		extras[m] = extra
		if len(extra) > 1 {
			for i, ex := range extra {
				if l := strWidth(ex); l > extraMaxLens[i] {
					extraMaxLens[i] = l
				}
			}
		}
	}

	tmpCols := make([]string, len(s.trendStats))
	for _, om := range s.Metrics {
		m := om.Metric

		mark, markColor := " ", p.std
		if ok, has := thresholdsOK(m); has {
			if ok {
				mark, markColor = succMark, p.succ
			} else {
				mark, markColor = failMark, p.fail
			}
		}

		fmtName := displayName(m)
		fmtIndent := indentFor(m)
		fmtName += p.gray.Sprint(strings.Repeat(".", nameLenMax-strWidth(fmtName)-strWidth(fmtIndent)+3) + ":")

		var fmtData string
		if cols := trendCols[m]; cols != nil {
			for i, val := range cols {
				tmpCols[i] = s.trendStats[i] + "=" + p.value.Sprint(val) + strings.Repeat(" ", trendColMaxLens[i]-strWidth(val))
			}
			fmtData = strings.Join(tmpCols, " ")
		} else {
			value := values[m]
			fmtData = p.value.Sprint(value) + strings.Repeat(" ", valueMaxLen-strWidth(value))

			extra := extras[m]
			switch len(extra) {
			case 0:
			case 1:
				fmtData += " " + p.extra.Sprint(extra[0])
			default:
				parts := make([]string, len(extra))
				for i, ex := range extra {
					parts[i] = p.extra.Sprint(ex) + strings.Repeat(" ", extraMaxLens[i]-strWidth(ex))
				}
				fmtData += " " + strings.Join(parts, " ")
			}
		}
		_, _ = fmt.Fprint(w, indent+fmtIndent+markColor.Sprint(mark)+" "+fmtName+" "+strings.TrimRight(fmtData, " ")+"\n")

		for _, th := range m.Thresholds.Thresholds {
			thMark, thColor := succMark, p.succ
			if th.LastFailed {
				thMark, thColor = failMark, p.fail
			}
			_, _ = fmt.Fprint(w, thColor.Sprintf("%s%s    %s %s", indent, fmtIndent, thMark, th.Source)+"\n")
		}
	}
}
