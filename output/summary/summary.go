// Package summary renders the end-of-run report: a text summary for the
// terminal and a machine-readable JSON export.
package summary

import (
	"fmt"
	"time"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/metrics/engine"
)

// State is how a run ended.
type State string

// Run end states.
const (
	StateFinished State = "finished"
	StateAborted  State = "aborted"
)

// Summary is everything the reports are built from.
type Summary struct {
	RunID    string
	State    State
	Duration time.Duration
	ExitCode int

	RootGroup *lib.Group
	Metrics   []engine.ObservedMetric

	trendStats     []string
	trendResolvers map[string]metrics.TrendColumnResolver
}

// New returns the summary of a run. The metrics must be sorted by name, as
// engine.MetricsEngine.ObservedMetrics returns them.
func New(test *lib.TestRun, state State, exitCode int, observed []engine.ObservedMetric) (*Summary, error) {
	trendStats := test.Options.SummaryTrendStats
	if len(trendStats) == 0 {
		trendStats = lib.DefaultSummaryTrendStats
	}
	resolvers, err := metrics.GetResolversForTrendColumns(trendStats)
	if err != nil {
		return nil, fmt.Errorf("invalid summaryTrendStats: %w", err)
	}
	return &Summary{
		RunID:          test.ID,
		State:          state,
		Duration:       test.CurrentDuration(),
		ExitCode:       exitCode,
		RootGroup:      test.RootGroup,
		Metrics:        observed,
		trendStats:     trendStats,
		trendResolvers: resolvers,
	}, nil
}

// trendValues returns the configured trend columns, in order.
func (s *Summary) trendValues(sink metrics.TrendStats) []float64 {
	values := make([]float64, len(s.trendStats))
	for i, stat := range s.trendStats {
		values[i] = s.trendResolvers[stat](sink)
	}
	return values
}

// metricValues returns the aggregated values of a non-trend metric, keyed
// the way thresholds name them.
func (s *Summary) metricValues(sink metrics.Sink) map[string]float64 {
	switch sink := sink.(type) {
	case *metrics.CounterSink:
		return map[string]float64{"count": sink.Value, "rate": sink.Rate(s.Duration)}
	case *metrics.GaugeSink:
		return map[string]float64{"value": sink.Value, "min": sink.Min, "max": sink.Max}
	case *metrics.RateSink:
		return map[string]float64{
			"rate":   sink.Rate(),
			"passes": float64(sink.Trues),
			"fails":  float64(sink.Total - sink.Trues),
		}
	case metrics.TrendStats:
		values := make(map[string]float64, len(s.trendStats)+1)
		for i, v := range s.trendValues(sink) {
			values[s.trendStats[i]] = v
		}
		values["count"] = float64(sink.Count())
		return values
	default:
		return nil
	}
}

// thresholdsOK reports whether every threshold of the metric passed in the
// last evaluation. It is false when the metric has no thresholds.
func thresholdsOK(m *metrics.Metric) (ok, hasThresholds bool) {
	if len(m.Thresholds.Thresholds) == 0 {
		return false, false
	}
	for _, th := range m.Thresholds.Thresholds {
		if th.LastFailed {
			return false, true
		}
	}
	return true, true
}
