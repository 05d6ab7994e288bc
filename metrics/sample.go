package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// A TimeSeries uniquely identifies the metric and the set of metric tags that a
// Sample has. TimeSeries values are comparable and can be used as map keys.
type TimeSeries struct {
	Metric *Metric
	Tags   *TagSet
}

// A Sample is a single metric measurement at a specific point in time.
type Sample struct {
	TimeSeries
	Time  time.Time
	Value float64

	// Optional high-cardinality metadata (vu, iter) that is not indexed.
	Metadata map[string]string
}

// SampleContainer is a simple abstraction that allows sample
// producers to attach extra information to samples they return
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples is just the simplest SampleContainer implementation
type Samples []Sample

// GetSamples just implements the SampleContainer interface
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSampleContainer is a SampleContainer whose samples share the same
// time and tags, e.g. all the metrics of one HTTP request.
type ConnectedSampleContainer interface {
	SampleContainer
	GetTags() *TagSet
	GetTime() time.Time
}

// ConnectedSamples is the simplest ConnectedSampleContainer implementation
type ConnectedSamples struct {
	Samples []Sample
	Tags    *TagSet
	Time    time.Time
}

// GetSamples returns the stored slice with samples.
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}

// GetTags returns the stored tags.
func (cs ConnectedSamples) GetTags() *TagSet {
	return cs.Tags
}

// GetTime returns the stored time.
func (cs ConnectedSamples) GetTime() time.Time {
	return cs.Time
}

// GetSamples implements SampleContainer for a single Sample.
func (s Sample) GetSamples() []Sample {
	return []Sample{s}
}

// GetTags returns the sample's tags.
func (s Sample) GetTags() *TagSet {
	return s.Tags
}

// GetTime returns the sample's time.
func (s Sample) GetTime() time.Time {
	return s.Time
}

var (
	_ SampleContainer          = Sample{}
	_ SampleContainer          = Samples{}
	_ ConnectedSampleContainer = Sample{}
	_ ConnectedSampleContainer = ConnectedSamples{}
)

// SamplePusher accepts the samples of a single producer, e.g. one VU.
type SamplePusher interface {
	PushSamples(containers ...SampleContainer)
}

// PusherFunc adapts an ordinary function to SamplePusher.
type PusherFunc func(containers ...SampleContainer)

// PushSamples calls f.
func (f PusherFunc) PushSamples(containers ...SampleContainer) {
	f(containers...)
}

// GetBufferedSamples will read all present (i.e. buffered or currently being pushed)
// values in the input channel and return them as a slice.
func GetBufferedSamples(input <-chan SampleContainer) (result []SampleContainer) {
	for {
		select {
		case val, ok := <-input:
			if !ok {
				return
			}
			result = append(result, val)
		default:
			return
		}
	}
}

// PushIfNotDone first checks if the supplied context is done and doesn't push
// the sample container if it is.
func PushIfNotDone(ctx context.Context, output chan<- SampleContainer, sample SampleContainer) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case output <- sample:
		return true
	case <-ctx.Done():
		return false
	}
}

// TrendColumnResolver extracts one summary column out of a trend sink.
type TrendColumnResolver func(s TrendStats) float64

// GetResolversForTrendColumns checks if passed trend columns are valid for use in
// the summary output and then returns a map of the corresponding resolvers.
func GetResolversForTrendColumns(trendColumns []string) (map[string]TrendColumnResolver, error) {
	staticResolvers := map[string]TrendColumnResolver{
		"avg":   func(s TrendStats) float64 { return s.Avg() },
		"min":   func(s TrendStats) float64 { return s.Min() },
		"med":   func(s TrendStats) float64 { return s.P(0.5) },
		"max":   func(s TrendStats) float64 { return s.Max() },
		"count": func(s TrendStats) float64 { return float64(s.Count()) },
	}
	dynamicResolver := func(percentile float64) TrendColumnResolver {
		return func(s TrendStats) float64 {
			return s.P(percentile / 100)
		}
	}

	result := make(map[string]TrendColumnResolver, len(trendColumns))

	for _, stat := range trendColumns {
		if staticStat, ok := staticResolvers[stat]; ok {
			result[stat] = staticStat
			continue
		}

		percentile, err := parsePercentile(stat)
		if err != nil {
			return nil, err
		}
		result[stat] = dynamicResolver(percentile)
	}

	return result, nil
}

// parsePercentile is a helper function to parse and validate percentile notations
func parsePercentile(stat string) (float64, error) {
	if !strings.HasPrefix(stat, "p(") || !strings.HasSuffix(stat, ")") {
		return 0, fmt.Errorf("invalid trend stat '%s', unknown format", stat)
	}

	percentile, err := strconv.ParseFloat(stat[2:len(stat)-1], 64)

	if err != nil || (percentile < 0) || (percentile > 100) {
		return 0, fmt.Errorf("invalid percentile trend stat value '%s', provide a number between 0 and 100", stat)
	}

	return percentile, nil
}

// D formats a duration as the float64 milliseconds Time metrics hold.
func D(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ToD converts milliseconds back into a time.Duration.
func ToD(d float64) time.Duration {
	return time.Duration(d * float64(time.Millisecond))
}
