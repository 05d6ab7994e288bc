package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liuxd6825/loadrun/lib/types"
)

// Threshold is a representation of a single threshold for a single metric
type Threshold struct {
	// Source is the text based source of the threshold
	Source string
	// LastFailed is a marker if the last testing of this threshold failed
	LastFailed bool
	// AbortOnFail marks if a given threshold fails that the whole test should be aborted
	AbortOnFail bool
	// AbortGracePeriod is a the minimum amount of time a test should be running before a failing
	// this threshold will abort the test
	AbortGracePeriod types.NullDuration
	// FirstFailedAt is the test run time of the first failed evaluation.
	FirstFailedAt types.NullDuration
	// Observed is the aggregated value seen by the last evaluation.
	Observed float64

	parsed *ThresholdExpression
}

func newThreshold(src string, abortOnFail bool, gracePeriod types.NullDuration) *Threshold {
	return &Threshold{
		Source:           src,
		AbortOnFail:      abortOnFail,
		AbortGracePeriod: gracePeriod,
		parsed:           nil,
	}
}

// Expression returns the parsed expression, nil before Parse.
func (t *Threshold) Expression() *ThresholdExpression {
	return t.parsed
}

func (t *Threshold) runNoTaint(sinks map[string]float64) (bool, error) {
	// Extract the sink value for the aggregation method used in the threshold
	// expression
	lhs, ok := sinks[t.parsed.SinkKey()]
	if !ok {
		return false, fmt.Errorf("unable to apply threshold %s over metrics; reason: "+
			"no metric supporting the %s aggregation method found",
			t.Source,
			t.parsed.AggregationMethod)
	}

	// Apply the threshold expression operator to the left and
	// right hand side values
	var passes bool
	switch t.parsed.Operator {
	case tokenGreater:
		passes = lhs > t.parsed.Value
	case tokenGreaterEqual:
		passes = lhs >= t.parsed.Value
	case tokenLessEqual:
		passes = lhs <= t.parsed.Value
	case tokenLess:
		passes = lhs < t.parsed.Value
	case tokenLooselyEqual, tokenStrictlyEqual:
		// Considering a sink always maps to float64 values,
		// strictly equal is equivalent to loosely equal
		passes = lhs == t.parsed.Value
	case tokenBangEqual:
		passes = lhs != t.parsed.Value
	default:
		return false, fmt.Errorf("unable to apply threshold %s over metrics; "+
			"reason: %s is an invalid operator",
			t.Source,
			t.parsed.Operator,
		)
	}

	return passes, nil
}

func (t *Threshold) run(sinks map[string]float64, timeSpentInTest time.Duration) (bool, error) {
	passes, err := t.runNoTaint(sinks)
	t.LastFailed = !passes
	if err == nil {
		t.Observed = sinks[t.parsed.SinkKey()]
	}
	if !passes && !t.FirstFailedAt.Valid {
		t.FirstFailedAt = types.NullDurationFrom(timeSpentInTest)
	}
	return passes, err
}

type thresholdConfig struct {
	Threshold        string             `json:"threshold"`
	AbortOnFail      bool               `json:"abortOnFail"`
	AbortGracePeriod types.NullDuration `json:"delayAbortEval"`
}

// used internally for JSON marshalling
type rawThresholdConfig thresholdConfig

func (tc *thresholdConfig) UnmarshalJSON(data []byte) error {
	// shortcircuit unmarshalling for simple string format
	if err := json.Unmarshal(data, &tc.Threshold); err == nil {
		return nil
	}

	rawConfig := (*rawThresholdConfig)(tc)
	return json.Unmarshal(data, rawConfig)
}

func (tc thresholdConfig) MarshalJSON() ([]byte, error) {
	var data interface{} = tc.Threshold
	if tc.AbortOnFail {
		data = rawThresholdConfig(tc)
	}

	return MarshalJSONWithoutHTMLEscape(data)
}

// Thresholds is the combination of all Thresholds for a given metric
type Thresholds struct {
	Thresholds []*Threshold
	Abort      bool
	sinked     map[string]float64
}

// NewThresholds returns Thresholds objects representing the provided source strings
func NewThresholds(sources []string) Thresholds {
	tcs := make([]thresholdConfig, len(sources))
	for i, source := range sources {
		tcs[i].Threshold = source
	}

	return newThresholdsWithConfig(tcs)
}

func newThresholdsWithConfig(configs []thresholdConfig) Thresholds {
	thresholds := make([]*Threshold, len(configs))
	sinked := make(map[string]float64)

	for i, config := range configs {
		thresholds[i] = newThreshold(config.Threshold, config.AbortOnFail, config.AbortGracePeriod)
	}

	return Thresholds{thresholds, false, sinked}
}

func (ts *Thresholds) runAll(timeSpentInTest time.Duration) (bool, error) {
	succeeded := true
	for i, threshold := range ts.Thresholds {
		b, err := threshold.run(ts.sinked, timeSpentInTest)
		if err != nil {
			return false, fmt.Errorf("threshold %d run error: %w", i, err)
		}

		if !b {
			succeeded = false

			if ts.Abort || !threshold.AbortOnFail {
				continue
			}

			ts.Abort = !threshold.AbortGracePeriod.Valid ||
				threshold.AbortGracePeriod.Duration < types.Duration(timeSpentInTest)
		}
	}

	return succeeded, nil
}

// Run processes all the thresholds with the provided Sink at the provided time and returns if any
// of them fails
func (ts *Thresholds) Run(sink Sink, duration time.Duration) (bool, error) {
	ts.sinked = make(map[string]float64)

	switch sinkImpl := sink.(type) {
	case *CounterSink:
		ts.sinked[tokenCount] = sinkImpl.Value
		ts.sinked[tokenRate] = sinkImpl.Rate(duration)
	case *GaugeSink:
		ts.sinked[tokenValue] = sinkImpl.Value
	case TrendStats:
		ts.sinked[tokenMin] = sinkImpl.Min()
		ts.sinked[tokenMax] = sinkImpl.Max()
		ts.sinked[tokenAvg] = sinkImpl.Avg()
		ts.sinked[tokenMed] = sinkImpl.P(0.5)

		// Only the percentiles that are actually used are computed.
		for _, threshold := range ts.Thresholds {
			if threshold.parsed == nil || threshold.parsed.AggregationMethod != tokenPercentile {
				continue
			}

			key := threshold.parsed.SinkKey()
			ts.sinked[key] = sinkImpl.P(threshold.parsed.AggregationValue.Float64 / 100)
		}
	case *RateSink:
		ts.sinked[tokenRate] = sinkImpl.Rate()
	case DummySink:
		for k, v := range sinkImpl {
			ts.sinked[k] = v
		}
	default:
		return false, fmt.Errorf("unable to run Thresholds; reason: unknown sink type %T", sink)
	}

	return ts.runAll(duration)
}

// Parse parses the Thresholds and fills each Threshold.parsed field with the result.
// It effectively asserts they are syntaxically correct.
func (ts *Thresholds) Parse() error {
	for _, t := range ts.Thresholds {
		parsed, err := parseThresholdExpression(t.Source)
		if err != nil {
			return err
		}

		t.parsed = parsed
	}

	return nil
}

// Validate ensures a threshold definition is consistent with the metric it applies to.
// Given a metric registry and a metric name to apply the expressions too, Validate will
// assert that each threshold expression uses an aggregation method that's supported by the
// provided metric. It returns an error otherwise.
// Note that this function expects the passed in thresholds to have been parsed already, and
// have their parsed (ThresholdExpression) field already filled.
func (ts *Thresholds) Validate(metricName string, r *Registry) error {
	parsedMetricName, _, err := ParseMetricName(metricName)
	if err != nil {
		return fmt.Errorf("unable to validate threshold expressions: %w", err)
	}

	metric := r.Get(parsedMetricName)
	if metric == nil {
		return fmt.Errorf("invalid threshold defined on %s; reason: no metric name %q found",
			metricName, parsedMetricName)
	}

	for _, threshold := range ts.Thresholds {
		if threshold.parsed == nil {
			return fmt.Errorf("threshold %q on %s was not parsed", threshold.Source, metricName)
		}
		if !metric.Type.supportsAggregationMethod(threshold.parsed.AggregationMethod) {
			return fmt.Errorf(
				"invalid threshold expression: '%s'; the %q aggregation method is not supported by %s "+
					"%q, supported aggregation methods are: %v",
				threshold.Source,
				threshold.parsed.AggregationMethod,
				metric.Type,
				metricName,
				metric.Type.supportedAggregationMethods(),
			)
		}
	}

	return nil
}

// UnmarshalJSON is implementation of json.Unmarshaler. The expressions are
// parsed right away, so a malformed threshold fails the configuration.
func (ts *Thresholds) UnmarshalJSON(data []byte) error {
	var configs []thresholdConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return err
	}
	newts := newThresholdsWithConfig(configs)
	if err := newts.Parse(); err != nil {
		return err
	}
	*ts = newts
	return nil
}

// MarshalJSON is implementation of json.Marshaler
func (ts Thresholds) MarshalJSON() ([]byte, error) {
	configs := make([]thresholdConfig, len(ts.Thresholds))
	for i, t := range ts.Thresholds {
		configs[i].Threshold = t.Source
		configs[i].AbortOnFail = t.AbortOnFail
		configs[i].AbortGracePeriod = t.AbortGracePeriod
	}

	return MarshalJSONWithoutHTMLEscape(configs)
}

// MarshalJSONWithoutHTMLEscape marshals t to JSON without escaping characters
// for safe use in HTML.
func MarshalJSONWithoutHTMLEscape(t interface{}) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(t)
	bytes := buffer.Bytes()
	if err == nil && len(bytes) > 0 {
		// Remove the newline appended by Encode() :-/
		// See https://github.com/golang/go/issues/37083
		bytes = bytes[:len(bytes)-1]
	}
	return bytes, err
}

var (
	_ json.Unmarshaler = &Thresholds{}
	_ json.Marshaler   = &Thresholds{}
)

// DummySink is a Sink that contains preformatted values, mostly useful in
// tests and for replaying exported summaries.
type DummySink map[string]float64

// IsEmpty indicates whether the sink is empty.
func (d DummySink) IsEmpty() bool { return len(d) == 0 }

// Add is a no-op.
func (d DummySink) Add(_ Sample) {}

// Format returns the values as they are.
func (d DummySink) Format(_ time.Duration) map[string]float64 {
	return map[string]float64(d)
}

// Merge copies the other sink's values over.
func (d DummySink) Merge(other Sink) {
	for k, v := range other.Format(0) {
		d[k] = v
	}
}

// Clone returns a copy of the sink.
func (d DummySink) Clone() Sink {
	cp := make(DummySink, len(d))
	for k, v := range d {
		cp[k] = v
	}
	return cp
}
