package metrics

import (
	"fmt"
	"strings"
	"time"
)

// A Metric defines the shape of a set of data. The aggregated values live in
// the metrics engine, keyed by the *Metric pointer.
type Metric struct {
	Name     string     `json:"name"`
	Type     MetricType `json:"type"`
	Contains ValueType  `json:"contains"`

	Thresholds Thresholds   `json:"thresholds"`
	Submetrics []*Submetric `json:"submetrics"`
	Sub        *Submetric   `json:"-"`
}

// Sample samples the metric at the given time, with the provided tags and value
func (m *Metric) Sample(t time.Time, tags *TagSet, value float64) Sample {
	return Sample{
		TimeSeries: TimeSeries{Metric: m, Tags: tags},
		Time:       t,
		Value:      value,
	}
}

func newMetric(name string, mt MetricType, vt ...ValueType) *Metric {
	valueType := Default
	if len(vt) > 0 {
		valueType = vt[0]
	}
	return &Metric{
		Name:     name,
		Type:     mt,
		Contains: valueType,
	}
}

// A Submetric represents a filtered dataset based on a parent metric.
type Submetric struct {
	Name   string  `json:"name"`
	Suffix string  `json:"suffix"`
	Tags   *TagSet `json:"tags"`

	Metric *Metric `json:"-"`
	Parent *Metric `json:"-"`
}

// Matches reports whether a sample of the parent metric belongs to the
// submetric.
func (sm *Submetric) Matches(tags *TagSet) bool {
	if tags == nil {
		return sm.Tags.IsEmpty()
	}
	return tags.HasAll(sm.Tags)
}

// AddSubmetric creates a new submetric from the key:value threshold definition
// and adds it to the metric's submetrics list. Asking for a submetric that
// already exists returns the existing one.
func (m *Metric) AddSubmetric(root *TagSet, keyValues string) (*Submetric, error) {
	keyValues = strings.TrimSpace(keyValues)
	if len(keyValues) == 0 {
		return nil, fmt.Errorf("submetric criteria for metric '%s' cannot be empty", m.Name)
	}
	kvs := strings.Split(keyValues, ",")
	tags := root
	for _, kv := range kvs {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, ":", 2)

		key := strings.Trim(strings.TrimSpace(parts[0]), `"'`)
		if len(parts) != 2 {
			tags = tags.With(key, "")
			continue
		}

		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		tags = tags.With(key, value)
	}

	for _, sm := range m.Submetrics {
		if sm.Tags == tags {
			return sm, nil
		}
	}

	subMetric := &Submetric{
		Name:   m.Name + "{" + keyValues + "}",
		Suffix: keyValues,
		Tags:   tags,
		Parent: m,
	}
	subMetricMetric := newMetric(subMetric.Name, m.Type, m.Contains)
	subMetricMetric.Sub = subMetric
	subMetric.Metric = subMetricMetric

	m.Submetrics = append(m.Submetrics, subMetric)

	return subMetric, nil
}

// ParseMetricName splits a threshold key like `http_req_duration{group:::Home}`
// into the metric name and the raw submetric definition (without braces).
func ParseMetricName(name string) (metricName, submetric string, err error) {
	openingIdx := strings.IndexByte(name, '{')
	if openingIdx < 0 {
		if strings.IndexByte(name, '}') >= 0 {
			return "", "", fmt.Errorf("%w: unexpected '}' in %q", ErrMetricNameParsing, name)
		}
		return name, "", nil
	}
	if openingIdx == 0 {
		return "", "", fmt.Errorf("%w: missing metric name in %q", ErrMetricNameParsing, name)
	}
	if name[len(name)-1] != '}' {
		return "", "", fmt.Errorf("%w: missing ending bracket, sub-metric format needs to be 'metric{key:value}'",
			ErrMetricNameParsing)
	}
	submetric = name[openingIdx+1 : len(name)-1]
	if strings.TrimSpace(submetric) == "" {
		return "", "", fmt.Errorf("%w: empty submetric definition in %q", ErrMetricNameParsing, name)
	}
	return name[:openingIdx], submetric, nil
}
