package json

import (
	"time"

	"github.com/liuxd6825/loadrun/metrics"
)

type sampleEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Time  time.Time       `json:"time"`
		Value float64         `json:"value"`
		Tags  *metrics.TagSet `json:"tags"`
	} `json:"data"`
	Metric string `json:"metric"`
}

// wrapSample packages a sample as a "Point" line.
func wrapSample(sample metrics.Sample) sampleEnvelope {
	s := sampleEnvelope{
		Type:   "Point",
		Metric: sample.Metric.Name,
	}
	s.Data.Time = sample.Time
	s.Data.Value = sample.Value
	s.Data.Tags = sample.Tags
	return s
}

type metricEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Name       string             `json:"name"`
		Type       metrics.MetricType `json:"type"`
		Contains   metrics.ValueType  `json:"contains"`
		Thresholds []string           `json:"thresholds"`
	} `json:"data"`
	Metric string `json:"metric"`
}

// wrapMetric packages the definition of a metric as a "Metric" line, written
// before its first sample.
func wrapMetric(metric *metrics.Metric, thresholds metrics.Thresholds) metricEnvelope {
	m := metricEnvelope{
		Type:   "Metric",
		Metric: metric.Name,
	}
	m.Data.Name = metric.Name
	m.Data.Type = metric.Type
	m.Data.Contains = metric.Contains
	m.Data.Thresholds = make([]string, 0, len(thresholds.Thresholds))
	for _, th := range thresholds.Thresholds {
		m.Data.Thresholds = append(m.Data.Thresholds, th.Source)
	}
	return m
}
