package metrics

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// values are recorded in microseconds of the millisecond-based samples
	hdrScale        = 1000
	hdrHighestValue = int64(time.Hour/time.Microsecond) * 24
	hdrSigFigs      = 3
)

// HdrTrendSink is a Trend sink with bounded memory. Percentiles come from an
// HDR histogram with 3 significant digits; min, max, avg and count are exact.
type HdrTrendSink struct {
	h *hdrhistogram.Histogram

	count    uint64
	min, max float64
	sum      float64
}

// NewHdrTrendSink returns an empty HdrTrendSink.
func NewHdrTrendSink() *HdrTrendSink {
	return &HdrTrendSink{h: hdrhistogram.New(1, hdrHighestValue, hdrSigFigs)}
}

// IsEmpty indicates whether the sink is empty.
func (t *HdrTrendSink) IsEmpty() bool { return t.count == 0 }

// Add a single sample into the trend
func (t *HdrTrendSink) Add(s Sample) {
	if t.count == 0 {
		t.min, t.max = s.Value, s.Value
	} else {
		t.min = math.Min(t.min, s.Value)
		t.max = math.Max(t.max, s.Value)
	}
	t.count++
	t.sum += s.Value

	v := int64(math.Round(s.Value * hdrScale))
	switch {
	case v < 0:
		v = 0
	case v > hdrHighestValue:
		v = hdrHighestValue
	}
	_ = t.h.RecordValue(v) // the value was clamped into range
}

// P returns the pct (0..1) percentile.
func (t *HdrTrendSink) P(pct float64) float64 {
	switch t.count {
	case 0:
		return 0
	case 1:
		return t.min
	}
	v := float64(t.h.ValueAtQuantile(pct*100)) / hdrScale
	return math.Max(t.min, math.Min(t.max, v))
}

// Min returns the minimum value.
func (t *HdrTrendSink) Min() float64 { return t.min }

// Max returns the maximum value.
func (t *HdrTrendSink) Max() float64 { return t.max }

// Count returns the number of recorded values.
func (t *HdrTrendSink) Count() uint64 { return t.count }

// Total returns the sum of all recorded values.
func (t *HdrTrendSink) Total() float64 { return t.sum }

// Avg returns the average (i.e. mean) value.
func (t *HdrTrendSink) Avg() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// Format trend and return a map
func (t *HdrTrendSink) Format(_ time.Duration) map[string]float64 {
	return formatTrend(t)
}

// Merge folds the other histogram into this one.
func (t *HdrTrendSink) Merge(other Sink) {
	o, ok := other.(*HdrTrendSink)
	if !ok {
		panic(mismatch(t, other))
	}
	if o.count == 0 {
		return
	}
	if t.count == 0 {
		t.min, t.max = o.min, o.max
	} else {
		t.min = math.Min(t.min, o.min)
		t.max = math.Max(t.max, o.max)
	}
	t.count += o.count
	t.sum += o.sum
	t.h.Merge(o.h)
}

// Clone returns a deep copy of the sink.
func (t *HdrTrendSink) Clone() Sink {
	cp := *t
	cp.h = hdrhistogram.Import(t.h.Export())
	return &cp
}
