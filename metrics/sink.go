package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	_ Sink = &CounterSink{}
	_ Sink = &GaugeSink{}
	_ Sink = &TrendSink{}
	_ Sink = &HdrTrendSink{}
	_ Sink = &RateSink{}
)

// Sink is a sample sink which will accumulate data in specific way. Sinks
// are not safe for concurrent use; the metrics engine shards them and
// serializes access per shard.
type Sink interface {
	Add(s Sample)                              // Add a sample to the sink.
	Format(t time.Duration) map[string]float64 // Data for thresholds.
	IsEmpty() bool                             // Check if the Sink is empty.
	Merge(other Sink)                          // Fold another sink of the same kind into this one.
	Clone() Sink                               // Deep copy.
}

// TrendStorage selects how Trend sinks keep their values.
type TrendStorage string

// Supported trend storages.
const (
	TrendStorageExact TrendStorage = "exact"
	TrendStorageHDR   TrendStorage = "hdr"
)

// ErrInvalidTrendStorage is returned for an unknown TrendStorage value.
var ErrInvalidTrendStorage = fmt.Errorf("invalid trend storage, use %q or %q", TrendStorageExact, TrendStorageHDR)

// Validate checks the storage name. The empty value means exact.
func (ts TrendStorage) Validate() error {
	switch ts {
	case "", TrendStorageExact, TrendStorageHDR:
		return nil
	default:
		return ErrInvalidTrendStorage
	}
}

// NewSink creates the related Sink for the provided MetricType.
func NewSink(mt MetricType, ts TrendStorage) Sink {
	switch mt {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Trend:
		if ts == TrendStorageHDR {
			return NewHdrTrendSink()
		}
		return &TrendSink{}
	case Rate:
		return NewRateSink()
	default:
		panic(fmt.Sprintf("MetricType %q is not supported", mt))
	}
}

func mismatch(dst, src Sink) string {
	return fmt.Sprintf("cannot merge a %T into a %T", src, dst)
}

// CounterSink is a sink that represents a Counter
type CounterSink struct {
	Value float64
	First time.Time
}

// Add a single sample to the sink
func (c *CounterSink) Add(s Sample) {
	c.Value += s.Value
	if c.First.IsZero() || s.Time.Before(c.First) {
		c.First = s.Time
	}
}

// IsEmpty indicates whether the CounterSink is empty.
func (c *CounterSink) IsEmpty() bool { return c.First.IsZero() }

// Format counter and return a map
func (c *CounterSink) Format(t time.Duration) map[string]float64 {
	return map[string]float64{
		"count": c.Value,
		"rate":  c.Rate(t),
	}
}

// Rate is the per-second rate over the given duration.
func (c *CounterSink) Rate(t time.Duration) float64 {
	if t <= 0 {
		return 0
	}
	return c.Value / (float64(t) / float64(time.Second))
}

// Merge adds the other counter's value.
func (c *CounterSink) Merge(other Sink) {
	o, ok := other.(*CounterSink)
	if !ok {
		panic(mismatch(c, other))
	}
	if o.IsEmpty() {
		return
	}
	c.Value += o.Value
	if c.First.IsZero() || o.First.Before(c.First) {
		c.First = o.First
	}
}

// Clone returns a copy of the sink.
func (c *CounterSink) Clone() Sink {
	cp := *c
	return &cp
}

// GaugeSink is a sink represents a Gauge
type GaugeSink struct {
	Value    float64
	Max, Min float64
	Last     time.Time
	minSet   bool
}

// IsEmpty indicates whether the GaugeSink is empty.
func (g *GaugeSink) IsEmpty() bool { return !g.minSet }

// Add a single sample to the sink
func (g *GaugeSink) Add(s Sample) {
	if !s.Time.Before(g.Last) || !g.minSet {
		g.Value = s.Value
		g.Last = s.Time
	}
	if s.Value > g.Max || !g.minSet {
		g.Max = s.Value
	}
	if s.Value < g.Min || !g.minSet {
		g.Min = s.Value
	}
	g.minSet = true
}

// Format gauge and return a map
func (g *GaugeSink) Format(_ time.Duration) map[string]float64 {
	return map[string]float64{"value": g.Value}
}

// Merge keeps the most recent value and widens min/max.
func (g *GaugeSink) Merge(other Sink) {
	o, ok := other.(*GaugeSink)
	if !ok {
		panic(mismatch(g, other))
	}
	if o.IsEmpty() {
		return
	}
	if g.IsEmpty() {
		*g = *o
		return
	}
	if o.Last.After(g.Last) {
		g.Value = o.Value
		g.Last = o.Last
	}
	g.Max = math.Max(g.Max, o.Max)
	g.Min = math.Min(g.Min, o.Min)
}

// Clone returns a copy of the sink.
func (g *GaugeSink) Clone() Sink {
	cp := *g
	return &cp
}

// TrendStats is the read side of a Trend sink, shared by the exact and the
// HDR implementations.
type TrendStats interface {
	Sink
	Min() float64
	Max() float64
	Avg() float64
	Count() uint64
	Total() float64
	// P returns the pct (0..1) percentile.
	P(pct float64) float64
}

// TrendSink is a sink for a Trend that keeps every value, so percentiles are
// exact. Values are sorted lazily, on the first percentile query after a
// write.
type TrendSink struct {
	values []float64
	sorted bool

	count    uint64
	min, max float64
	sum      float64
}

// IsEmpty indicates whether the TrendSink is empty.
func (t *TrendSink) IsEmpty() bool { return t.count == 0 }

// Add a single sample into the trend
func (t *TrendSink) Add(s Sample) {
	if t.count == 0 {
		t.max, t.min = s.Value, s.Value
	} else {
		if s.Value > t.max {
			t.max = s.Value
		}
		if s.Value < t.min {
			t.min = s.Value
		}
	}

	t.values = append(t.values, s.Value)
	t.sorted = false
	t.count++
	t.sum += s.Value
}

// P calculates the given percentile from sink values, interpolating linearly
// between the two closest ranks.
func (t *TrendSink) P(pct float64) float64 {
	switch t.count {
	case 0:
		return 0
	case 1:
		return t.values[0]
	}

	if !t.sorted {
		sort.Float64s(t.values)
		t.sorted = true
	}

	// If percentile falls on a value in Values slice, we return that value.
	// If percentile does not fall on a value in Values slice, we calculate (linear interpolation)
	// the value that would fall at percentile, given the values above and below that percentile.
	i := pct * (float64(t.count) - 1.0)
	j := t.values[int(math.Floor(i))]
	k := t.values[int(math.Ceil(i))]
	f := i - math.Floor(i)
	return j + (k-j)*f
}

// Min returns the minimum value.
func (t *TrendSink) Min() float64 { return t.min }

// Max returns the maximum value.
func (t *TrendSink) Max() float64 { return t.max }

// Count returns the number of recorded values.
func (t *TrendSink) Count() uint64 { return t.count }

// Total returns the sum of all recorded values.
func (t *TrendSink) Total() float64 { return t.sum }

// Avg returns the average (i.e. mean) value.
func (t *TrendSink) Avg() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// Format trend and return a map
func (t *TrendSink) Format(_ time.Duration) map[string]float64 {
	return formatTrend(t)
}

// Merge appends the other sink's values.
func (t *TrendSink) Merge(other Sink) {
	o, ok := other.(*TrendSink)
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
	t.values = append(t.values, o.values...)
	t.sorted = false
	t.count += o.count
	t.sum += o.sum
}

// Clone returns a deep copy of the sink.
func (t *TrendSink) Clone() Sink {
	cp := *t
	cp.values = make([]float64, len(t.values))
	copy(cp.values, t.values)
	return &cp
}

func formatTrend(t TrendStats) map[string]float64 {
	return map[string]float64{
		"min":   t.Min(),
		"max":   t.Max(),
		"avg":   t.Avg(),
		"med":   t.P(0.5),
		"p(90)": t.P(0.90),
		"p(95)": t.P(0.95),
	}
}

// RateSink is a sink for a rate. Besides the cumulative counters it keeps
// per-second buckets so that recent windows can be inspected while the test
// is still running.
type RateSink struct {
	Trues int64
	Total int64

	buckets map[int64]*rateBucket
}

type rateBucket struct {
	trues, total int64
}

// NewRateSink returns an empty RateSink.
func NewRateSink() *RateSink {
	return &RateSink{buckets: make(map[int64]*rateBucket)}
}

// IsEmpty indicates whether the RateSink is empty.
func (r *RateSink) IsEmpty() bool { return r.Total == 0 }

// Add a single sample to the rate
func (r *RateSink) Add(s Sample) {
	r.Total++
	nonZero := s.Value != 0
	if nonZero {
		r.Trues++
	}

	if r.buckets == nil {
		r.buckets = make(map[int64]*rateBucket)
	}
	sec := s.Time.Unix()
	b, ok := r.buckets[sec]
	if !ok {
		b = &rateBucket{}
		r.buckets[sec] = b
	}
	b.total++
	if nonZero {
		b.trues++
	}
}

// Rate returns trues/total, or 0 for an empty sink.
func (r *RateSink) Rate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Trues) / float64(r.Total)
}

// Window returns the rate and the sample count of the samples whose time
// falls within [from, to), at one second resolution.
func (r *RateSink) Window(from, to time.Time) (rate float64, total int64) {
	trues, total := r.WindowCounts(from, to)
	if total == 0 {
		return 0, 0
	}
	return float64(trues) / float64(total), total
}

// WindowCounts is Window without the division, for summing over sinks.
func (r *RateSink) WindowCounts(from, to time.Time) (trues, total int64) {
	for sec := from.Unix(); sec < to.Unix(); sec++ {
		if b, ok := r.buckets[sec]; ok {
			trues += b.trues
			total += b.total
		}
	}
	return trues, total
}

// Format rate and return a map
func (r *RateSink) Format(_ time.Duration) map[string]float64 {
	return map[string]float64{"rate": r.Rate()}
}

// Merge adds the other sink's counters and buckets.
func (r *RateSink) Merge(other Sink) {
	o, ok := other.(*RateSink)
	if !ok {
		panic(mismatch(r, other))
	}
	r.Trues += o.Trues
	r.Total += o.Total
	if len(o.buckets) > 0 && r.buckets == nil {
		r.buckets = make(map[int64]*rateBucket, len(o.buckets))
	}
	for sec, ob := range o.buckets {
		b, ok := r.buckets[sec]
		if !ok {
			b = &rateBucket{}
			r.buckets[sec] = b
		}
		b.trues += ob.trues
		b.total += ob.total
	}
}

// Clone returns a deep copy of the sink.
func (r *RateSink) Clone() Sink {
	cp := &RateSink{Trues: r.Trues, Total: r.Total, buckets: make(map[int64]*rateBucket, len(r.buckets))}
	for sec, b := range r.buckets {
		bc := *b
		cp.buckets[sec] = &bc
	}
	return cp
}
