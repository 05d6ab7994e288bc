package engine

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/liuxd6825/loadrun/metrics"
)

func TestDefaultShardCount(t *testing.T) {
	t.Parallel()

	n := DefaultShardCount()
	assert.GreaterOrEqual(t, n, 8)
	assert.GreaterOrEqual(t, n, 4*runtime.GOMAXPROCS(0))
	assert.Equal(t, n, NewCollector(0, "").ShardCount())
	assert.Equal(t, 3, NewCollector(3, "").ShardCount())
}

func TestCollectorConcurrentWriters(t *testing.T) {
	t.Parallel()

	r := metrics.NewRegistry()
	rate := r.MustNewMetric("errors", metrics.Rate)
	counter := r.MustNewMetric("iterations", metrics.Counter)
	trend := r.MustNewMetric("iteration_duration", metrics.Trend, metrics.Time)
	root := r.RootTagSet()
	c := NewCollector(0, metrics.TrendStorageExact)

	const writers = 1000
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			<-start
			now := time.Now()
			failed := 0.0
			if vu%4 == 0 {
				failed = 1
			}
			c.Add(uint64(vu), metrics.Samples{
				rate.Sample(now, root, failed),
				counter.Sample(now, root, 1),
				trend.Sample(now, root, float64(vu)),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	rateSink, ok := c.Snapshot(rate).(*metrics.RateSink)
	require.True(t, ok)
	assert.Equal(t, int64(writers), rateSink.Total)
	assert.Equal(t, int64(writers/4), rateSink.Trues)
	assert.Equal(t, 0.25, rateSink.Rate())

	counterSink, ok := c.Snapshot(counter).(*metrics.CounterSink)
	require.True(t, ok)
	assert.Equal(t, float64(writers), counterSink.Value)

	trendSink, ok := c.Snapshot(trend).(metrics.TrendStats)
	require.True(t, ok)
	assert.Equal(t, uint64(writers), trendSink.Count())
	assert.Equal(t, 0.0, trendSink.Min())
	assert.Equal(t, float64(writers-1), trendSink.Max())

	assert.Len(t, c.SnapshotAll(), 3)
	assert.Nil(t, c.Snapshot(r.MustNewMetric("unused", metrics.Gauge)))
}

func TestCollectorRateWindow(t *testing.T) {
	t.Parallel()

	r := metrics.NewRegistry()
	failed := r.MustNewMetric("http_req_failed", metrics.Rate)
	root := r.RootTagSet()
	c := NewCollector(4, "")
	now := time.Unix(1700000000, 0)

	// spread over the shards, one old failure outside of the window
	c.Add(1, metrics.Samples{failed.Sample(now.Add(-3*time.Second), root, 1)})
	c.Add(2, metrics.Samples{failed.Sample(now.Add(-2*time.Second), root, 0)})
	c.Add(3, metrics.Samples{failed.Sample(now.Add(-2*time.Second), root, 0)})
	c.Add(6, metrics.Samples{failed.Sample(now.Add(-time.Second), root, 1)})
	c.Add(1, metrics.Samples{failed.Sample(now.Add(-time.Minute), root, 1)})

	rate, total := c.RateWindow(failed, now.Add(-10*time.Second), now)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, 0.5, rate)

	rate, total = c.RateWindow(failed, now.Add(-2*time.Second), now.Add(-time.Second))
	assert.Equal(t, int64(2), total)
	assert.Zero(t, rate)

	rate, total = c.RateWindow(failed, now, now.Add(time.Minute))
	assert.Zero(t, total)
	assert.Zero(t, rate)

	_, total = c.RateWindow(r.MustNewMetric("checks", metrics.Rate), now.Add(-time.Hour), now)
	assert.Zero(t, total)
}

func TestCollectorSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r := metrics.NewRegistry()
	m := r.MustNewMetric("errors", metrics.Rate)
	c := NewCollector(2, "")
	c.Add(0, m.Sample(time.Now(), r.RootTagSet(), 1))

	snap := c.Snapshot(m)
	snap.Add(m.Sample(time.Now(), r.RootTagSet(), 1))

	again, ok := c.Snapshot(m).(*metrics.RateSink)
	require.True(t, ok)
	assert.Equal(t, int64(1), again.Total)
}

func TestCollectorRateIsExact(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		shards := rapid.IntRange(1, 64).Draw(t, "shards")
		values := rapid.SliceOfN(rapid.Bool(), 1, 300).Draw(t, "values")
		storage := rapid.SampledFrom([]metrics.TrendStorage{metrics.TrendStorageExact, metrics.TrendStorageHDR}).Draw(t, "storage")

		r := metrics.NewRegistry()
		m := r.MustNewMetric("errors", metrics.Rate)
		d := r.MustNewMetric("duration", metrics.Trend, metrics.Time)
		c := NewCollector(shards, storage)
		root := r.RootTagSet()

		var trues int64
		now := time.Now()
		var wg sync.WaitGroup
		for i, v := range values {
			vu := rapid.Uint64().Draw(t, "vu")
			val := 0.0
			if v {
				val = 1
				trues++
			}
			wg.Add(1)
			go func(i int, vu uint64, val float64) {
				defer wg.Done()
				c.Add(vu, m.Sample(now.Add(time.Duration(i)*time.Millisecond), root, val), d.Sample(now, root, float64(i)))
			}(i, vu, val)
		}
		wg.Wait()

		sink, ok := c.Snapshot(m).(*metrics.RateSink)
		if !ok {
			t.Fatalf("unexpected sink type %T", c.Snapshot(m))
		}
		if sink.Total != int64(len(values)) || sink.Trues != trues {
			t.Fatalf("got %d/%d, want %d/%d", sink.Trues, sink.Total, trues, len(values))
		}
		if sink.Rate() != float64(trues)/float64(len(values)) {
			t.Fatalf("rate %v is not %d/%d", sink.Rate(), trues, len(values))
		}

		trend, ok := c.Snapshot(d).(metrics.TrendStats)
		if !ok || trend.Count() != uint64(len(values)) || trend.Max() != float64(len(values)-1) {
			t.Fatalf("trend lost samples")
		}
	})
}
