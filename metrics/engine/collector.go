package engine

import (
	"runtime"
	"sync"
	"time"

	"github.com/liuxd6825/loadrun/metrics"
)

const minShards = 8

// DefaultShardCount is 4*GOMAXPROCS, but never less than 8.
func DefaultShardCount() int {
	n := 4 * runtime.GOMAXPROCS(0)
	if n < minShards {
		n = minShards
	}
	return n
}

// Collector aggregates samples into sinks. The sinks are split over shards,
// each with its own lock; a producer always writes to the shard picked by its
// key (the VU id), so producers only contend with the ones sharing a shard.
// Readers merge clones of the per-shard sinks, one shard at a time.
type Collector struct {
	shards       []*shard
	trendStorage metrics.TrendStorage
}

type shard struct {
	mu    sync.Mutex
	sinks map[*metrics.Metric]metrics.Sink
}

// NewCollector returns a Collector with n shards; n <= 0 means DefaultShardCount.
func NewCollector(n int, trendStorage metrics.TrendStorage) *Collector {
	if n <= 0 {
		n = DefaultShardCount()
	}
	c := &Collector{
		shards:       make([]*shard, n),
		trendStorage: trendStorage,
	}
	for i := range c.shards {
		c.shards[i] = &shard{sinks: make(map[*metrics.Metric]metrics.Sink)}
	}
	return c
}

// ShardCount returns the number of shards.
func (c *Collector) ShardCount() int {
	return len(c.shards)
}

// Add records the samples in the shard selected by key. Every sample is
// also added to the submetrics of its metric whose tags it matches.
func (c *Collector) Add(key uint64, containers ...metrics.SampleContainer) {
	sh := c.shards[key%uint64(len(c.shards))]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, sc := range containers {
		for _, s := range sc.GetSamples() {
			sh.add(s.Metric, s, c.trendStorage)
			for _, sm := range s.Metric.Submetrics {
				if sm.Matches(s.Tags) {
					sh.add(sm.Metric, s, c.trendStorage)
				}
			}
		}
	}
}

func (sh *shard) add(m *metrics.Metric, s metrics.Sample, ts metrics.TrendStorage) {
	sink, ok := sh.sinks[m]
	if !ok {
		sink = metrics.NewSink(m.Type, ts)
		sh.sinks[m] = sink
	}
	sink.Add(s)
}

// Snapshot returns the merged sink of the metric across all shards, or nil
// if no sample was recorded for it. The result is a copy the caller owns.
func (c *Collector) Snapshot(m *metrics.Metric) metrics.Sink {
	var merged metrics.Sink
	for _, sh := range c.shards {
		sh.mu.Lock()
		if sink, ok := sh.sinks[m]; ok {
			if merged == nil {
				merged = sink.Clone()
			} else {
				merged.Merge(sink)
			}
		}
		sh.mu.Unlock()
	}
	return merged
}

// SnapshotAll returns the merged sinks of every metric that has samples.
func (c *Collector) SnapshotAll() map[*metrics.Metric]metrics.Sink {
	res := make(map[*metrics.Metric]metrics.Sink)
	for _, sh := range c.shards {
		sh.mu.Lock()
		for m, sink := range sh.sinks {
			if merged, ok := res[m]; ok {
				merged.Merge(sink)
			} else {
				res[m] = sink.Clone()
			}
		}
		sh.mu.Unlock()
	}
	return res
}

// RateWindow returns the rate of m over the samples within [from, to), and
// their count, without copying the sinks. m must be a rate.
func (c *Collector) RateWindow(m *metrics.Metric, from, to time.Time) (rate float64, total int64) {
	var trues int64
	for _, sh := range c.shards {
		sh.mu.Lock()
		if sink, ok := sh.sinks[m].(*metrics.RateSink); ok {
			t, n := sink.WindowCounts(from, to)
			trues += t
			total += n
		}
		sh.mu.Unlock()
	}
	if total == 0 {
		return 0, 0
	}
	return float64(trues) / float64(total), total
}
