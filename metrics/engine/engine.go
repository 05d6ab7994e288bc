// Package engine contains the metrics engine responsible for aggregating
// metrics during the test and evaluating thresholds against them.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
)

// MetricsEngine keeps track of aggregated metric sample values. They are used
// to generate the end-of-test summary and to evaluate the test thresholds.
type MetricsEngine struct {
	test      *lib.TestRun
	logger    logrus.FieldLogger
	collector *Collector

	// These can be both top-level metrics or sub-metrics
	metricsWithThresholds []*metrics.Metric

	// serializes threshold evaluations, which mutate the Threshold values
	thresholdsLock sync.Mutex
}

// ObservedMetric is a metric that had samples or thresholds, with its
// aggregated sink.
type ObservedMetric struct {
	Metric *metrics.Metric
	Sink   metrics.Sink
}

// NewMetricsEngine creates a new metrics Engine with the given parameters.
func NewMetricsEngine(test *lib.TestRun) (*MetricsEngine, error) {
	me := &MetricsEngine{
		test:   test,
		logger: test.Logger.WithField("component", "metrics-engine"),
		collector: NewCollector(
			int(test.Options.MetricShards.Int64),
			metrics.TrendStorage(test.Options.TrendStorage.String),
		),
	}

	if !(test.RuntimeOptions.NoSummary.Bool && test.RuntimeOptions.NoThresholds.Bool) {
		if err := me.initSubMetricsAndThresholds(); err != nil {
			return nil, err
		}
	}

	return me, nil
}

// Pusher returns the SamplePusher of a VU; its samples always land in the
// same collector shard.
func (me *MetricsEngine) Pusher(vuID uint64) metrics.SamplePusher {
	return metrics.PusherFunc(func(containers ...metrics.SampleContainer) {
		me.collector.Add(vuID, containers...)
	})
}

// Ingest records samples that do not come from a VU, e.g. the scheduler's
// vus gauges, in shard 0.
func (me *MetricsEngine) Ingest(containers ...metrics.SampleContainer) {
	me.collector.Add(0, containers...)
}

// Collector returns the underlying sharded collector.
func (me *MetricsEngine) Collector() *Collector {
	return me.collector
}

func (me *MetricsEngine) getThresholdMetricOrSubmetric(name string) (*metrics.Metric, error) {
	metricName, submetricDefinition, err := metrics.ParseMetricName(name)
	if err != nil {
		return nil, err
	}

	metric := me.test.Registry.Get(metricName)
	if metric == nil {
		return nil, fmt.Errorf("metric '%s' does not exist in the scenario", metricName)
	}
	if submetricDefinition == "" {
		return metric, nil
	}

	sm, err := metric.AddSubmetric(me.test.Registry.RootTagSet(), submetricDefinition)
	if err != nil {
		return nil, err
	}

	for _, highCardinality := range []string{metrics.TagURL, metrics.TagError, metrics.TagVU, metrics.TagIter} {
		if _, ok := sm.Tags.Get(highCardinality); ok {
			me.logger.Warnf("Threshold '%s' is based on the high-cardinality '%s' tag, "+
				"consider the 'name' or 'error_code' tags instead", name, highCardinality)
		}
	}

	return sm.Metric, nil
}

func (me *MetricsEngine) initSubMetricsAndThresholds() error {
	names := make([]string, 0, len(me.test.Options.Thresholds))
	for name := range me.test.Options.Thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, metricName := range names {
		thresholds := me.test.Options.Thresholds[metricName]
		metric, err := me.getThresholdMetricOrSubmetric(metricName)

		if me.test.RuntimeOptions.NoThresholds.Bool {
			if err != nil {
				me.logger.WithError(err).Warnf("Invalid metric '%s' in threshold definitions", metricName)
			}
			continue
		}

		if err != nil {
			return errext.WithExitCodeIfNone(
				fmt.Errorf("invalid metric '%s' in threshold definitions: %w", metricName, err),
				exitcodes.InvalidConfig,
			)
		}

		if err := thresholds.Parse(); err != nil {
			return errext.WithExitCodeIfNone(
				fmt.Errorf("invalid threshold on '%s': %w", metricName, err), exitcodes.InvalidConfig)
		}
		if err := thresholds.Validate(metricName, me.test.Registry); err != nil {
			return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
		}

		metric.Thresholds = thresholds
		me.metricsWithThresholds = append(me.metricsWithThresholds, metric)
	}

	return nil
}

// MetricsWithThresholds returns the metrics and submetrics that carry thresholds.
func (me *MetricsEngine) MetricsWithThresholds() []*metrics.Metric {
	return me.metricsWithThresholds
}

// EvaluateThresholds processes all of the thresholds. With ignoreEmptySinks,
// metrics without samples are skipped, which is what the periodic evaluations
// want; the final one evaluates everything.
func (me *MetricsEngine) EvaluateThresholds(ignoreEmptySinks bool) (breachedThresholds []string, shouldAbort bool) {
	me.thresholdsLock.Lock()
	defer me.thresholdsLock.Unlock()

	t := me.test.CurrentDuration()

	for _, m := range me.metricsWithThresholds {
		sink := me.collector.Snapshot(m)
		if sink == nil {
			if ignoreEmptySinks {
				continue
			}
			sink = metrics.NewSink(m.Type, metrics.TrendStorageExact)
		}
		if len(m.Thresholds.Thresholds) == 0 || (ignoreEmptySinks && sink.IsEmpty()) {
			continue
		}

		logger := me.logger.WithField("metric_name", m.Name)
		logger.Debug("running thresholds")
		succ, err := m.Thresholds.Run(sink, t)
		if err != nil {
			logger.WithError(err).Error("Threshold error")
			continue
		}
		if succ {
			continue
		}
		logger.Debug("Thresholds failed")
		breachedThresholds = append(breachedThresholds, m.Name)
		if m.Thresholds.Abort {
			shouldAbort = true
		}
	}

	return breachedThresholds, shouldAbort
}

// StartThresholdCalculations evaluates the thresholds every
// ThresholdsInterval in a background goroutine. If a threshold with
// abortOnFail fails, abortRun is called with an InterruptError. The returned
// finalize function stops the periodic evaluation and runs the final one; it
// returns the names of the metrics whose thresholds failed.
func (me *MetricsEngine) StartThresholdCalculations(abortRun func(error)) (finalize func() (breached []string)) {
	if me.test.RuntimeOptions.NoThresholds.Bool {
		return func() []string { return nil }
	}

	interval := me.test.Options.ThresholdsInterval.TimeDuration()
	if interval <= 0 {
		interval = lib.DefaultThresholdsInterval
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				breached, shouldAbort := me.EvaluateThresholds(true)
				if shouldAbort {
					err := fmt.Errorf("%s: %v", errext.AbortThresholds, breached)
					me.logger.WithError(err).Debug("aborting the test run")
					abortRun(&errext.InterruptError{
						Reason: err.Error(),
						Code:   exitcodes.ThresholdsHaveFailed,
					})
					return
				}
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	var result []string
	return func() []string {
		once.Do(func() {
			close(stop)
			<-done
			breached, _ := me.EvaluateThresholds(false)
			if len(breached) > 0 {
				me.logger.Debugf("Thresholds on %d metrics have been crossed", len(breached))
			}
			result = breached
		})
		return result
	}
}

// ObservedMetrics returns, sorted by name, every metric that has samples or
// thresholds, with a copy of its aggregated sink.
func (me *MetricsEngine) ObservedMetrics() []ObservedMetric {
	sinks := me.collector.SnapshotAll()
	for _, m := range me.metricsWithThresholds {
		if _, ok := sinks[m]; !ok {
			sinks[m] = metrics.NewSink(m.Type, metrics.TrendStorageExact)
		}
		if m.Sub != nil {
			if _, ok := sinks[m.Sub.Parent]; !ok {
				sinks[m.Sub.Parent] = metrics.NewSink(m.Sub.Parent.Type, metrics.TrendStorageExact)
			}
		}
	}

	res := make([]ObservedMetric, 0, len(sinks))
	for m, sink := range sinks {
		res = append(res, ObservedMetric{Metric: m, Sink: sink})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Metric.Name < res[j].Metric.Name })
	return res
}
