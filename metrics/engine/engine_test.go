package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/testutils"
	"github.com/liuxd6825/loadrun/lib/types"
	"github.com/liuxd6825/loadrun/metrics"
)

func newTestRun(t *testing.T, thresholds map[string][]string, rtOpts lib.RuntimeOptions) *lib.TestRun {
	t.Helper()

	opts := lib.DefaultOptions()
	if thresholds != nil {
		opts.Thresholds = make(map[string]metrics.Thresholds, len(thresholds))
		for name, sources := range thresholds {
			opts.Thresholds[name] = metrics.NewThresholds(sources)
		}
	}
	tr, err := lib.NewTestRun(testutils.NewLogger(t), opts, rtOpts)
	require.NoError(t, err)
	return tr
}

func TestNewMetricsEngineInvalidThresholds(t *testing.T) {
	t.Parallel()

	tests := map[string]map[string][]string{
		"unknown metric":     {"nope": {"rate<0.1"}},
		"bad expression":     {"checks": {"rate<<0.1"}},
		"wrong aggregation":  {"checks": {"p(95)<1"}},
		"broken submetric":   {"checks{group:x": {"rate>0.9"}},
		"empty submetric def": {"checks{}": {"rate>0.9"}},
	}
	for name, thresholds := range tests {
		thresholds := thresholds
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := NewMetricsEngine(newTestRun(t, thresholds, lib.RuntimeOptions{}))
			require.Error(t, err)
			var ecerr errext.HasExitCode
			require.True(t, errors.As(err, &ecerr))
			assert.Equal(t, exitcodes.InvalidConfig, ecerr.ExitCode())
		})
	}

	t.Run("ignored with --no-thresholds", func(t *testing.T) {
		t.Parallel()

		tr := newTestRun(t, map[string][]string{"nope": {"rate<0.1"}},
			lib.RuntimeOptions{NoThresholds: null.BoolFrom(true)})
		me, err := NewMetricsEngine(tr)
		require.NoError(t, err)
		assert.Empty(t, me.MetricsWithThresholds())
	})
}

func TestMetricsEngineSubmetrics(t *testing.T) {
	t.Parallel()

	tr := newTestRun(t, map[string][]string{
		"http_req_duration":                       {"p(95)<2000"},
		"http_req_duration{group:::Health Check}": {"p(95)<500"},
	}, lib.RuntimeOptions{})
	me, err := NewMetricsEngine(tr)
	require.NoError(t, err)
	require.Len(t, me.MetricsWithThresholds(), 2)

	root := tr.Registry.RootTagSet()
	health := root.With(metrics.TagGroup, "::Health Check").With(metrics.TagStatus, "200")
	home := root.With(metrics.TagGroup, "::Homepage").With(metrics.TagStatus, "200")
	now := time.Now()
	m := tr.BuiltinMetrics.HTTPReqDuration
	me.Pusher(1).PushSamples(
		m.Sample(now, health, 100),
		m.Sample(now, health, 300),
		m.Sample(now, home, 1500),
	)

	var sub *metrics.Metric
	for _, mt := range me.MetricsWithThresholds() {
		if mt.Sub != nil {
			sub = mt
		}
	}
	require.NotNil(t, sub)

	parentSink, ok := me.Collector().Snapshot(m).(metrics.TrendStats)
	require.True(t, ok)
	assert.Equal(t, uint64(3), parentSink.Count())

	subSink, ok := me.Collector().Snapshot(sub).(metrics.TrendStats)
	require.True(t, ok)
	assert.Equal(t, uint64(2), subSink.Count())
	assert.Equal(t, 300.0, subSink.Max())

	breached, abort := me.EvaluateThresholds(false)
	assert.Empty(t, breached)
	assert.False(t, abort)

	me.Pusher(2).PushSamples(m.Sample(now, health, 900), m.Sample(now, health, 950))
	breached, _ = me.EvaluateThresholds(false)
	assert.Equal(t, []string{"http_req_duration{group:::Health Check}"}, breached)
}

func TestMetricsEngineEvaluateEmptySinks(t *testing.T) {
	t.Parallel()

	tr := newTestRun(t, map[string][]string{"checks": {"rate>0.9"}}, lib.RuntimeOptions{})
	me, err := NewMetricsEngine(tr)
	require.NoError(t, err)

	breached, _ := me.EvaluateThresholds(true)
	assert.Empty(t, breached, "periodic evaluations skip metrics without samples")

	breached, _ = me.EvaluateThresholds(false)
	assert.Equal(t, []string{"checks"}, breached, "the final evaluation sees an empty rate as 0")

	observed := me.ObservedMetrics()
	require.Len(t, observed, 1)
	assert.Equal(t, "checks", observed[0].Metric.Name)
	assert.True(t, observed[0].Sink.IsEmpty())
}

func TestMetricsEngineObservedMetrics(t *testing.T) {
	t.Parallel()

	tr := newTestRun(t, map[string][]string{"http_req_duration{group:::Homepage}": {"p(95)<2000"}}, lib.RuntimeOptions{})
	errorsMetric := tr.Registry.MustNewMetric("errors", metrics.Rate)
	me, err := NewMetricsEngine(tr)
	require.NoError(t, err)

	me.Pusher(3).PushSamples(errorsMetric.Sample(time.Now(), tr.Registry.RootTagSet(), 0))

	observed := me.ObservedMetrics()
	names := make([]string, 0, len(observed))
	for _, o := range observed {
		names = append(names, o.Metric.Name)
	}
	assert.Equal(t, []string{"errors", "http_req_duration", "http_req_duration{group:::Homepage}"}, names)
}

func TestStartThresholdCalculationsAborts(t *testing.T) {
	t.Parallel()

	tr := newTestRun(t, nil, lib.RuntimeOptions{})
	tr.Options.ThresholdsInterval = types.NullDurationFrom(10 * time.Millisecond)
	errorsMetric := tr.Registry.MustNewMetric("errors", metrics.Rate)
	tr.Options.Thresholds = map[string]metrics.Thresholds{"errors": metrics.NewThresholds([]string{"rate<0.1"})}
	tr.Options.Thresholds["errors"].Thresholds[0].AbortOnFail = true
	tr.MarkStarted(time.Now())

	me, err := NewMetricsEngine(tr)
	require.NoError(t, err)

	aborted := make(chan error, 1)
	finalize := me.StartThresholdCalculations(func(err error) { aborted <- err })

	root := tr.Registry.RootTagSet()
	for i := 0; i < 10; i++ {
		me.Pusher(uint64(i)).PushSamples(errorsMetric.Sample(time.Now(), root, 1))
	}

	select {
	case err := <-aborted:
		var ie *errext.InterruptError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, exitcodes.ThresholdsHaveFailed, ie.ExitCode())
		assert.Contains(t, ie.Error(), errext.AbortThresholds)
	case <-time.After(5 * time.Second):
		t.Fatal("the run was not aborted")
	}

	assert.Equal(t, []string{"errors"}, finalize())
	assert.Equal(t, []string{"errors"}, finalize(), "finalize is idempotent")
	th := tr.Options.Thresholds["errors"].Thresholds[0]
	assert.True(t, th.LastFailed)
	assert.True(t, th.FirstFailedAt.Valid)
	assert.Equal(t, 1.0, th.Observed)
}

func TestStartThresholdCalculationsFinalOnly(t *testing.T) {
	t.Parallel()

	tr := newTestRun(t, map[string][]string{"checks": {"rate>0.5"}}, lib.RuntimeOptions{})
	me, err := NewMetricsEngine(tr)
	require.NoError(t, err)

	var mu sync.Mutex
	var abortCalls int
	finalize := me.StartThresholdCalculations(func(error) {
		mu.Lock()
		abortCalls++
		mu.Unlock()
	})
	root := tr.Registry.RootTagSet()
	me.Pusher(1).PushSamples(tr.BuiltinMetrics.Checks.Sample(time.Now(), root, 1))

	assert.Empty(t, finalize())
	mu.Lock()
	assert.Zero(t, abortCalls)
	mu.Unlock()

	noThresholds := newTestRun(t, map[string][]string{"checks": {"rate>0.5"}},
		lib.RuntimeOptions{NoThresholds: null.BoolFrom(true)})
	me, err = NewMetricsEngine(noThresholds)
	require.NoError(t, err)
	assert.Nil(t, me.StartThresholdCalculations(func(error) {})())
}
