package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/loadrun/core"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/testutils"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/runner"
)

func TestRecentFailures(t *testing.T) {
	t.Parallel()

	opts := lib.DefaultOptions().Apply(lib.Options{Stages: []lib.Stage{stage(time.Second, 1)}})
	test, err := lib.NewTestRun(testutils.NewLogger(t), opts, lib.RuntimeOptions{})
	require.NoError(t, err)

	var pushers runner.SamplePusherFactory
	e, err := core.NewEngine(test, func(samples runner.SamplePusherFactory) (lib.Runner, error) {
		pushers = samples
		return runner.New(test, runner.Scenario{Default: func(*runner.Iteration) error { return nil }}, samples, nil)
	}, nil)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	assert.Equal(t, "failed: -", recentFailures(e, now))

	root := test.Registry.RootTagSet()
	failed := test.BuiltinMetrics.HTTPReqFailed
	pushers(1).PushSamples(metrics.Samples{
		failed.Sample(now.Add(-5*time.Second), root, 1),
		failed.Sample(now.Add(-4*time.Second), root, 0),
		failed.Sample(now.Add(-3*time.Second), root, 0),
		failed.Sample(now.Add(-2*time.Second), root, 0),
		// too old, and not complete yet
		failed.Sample(now.Add(-time.Minute), root, 1),
		failed.Sample(now, root, 1),
	})
	assert.Equal(t, "failed: 25.0%", recentFailures(e, now))
	assert.Equal(t, "failed: -", recentFailures(e, now.Add(time.Hour)))
}
