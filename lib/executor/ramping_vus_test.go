package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/testutils"
	"github.com/liuxd6825/loadrun/lib/testutils/minirunner"
	"github.com/liuxd6825/loadrun/lib/types"
	"github.com/liuxd6825/loadrun/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestExecutor(
	t *testing.T, stages Stages, tick time.Duration, runner lib.Runner, samples metrics.SamplePusher,
) (*RampingVUs, *lib.TestRun) {
	t.Helper()

	opts := lib.DefaultOptions()
	opts.Stages = stages
	opts.SchedulerTick = types.NullDurationFrom(tick)
	test, err := lib.NewTestRun(testutils.NewLogger(t), opts, lib.RuntimeOptions{})
	require.NoError(t, err)

	config := NewRampingVUsConfig(test.Options)
	require.Empty(t, config.Validate())
	return NewRampingVUs(config, test, runner, samples), test
}

func TestNewRampingVUsConfig(t *testing.T) {
	t.Parallel()

	opts := lib.Options{Stages: odooStages()}
	config := NewRampingVUsConfig(opts)
	assert.Equal(t, lib.DefaultSchedulerTick, config.Tick)
	assert.Equal(t, uint64(50), config.MaxVUs())
	assert.Equal(t, "Up to 50 looping VUs for 16m0s over 5 stages (tick: 100ms)", config.Description())

	opts.SchedulerTick = types.NullDurationFrom(5 * time.Second)
	assert.Equal(t, lib.MaxSchedulerTick, NewRampingVUsConfig(opts).Tick)

	config.Tick = 0
	assert.Len(t, config.Validate(), 1)
	assert.Equal(t, odooStages().ExecutionSteps(), config.ExecutionSteps())
}

func TestRampingVUsConcurrencyFollowsRamp(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight int64
	runner := &minirunner.MiniRunner{Fn: func(context.Context, *minirunner.VU) error {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	}}

	const tick = 10 * time.Millisecond
	stages := Stages{stage(800*time.Millisecond, 8), stage(400*time.Millisecond, 8)}
	executor, _ := newTestExecutor(t, stages, tick, runner, nil)

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- executor.Run(context.Background()) }()

	// the VU count always trails the ramp by at most a tick; the margins
	// absorb the polling and goroutine scheduling delays
	for elapsed := time.Since(start); elapsed < 1100*time.Millisecond; elapsed = time.Since(start) {
		active := executor.ActiveVUs()
		upper := stages.TargetAt(time.Since(start))
		lower := stages.TargetAt(elapsed - tick - 100*time.Millisecond)
		assert.LessOrEqual(t, active, upper, "at %s", elapsed)
		assert.GreaterOrEqual(t, active, lower, "at %s", elapsed)
		time.Sleep(15 * time.Millisecond)
	}

	require.NoError(t, <-errCh)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(8))
	assert.Equal(t, int64(8), executor.InitializedVUs())
	assert.Zero(t, executor.ActiveVUs())
	assert.GreaterOrEqual(t, time.Since(start), stages.Duration())
}

func TestRampingVUsSleepIsolation(t *testing.T) {
	t.Parallel()

	var sleeperIterations, otherIterations int64
	runner := &minirunner.MiniRunner{Fn: func(_ context.Context, vu *minirunner.VU) error {
		if vu.ID() == 1 {
			atomic.AddInt64(&sleeperIterations, 1)
			time.Sleep(400 * time.Millisecond)
			return nil
		}
		atomic.AddInt64(&otherIterations, 1)
		time.Sleep(5 * time.Millisecond)
		return nil
	}}

	executor, _ := newTestExecutor(t, Stages{stage(0, 3), stage(300*time.Millisecond, 3)},
		10*time.Millisecond, runner, nil)
	require.NoError(t, executor.Run(context.Background()))

	assert.Equal(t, int64(1), atomic.LoadInt64(&sleeperIterations))
	assert.Greater(t, atomic.LoadInt64(&otherIterations), int64(20),
		"the other VUs kept iterating while VU 1 slept")
}

func TestRampingVUsGracefulEnd(t *testing.T) {
	t.Parallel()

	var started, finished int64
	runner := &minirunner.MiniRunner{Fn: func(ctx context.Context, _ *minirunner.VU) error {
		atomic.AddInt64(&started, 1)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		atomic.AddInt64(&finished, 1)
		return nil
	}}

	executor, _ := newTestExecutor(t, Stages{stage(0, 2), stage(100*time.Millisecond, 2)},
		10*time.Millisecond, runner, nil)

	start := time.Now()
	require.NoError(t, executor.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "Run waited for the in-flight iterations")
	assert.Equal(t, int64(2), atomic.LoadInt64(&started))
	assert.Equal(t, int64(2), atomic.LoadInt64(&finished))
}

func TestRampingVUsInterruptFinishesIterations(t *testing.T) {
	t.Parallel()

	var started, finished int64
	inIteration := make(chan struct{}, 1)
	runner := &minirunner.MiniRunner{Fn: func(ctx context.Context, _ *minirunner.VU) error {
		atomic.AddInt64(&started, 1)
		select {
		case inIteration <- struct{}{}:
		default:
		}
		time.Sleep(100 * time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		atomic.AddInt64(&finished, 1)
		return nil
	}}

	executor, _ := newTestExecutor(t, Stages{stage(0, 1), stage(time.Hour, 1)}, 10*time.Millisecond, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- executor.Run(ctx) }()

	<-inIteration
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the interruption")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&started))
	assert.Equal(t, int64(1), atomic.LoadInt64(&finished), "the iteration was not cancelled")
}

func TestRampingVUsEmitsVUMetrics(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var vus, vusMax []float64
	samples := metrics.PusherFunc(func(containers ...metrics.SampleContainer) {
		mu.Lock()
		defer mu.Unlock()
		for _, sc := range containers {
			for _, s := range sc.GetSamples() {
				switch s.Metric.Name {
				case metrics.VUsName:
					vus = append(vus, s.Value)
				case metrics.VUsMaxName:
					vusMax = append(vusMax, s.Value)
				}
			}
		}
	})
	runner := &minirunner.MiniRunner{Fn: func(context.Context, *minirunner.VU) error {
		time.Sleep(time.Millisecond)
		return nil
	}}

	executor, _ := newTestExecutor(t, Stages{stage(0, 4), stage(100*time.Millisecond, 4)},
		10*time.Millisecond, runner, samples)
	require.NoError(t, executor.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, vus)
	require.Len(t, vusMax, len(vus))
	assert.Equal(t, 4.0, vusMax[len(vusMax)-1])
	assert.Zero(t, vus[len(vus)-1], "no VU is active at the end")
	for _, v := range vus {
		assert.LessOrEqual(t, v, 4.0)
	}
}

func TestRampingVUsNewVUError(t *testing.T) {
	t.Parallel()

	executor, _ := newTestExecutor(t, Stages{stage(0, 2), stage(time.Hour, 2)}, 10*time.Millisecond,
		failingRunner{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- executor.Run(context.Background()) }()
	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "initializing VU #1")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return the VU initialization error")
	}
}

type failingRunner struct{}

func (failingRunner) NewVU(context.Context, uint64) (lib.VU, error) {
	return nil, errors.New("boom")
}
func (failingRunner) Setup(context.Context) error    { return nil }
func (failingRunner) Teardown(context.Context) error { return nil }

func TestRampingVUsLazyVUs(t *testing.T) {
	t.Parallel()

	runner := &minirunner.MiniRunner{Fn: func(context.Context, *minirunner.VU) error {
		time.Sleep(time.Millisecond)
		return nil
	}}
	stages := Stages{
		{Duration: types.NullDurationFrom(50 * time.Millisecond), Target: null.IntFrom(1)},
		{Duration: types.NullDurationFrom(100 * time.Millisecond), Target: null.IntFrom(1)},
	}
	executor, _ := newTestExecutor(t, stages, 10*time.Millisecond, runner, nil)
	require.NoError(t, executor.Run(context.Background()))
	assert.Len(t, runner.VUs(), 1)
	assert.Greater(t, runner.VUs()[0].IterationsDone(), int64(0))
}

func TestRampingVUsClosesVUs(t *testing.T) {
	t.Parallel()

	runner := &minirunner.MiniRunner{Fn: func(context.Context, *minirunner.VU) error {
		time.Sleep(time.Millisecond)
		return nil
	}}
	stages := Stages{stage(50*time.Millisecond, 3), stage(50*time.Millisecond, 0)}
	executor, _ := newTestExecutor(t, stages, 10*time.Millisecond, runner, nil)
	require.NoError(t, executor.Run(context.Background()))

	vus := runner.VUs()
	require.NotEmpty(t, vus)
	for _, vu := range vus {
		assert.True(t, vu.Closed(), "VU %d", vu.ID())
	}
}
