// Package executor schedules the VUs of a test run along its stages.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
)

// RampingVUsConfig stores the configuration of the ramping VUs executor.
type RampingVUsConfig struct {
	Stages Stages
	// How often the running VUs are reconciled with the ramp.
	Tick time.Duration
}

// NewRampingVUsConfig returns the executor configuration from the test
// options.
func NewRampingVUsConfig(opts lib.Options) RampingVUsConfig {
	tick := opts.SchedulerTick.TimeDuration()
	if !opts.SchedulerTick.Valid || tick <= 0 {
		tick = lib.DefaultSchedulerTick
	}
	if tick > lib.MaxSchedulerTick {
		tick = lib.MaxSchedulerTick
	}
	return RampingVUsConfig{Stages: Stages(opts.Stages), Tick: tick}
}

// MaxVUs returns the highest number of VUs the ramp needs at once. It is
// taken from the execution plan, so the two always agree.
func (c RampingVUsConfig) MaxVUs() uint64 {
	return lib.GetMaxPlannedVUs(c.Stages.ExecutionSteps())
}

// Description returns a human-readable description of the ramp.
func (c RampingVUsConfig) Description() string {
	return fmt.Sprintf("Up to %d looping VUs for %s over %d stages (tick: %s)",
		c.MaxVUs(), c.Stages.Duration(), len(c.Stages), c.Tick)
}

// Validate makes sure all options are configured and valid.
func (c RampingVUsConfig) Validate() []error {
	errs := c.Stages.Validate()
	if c.Tick <= 0 || c.Tick > lib.MaxSchedulerTick {
		errs = append(errs, fmt.Errorf("the scheduler tick should be between 0 and %s", lib.MaxSchedulerTick))
	}
	return errs
}

// ExecutionSteps returns the execution plan of the ramp.
func (c RampingVUsConfig) ExecutionSteps() []lib.ExecutionStep {
	return c.Stages.ExecutionSteps()
}

// RampingVUs loops iterations with a variable number of VUs for the sum of
// all of the stages' duration.
type RampingVUs struct {
	config  RampingVUsConfig
	runner  lib.Runner
	samples metrics.SamplePusher
	builtin *metrics.BuiltinMetrics
	tags    *metrics.TagSet
	logger  logrus.FieldLogger

	activeVUs      int64
	initializedVUs int64
}

// NewRampingVUs creates a new executor. The vus and vus_max gauges are
// pushed to samples on every tick.
func NewRampingVUs(
	config RampingVUsConfig, test *lib.TestRun, runner lib.Runner, samples metrics.SamplePusher,
) *RampingVUs {
	return &RampingVUs{
		config:  config,
		runner:  runner,
		samples: samples,
		builtin: test.BuiltinMetrics,
		tags:    test.Registry.RootTagSet().WithTagsFromMap(test.Options.RunTags),
		logger:  test.Logger.WithField("component", "scheduler"),
	}
}

// ActiveVUs returns the number of VUs that are running iterations.
func (r *RampingVUs) ActiveVUs() int64 {
	return atomic.LoadInt64(&r.activeVUs)
}

// InitializedVUs returns the number of VUs created so far.
func (r *RampingVUs) InitializedVUs() int64 {
	return atomic.LoadInt64(&r.initializedVUs)
}

// Run schedules VUs along the stages until the ramp ends or ctx is done.
// Every tick the first TargetAt(elapsed) VUs are started and the others are
// gracefully stopped. Once the ramp is over (or ctx is cancelled) no new
// iteration starts; Run returns after the in-flight ones have finished.
func (r *RampingVUs) Run(ctx context.Context) error {
	maxVUs := r.config.MaxVUs()
	duration := r.config.Stages.Duration()
	startTime := time.Now()

	r.logger.WithFields(logrus.Fields{
		"maxVUs": maxVUs, "duration": duration, "numStages": len(r.config.Stages), "tick": r.config.Tick,
	}).Debug("Starting executor run...")

	var (
		runErr     error
		runErrOnce sync.Once
		done       = make(chan struct{})
		stopOnce   sync.Once
	)
	stop := func() { stopOnce.Do(func() { close(done) }) }
	fail := func(err error) {
		runErrOnce.Do(func() { runErr = err })
		stop()
	}

	// VU contexts are never cancelled by the scheduler, so that iterations
	// always complete. Values, like the tracing span, are still inherited.
	iterCtx := context.WithoutCancel(ctx)
	runIteration := getIterationRunner(iterCtx, done, r.logger)

	activeVUs := &sync.WaitGroup{}

	vuHandles := make([]*vuHandle, maxVUs)
	for i := uint64(0); i < maxVUs; i++ {
		id := i + 1
		getVU := func() (lib.VU, error) {
			vu, err := r.runner.NewVU(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("initializing VU #%d: %w", id, err)
			}
			atomic.AddInt64(&r.initializedVUs, 1)
			return vu, nil
		}
		vh := newStoppedVUHandle(getVU, r.logger.WithField("vu", id))
		vuHandles[i] = vh
		activeVUs.Add(1)
		go func() {
			defer activeVUs.Done()
			vh.runLoopsIfPossible(done, runIteration, func(delta int64) {
				atomic.AddInt64(&r.activeVUs, delta)
			})
		}()
	}

	var currentScheduledVUs uint64
	reconcile := func(now time.Time) {
		target := uint64(r.config.Stages.TargetAt(now.Sub(startTime)))
		if target > maxVUs {
			target = maxVUs
		}
		for vuNum := currentScheduledVUs; vuNum < target; vuNum++ {
			if err := vuHandles[vuNum].start(); err != nil {
				fail(err)
				return
			}
		}
		for vuNum := target; vuNum < currentScheduledVUs; vuNum++ {
			vuHandles[vuNum].gracefulStop()
		}
		currentScheduledVUs = target
		r.emitVUsMetrics(now)
	}

	ticker := time.NewTicker(r.config.Tick)
	defer ticker.Stop()
	reconcile(startTime)

loop:
	for {
		select {
		case <-done:
			break loop
		case now := <-ticker.C:
			if now.Sub(startTime) >= duration {
				r.logger.Debug("Regular duration is done, waiting for iterations to finish")
				break loop
			}
			reconcile(now)
		case <-ctx.Done():
			r.logger.Debug("Run interrupted, waiting for iterations to finish")
			break loop
		}
	}

	stop()
	activeVUs.Wait()
	for _, vh := range vuHandles {
		vh.closeVU()
	}
	r.emitVUsMetrics(time.Now())

	return runErr
}

func (r *RampingVUs) emitVUsMetrics(now time.Time) {
	if r.samples == nil {
		return
	}
	r.samples.PushSamples(metrics.ConnectedSamples{
		Samples: []metrics.Sample{
			r.builtin.VUs.Sample(now, r.tags, float64(r.ActiveVUs())),
			r.builtin.VUsMax.Sample(now, r.tags, float64(r.InitializedVUs())),
		},
		Tags: r.tags,
		Time: now,
	})
}

// getIterationRunner returns the closure that runs one iteration of a VU.
// Iteration errors are logged and do not stop the VU.
func getIterationRunner(ctx context.Context, done <-chan struct{}, logger logrus.FieldLogger) func(lib.VU) bool {
	return func(vu lib.VU) bool {
		select {
		case <-done:
			return false
		default:
		}

		if err := vu.RunOnce(ctx); err != nil {
			logger.WithField("vu", vu.ID()).WithError(err).Error("Iteration failed")
		}
		return true
	}
}
