package lib

import (
	"fmt"
	"sync/atomic"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/metrics"
)

// TestRun is the static part of a single test run: its consolidated options,
// metrics registry and group tree. The timing fields are updated while the run
// progresses.
type TestRun struct {
	ID             string
	Options        Options
	RuntimeOptions RuntimeOptions

	Logger         logrus.FieldLogger
	Registry       *metrics.Registry
	BuiltinMetrics *metrics.BuiltinMetrics
	RootGroup      *Group

	startTime int64 // unix nanoseconds, 0 until started
	endTime   int64
}

// NewTestRun creates a TestRun with a fresh registry holding the builtin metrics.
func NewTestRun(logger logrus.FieldLogger, opts Options, rtOpts RuntimeOptions) (*TestRun, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating the test run id: %w", err)
	}
	root, err := NewGroup("", nil)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	return &TestRun{
		ID:             id.String(),
		Options:        opts,
		RuntimeOptions: rtOpts,
		Logger:         logger.WithField("run_id", id.String()),
		Registry:       registry,
		BuiltinMetrics: metrics.RegisterBuiltinMetrics(registry),
		RootGroup:      root,
	}, nil
}

// MarkStarted records the start of the ramp.
func (t *TestRun) MarkStarted(now time.Time) {
	atomic.StoreInt64(&t.startTime, now.UnixNano())
}

// MarkEnded records the end of the run.
func (t *TestRun) MarkEnded(now time.Time) {
	atomic.StoreInt64(&t.endTime, now.UnixNano())
}

// StartTime returns the time the ramp started, zero if it did not yet.
func (t *TestRun) StartTime() time.Time {
	ns := atomic.LoadInt64(&t.startTime)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// CurrentDuration returns how long the run has been going on, or its total
// duration once it has ended.
func (t *TestRun) CurrentDuration() time.Duration {
	start := atomic.LoadInt64(&t.startTime)
	if start == 0 {
		return 0
	}
	if end := atomic.LoadInt64(&t.endTime); end != 0 {
		return time.Duration(end - start)
	}
	return time.Since(time.Unix(0, start))
}
