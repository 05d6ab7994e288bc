package lib

import (
	"context"
	"time"
)

// VU is a virtual user. It runs iterations one after another; it is never
// used from more than one goroutine at a time.
type VU interface {
	// ID returns the unique, 1-based identifier of the VU.
	ID() uint64

	// RunOnce runs a single iteration of the default function. It returns
	// only when the iteration is over, so an iteration is never cut short
	// by the scheduler.
	RunOnce(ctx context.Context) error
}

// A Runner is a factory for VUs plus the once-per-run lifecycle hooks
// around the ramp.
type Runner interface {
	// NewVU creates a VU with the given id. VUs are created lazily, the
	// first time the ramp needs them.
	NewVU(ctx context.Context, id uint64) (VU, error)

	// Setup runs once before the ramp starts.
	Setup(ctx context.Context) error

	// Teardown runs once after every VU has finished.
	Teardown(ctx context.Context) error
}

// ExecutionStep is used by the scheduler to describe the plan: at
// TimeOffset, PlannedVUs VUs should be running.
type ExecutionStep struct {
	TimeOffset time.Duration
	PlannedVUs uint64
}

// GetMaxPlannedVUs returns the maximum number of planned VUs at any stage of
// the execution plan.
func GetMaxPlannedVUs(steps []ExecutionStep) (result uint64) {
	for _, s := range steps {
		if s.PlannedVUs > result {
			result = s.PlannedVUs
		}
	}
	return result
}

// GetEndOffset returns the time offset of the last step of the execution
// plan, and whether that step has 0 planned VUs, i.e. whether the plan is
// complete.
func GetEndOffset(steps []ExecutionStep) (lastStepOffset time.Duration, isFinal bool) {
	if len(steps) == 0 {
		return 0, true
	}
	lastStep := steps[len(steps)-1]
	return lastStep.TimeOffset, lastStep.PlannedVUs == 0
}
