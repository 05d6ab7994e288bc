package executor

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/liuxd6825/loadrun/lib"
)

// Stages is a piecewise-linear VU ramp. It starts at 0 VUs and each stage
// moves linearly from the previous target to its own over its duration.
type Stages []lib.Stage

// Duration returns the sum of the stage durations.
func (s Stages) Duration() (result time.Duration) {
	for _, st := range s {
		result += st.Duration.TimeDuration()
	}
	return result
}

// TargetAt returns the number of VUs the ramp calls for after elapsed time.
// Within a stage going from `from` to `to` over d the result is
// from + trunc((to-from)*elapsed/d): ramp-ups count up on the floor and
// ramp-downs count down on the ceiling. A zero-duration stage jumps to its
// target right away. Past the last stage the last target holds.
func (s Stages) TargetAt(elapsed time.Duration) int64 {
	if elapsed < 0 {
		elapsed = 0
	}
	var (
		from  int64
		start time.Duration
	)
	for _, st := range s {
		d := st.Duration.TimeDuration()
		to := st.Target.Int64
		if elapsed < start+d {
			return from + scaleDiff(to-from, elapsed-start, d)
		}
		start += d
		from = to
	}
	return from
}

// scaleDiff returns trunc(diff*elapsed/d) for 0 <= elapsed < d, without
// overflowing on long stages.
func scaleDiff(diff int64, elapsed, d time.Duration) int64 {
	neg := diff < 0
	if neg {
		diff = -diff
	}
	hi, lo := bits.Mul64(uint64(diff), uint64(elapsed))
	q, _ := bits.Div64(hi, lo, uint64(d))
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// ceilOffset returns the earliest offset t at which trunc(diff*t/d) >= n,
// for 0 < n <= diff.
func ceilOffset(n, diff int64, d time.Duration) time.Duration {
	hi, lo := bits.Mul64(uint64(n), uint64(d))
	q, r := bits.Div64(hi, lo, uint64(diff))
	if r != 0 {
		q++
	}
	return time.Duration(q)
}

// ExecutionSteps returns the plan: the offsets at which the target changes,
// ending with a step to 0 VUs at the end of the ramp. Targets that are
// immediately overridden at the same offset, like the one before a
// zero-duration stage, are never scheduled and don't appear.
func (s Stages) ExecutionSteps() []lib.ExecutionStep {
	steps := []lib.ExecutionStep{{TimeOffset: 0, PlannedVUs: 0}}
	addStep := func(step lib.ExecutionStep) {
		last := &steps[len(steps)-1]
		switch {
		case last.PlannedVUs == step.PlannedVUs:
		case last.TimeOffset == step.TimeOffset:
			last.PlannedVUs = step.PlannedVUs
		default:
			steps = append(steps, step)
		}
	}

	var (
		from  int64
		start time.Duration
	)
	for _, st := range s {
		d := st.Duration.TimeDuration()
		to := st.Target.Int64
		diff := to - from
		switch {
		case diff == 0:
		case d == 0:
			addStep(lib.ExecutionStep{TimeOffset: start, PlannedVUs: uint64(to)})
		case diff > 0:
			for n := int64(1); n <= diff; n++ {
				addStep(lib.ExecutionStep{
					TimeOffset: start + ceilOffset(n, diff, d),
					PlannedVUs: uint64(from + n),
				})
			}
		default:
			for n := int64(1); n <= -diff; n++ {
				addStep(lib.ExecutionStep{
					TimeOffset: start + ceilOffset(n, -diff, d),
					PlannedVUs: uint64(from - n),
				})
			}
		}
		start += d
		from = to
	}
	// The terminal step is appended even at the offset of the last change,
	// so that a target reached at the very end stays in the plan.
	if steps[len(steps)-1].PlannedVUs != 0 {
		steps = append(steps, lib.ExecutionStep{TimeOffset: start, PlannedVUs: 0})
	}
	return steps
}

// Validate returns every problem with the ramp.
func (s Stages) Validate() []error {
	if len(s) == 0 {
		return []error{errors.New("at least one stage has to be specified")}
	}
	var errs []error
	for i, st := range s {
		stageNum := i + 1
		if !st.Duration.Valid {
			errs = append(errs, fmt.Errorf("stage %d doesn't have a duration", stageNum))
		} else if st.Duration.Duration < 0 {
			errs = append(errs, fmt.Errorf("the duration for stage %d shouldn't be negative", stageNum))
		}
		if !st.Target.Valid {
			errs = append(errs, fmt.Errorf("stage %d doesn't have a target", stageNum))
		} else if st.Target.Int64 < 0 {
			errs = append(errs, fmt.Errorf("the target for stage %d shouldn't be negative", stageNum))
		}
	}
	if len(errs) == 0 && s.Duration() == 0 {
		errs = append(errs, errors.New("the total duration of the stages should be more than 0"))
	}
	return errs
}
