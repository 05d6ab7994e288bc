package executor

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/lib"
)

// states
const (
	stopped int32 = iota
	running
)

/*
state transition table
start is the method start
loop is a pass of runLoopsIfPossible
grace is the method gracefulStop
+-------+---------+---------+-----------------------------------------------+
| input | current | next    | notes                                         |
+-------+---------+---------+-----------------------------------------------+
| start | stopped | running | get the VU on the first start, open the gate  |
| start | running | running | nothing                                       |
| loop  | stopped | stopped | blocked on canStartIter                       |
| loop  | running | running | fast path, iterations back to back            |
| grace | stopped | stopped | nothing                                       |
| grace | running | stopped | the in-flight iteration finishes, then blocks |
+-------+---------+---------+-----------------------------------------------+
There is no hard stop: an iteration that has started always finishes.
*/

// vuHandle controls whether a single VU goroutine may start new iterations.
// The VU is created the first time the handle is started and kept for later
// starts, so ramping down and up again reuses it.
type vuHandle struct {
	mutex sync.Mutex
	getVU func() (lib.VU, error)

	vu lib.VU
	// closed while the VU is allowed to start iterations
	canStartIter chan struct{}
	// read with atomics in the fast path
	state int32

	logger logrus.FieldLogger
}

func newStoppedVUHandle(getVU func() (lib.VU, error), logger logrus.FieldLogger) *vuHandle {
	return &vuHandle{
		getVU:        getVU,
		canStartIter: make(chan struct{}),
		state:        stopped,
		logger:       logger,
	}
}

func (vh *vuHandle) start() error {
	vh.mutex.Lock()
	defer vh.mutex.Unlock()

	if vh.state == running {
		return nil
	}

	if vh.vu == nil {
		vu, err := vh.getVU()
		if err != nil {
			return err
		}
		vh.vu = vu
	}

	vh.logger.Debug("Start")
	close(vh.canStartIter)
	atomic.StoreInt32(&vh.state, running)
	return nil
}

func (vh *vuHandle) gracefulStop() {
	vh.mutex.Lock()
	defer vh.mutex.Unlock()

	if vh.state != running {
		return
	}

	vh.logger.Debug("Graceful stop")
	atomic.StoreInt32(&vh.state, stopped)
	vh.canStartIter = make(chan struct{})
}

// closeVU releases the resources of the VU, if it was ever created. It must
// only be called once the loop of the handle has returned.
func (vh *vuHandle) closeVU() {
	vh.mutex.Lock()
	defer vh.mutex.Unlock()
	if c, ok := vh.vu.(interface{ Close() }); ok {
		c.Close()
	}
}

// runLoopsIfPossible runs iterations back to back while the handle is
// started. It returns once done is closed and no iteration is in flight.
// runIter returns false when no more iterations should be started.
// onActive is called with +1 when the VU becomes active and -1 when it goes
// back to waiting.
func (vh *vuHandle) runLoopsIfPossible(done <-chan struct{}, runIter func(lib.VU) bool, onActive func(delta int64)) {
	var (
		vu     lib.VU
		active bool
	)
	setActive := func(a bool) {
		if a == active {
			return
		}
		active = a
		if a {
			onActive(1)
		} else {
			onActive(-1)
		}
	}
	defer setActive(false)

	for {
		if vu != nil && atomic.LoadInt32(&vh.state) == running && runIter(vu) {
			continue
		}

		// slow path: we were stopped, or the run is over
		vh.mutex.Lock()
		select {
		case <-done:
			vh.mutex.Unlock()
			return
		default:
		}
		canStartIter := vh.canStartIter
		vh.mutex.Unlock()

		select {
		case <-canStartIter:
		default:
			setActive(false)
			select {
			case <-canStartIter:
			case <-done:
				return
			}
		}

		vh.mutex.Lock()
		vu = vh.vu
		vh.mutex.Unlock()
		setActive(true)
	}
}
