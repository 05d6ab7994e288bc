// Package minirunner provides a Runner whose iterations are plain Go
// functions, for tests of the packages that drive VUs.
package minirunner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/liuxd6825/loadrun/lib"
)

// MiniRunner runs Fn as the iteration of every VU.
type MiniRunner struct {
	Fn         func(ctx context.Context, vu *VU) error
	SetupFn    func(ctx context.Context) error
	TeardownFn func(ctx context.Context) error

	mu  sync.Mutex
	vus []*VU
}

var _ lib.Runner = &MiniRunner{}

// NewVU returns a new VU with the given id.
func (r *MiniRunner) NewVU(_ context.Context, id uint64) (lib.VU, error) {
	vu := &VU{R: r, id: id}
	r.mu.Lock()
	r.vus = append(r.vus, vu)
	r.mu.Unlock()
	return vu, nil
}

// Setup calls SetupFn, if any.
func (r *MiniRunner) Setup(ctx context.Context) error {
	if r.SetupFn == nil {
		return nil
	}
	return r.SetupFn(ctx)
}

// Teardown calls TeardownFn, if any.
func (r *MiniRunner) Teardown(ctx context.Context) error {
	if r.TeardownFn == nil {
		return nil
	}
	return r.TeardownFn(ctx)
}

// VUs returns the VUs created so far.
func (r *MiniRunner) VUs() []*VU {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*VU(nil), r.vus...)
}

// VU is a mock VU.
type VU struct {
	R  *MiniRunner
	id uint64

	Iterations int64
	closed     int32
}

var _ lib.VU = &VU{}

// ID returns the VU id.
func (vu *VU) ID() uint64 { return vu.id }

// RunOnce runs the runner's function once.
func (vu *VU) RunOnce(ctx context.Context) error {
	defer atomic.AddInt64(&vu.Iterations, 1)
	if vu.R.Fn == nil {
		return nil
	}
	return vu.R.Fn(ctx, vu)
}

// IterationsDone returns the number of finished iterations.
func (vu *VU) IterationsDone() int64 {
	return atomic.LoadInt64(&vu.Iterations)
}

// Close marks the VU as closed.
func (vu *VU) Close() { atomic.StoreInt32(&vu.closed, 1) }

// Closed reports whether Close was called.
func (vu *VU) Closed() bool { return atomic.LoadInt32(&vu.closed) == 1 }
