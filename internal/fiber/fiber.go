// Package fiber models a fiber scheduler on top of goroutines: many
// lightweight units of concurrent work multiplexed onto a small number
// of OS threads, parked and resumed on channel/mutex operations instead
// of an explicit stack-switch call. A goroutine already plays the role a
// fiber would; the Go scheduler already plays the role a fiber scheduler
// would. This package keeps the *contract* (New/Current/SetError/
// Terminate) so callers written against "a fiber" have a stable handle,
// without reimplementing what the runtime already provides.
//
// The ctx/cancel/done lifecycle pattern generalizes from "one supervised
// unit of work" to "one supervised fiber body".
package fiber

import (
	"context"
	"sync"
)

// Fiber is one logical unit of concurrent work owned by a Worker: a
// goroutine plus its last error and whether it has been asked to
// terminate.
type Fiber struct {
	mu       sync.Mutex
	err      error
	terminate context.CancelFunc
	ctx      context.Context
	done     chan struct{}
}

// fiberKey is a per-goroutine handle threaded through context.Context,
// since Go has no public goroutine-local storage; callers that need
// Current must have received this context from New's body call.
type fiberKeyType struct{}

var fiberKey fiberKeyType

// New spawns body as a new fiber. body receives a context that is
// cancelled when Terminate is called on the fiber, or when the
// parent ctx is cancelled. New returns immediately; the caller gets a
// *Fiber handle to inspect completion and error state.
func New(ctx context.Context, body func(ctx context.Context)) *Fiber {
	fctx, cancel := context.WithCancel(ctx)
	f := &Fiber{terminate: cancel, ctx: fctx, done: make(chan struct{})}

	go func() {
		defer close(f.done)
		body(context.WithValue(fctx, fiberKey, f))
	}()

	return f
}

// Current retrieves the running fiber's handle from a context obtained
// inside a fiber body, or nil if called outside one.
func Current(ctx context.Context) *Fiber {
	f, _ := ctx.Value(fiberKey).(*Fiber)
	return f
}

// SetError records the fiber's last error in a per-fiber error slot,
// used instead of panicking out of a worker loop.
func (f *Fiber) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// GetError returns the fiber's last recorded error, or nil.
func (f *Fiber) GetError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// ResetError clears the fiber's error slot.
func (f *Fiber) ResetError() {
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
}

// Terminate requests the fiber stop via context cancellation; the body
// must itself observe ctx.Done() to actually exit, same as any other
// cooperatively-cancelled goroutine.
func (f *Fiber) Terminate() { f.terminate() }

// Done returns a channel closed when the fiber body has returned.
func (f *Fiber) Done() <-chan struct{} { return f.done }

// Wait blocks until the fiber body returns.
func (f *Fiber) Wait() { <-f.done }
