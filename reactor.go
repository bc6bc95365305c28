// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"net"
	"os"
	"sync"
)

// Interest is a set of readiness directions.
type Interest uint8

const (
	// Readable means the descriptor can be read (or accepted) without blocking.
	Readable Interest = 1 << iota

	// Writable means the descriptor can be written (or a connect completed).
	Writable
)

// Reactor delivers readiness notifications for registered descriptors.
//
// A single reactor is meant to be shared by all the streams and listeners
// of a process and is passed explicitly through [Config]. Implementations
// call [*Readiness.Set] when the descriptor becomes ready and must report
// the current state of a descriptor at registration time (edge-triggered
// epoll does this by design).
type Reactor interface {
	// Register starts delivering readiness for fd to r.
	Register(fd int, r *Readiness) error

	// Deregister stops delivering readiness for fd.
	Deregister(fd int) error
}

// ReactorCloser is a [Reactor] owning OS resources.
type ReactorCloser interface {
	Reactor

	// Close stops the event loop and releases its resources.
	Close() error
}

// Readiness is the readiness state of a single registered descriptor.
//
// The reactor sets readiness bits and the I/O paths clear them after the
// OS reports EAGAIN. Each call to [*Readiness.Set] advances a tick, so a
// clear only takes effect when no newer notification arrived since the
// caller observed readiness. This prevents losing an edge that races with
// the EAGAIN result.
type Readiness struct {
	mu      sync.Mutex
	ready   Interest
	tick    uint64
	closed  error
	waiters [2]chan struct{}
}

// NewReadiness returns a [*Readiness] with no readiness bits set.
func NewReadiness() *Readiness {
	return &Readiness{}
}

// Set marks the given directions as ready and wakes their waiters.
func (r *Readiness) Set(ev Interest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready |= ev
	r.tick++
	for idx, dir := range [2]Interest{Readable, Writable} {
		if ev&dir != 0 && r.waiters[idx] != nil {
			close(r.waiters[idx])
			r.waiters[idx] = nil
		}
	}
}

// Ready returns the currently set readiness bits.
func (r *Readiness) Ready() Interest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// snapshot returns whether ev is ready together with the current tick.
func (r *Readiness) snapshot(ev Interest) (bool, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return false, r.tick, r.closed
	}
	return r.ready&ev != 0, r.tick, nil
}

// clearIf clears ev unless the reactor posted a notification after tick.
func (r *Readiness) clearIf(ev Interest, tick uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tick == tick {
		r.ready &^= ev
	}
}

// wait suspends until ev is ready, ctx is done, expired is closed, or
// the readiness is shut down. A single direction must be given.
func (r *Readiness) wait(ctx context.Context, ev Interest, expired <-chan struct{}) error {
	idx := 0
	if ev == Writable {
		idx = 1
	}
	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return err
	}
	if r.ready&ev != 0 {
		r.mu.Unlock()
		return nil
	}
	if r.waiters[idx] == nil {
		r.waiters[idx] = make(chan struct{})
	}
	ch := r.waiters[idx]
	r.mu.Unlock()

	select {
	case <-ch:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.closed
	case <-expired:
		return os.ErrDeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown wakes every waiter and makes subsequent operations fail
// with [net.ErrClosed].
func (r *Readiness) shutdown() {
	r.fail(net.ErrClosed)
}

// fail is like shutdown but operations fail with err. Only the
// first cause is kept.
func (r *Readiness) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = err
	}
	for idx := range r.waiters {
		if r.waiters[idx] != nil {
			close(r.waiters[idx])
			r.waiters[idx] = nil
		}
	}
}
