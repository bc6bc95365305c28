// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"errors"
	"iter"
	"net"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"github.com/bassosimone/runtimex"
)

// Listener accepts vsock streams.
//
// Construct using [Listen].
type Listener struct {
	sock      ListenSocket
	guard     fdGuard
	reactor   Reactor
	readiness *Readiness
	policy    *AcceptRetryPolicy
	address   string
	closed    atomic.Bool
	closeOnce sync.Once
	done      context.Context
	cancel    context.CancelFunc
}

var _ net.Listener = &Listener{}

// Listen binds addr, starts listening, and registers with [Config.Reactor].
//
// Use [CIDAny] to accept connections for any context id.
//
// The logger argument is the [SLogger] used by the [*AcceptRetryPolicy]
// applied by [*Listener.Accept] and [*Listener.Incoming].
func Listen(cfg *Config, addr Addr, logger SLogger) (*Listener, error) {
	runtimex.Assert(cfg.Reactor != nil)
	sock, err := cfg.Sockets.Listen(addr, listenBacklog)
	if err != nil {
		return nil, err
	}
	readiness := NewReadiness()
	if err := cfg.Reactor.Register(sock.Fd(), readiness); err != nil {
		sock.Close()
		return nil, err
	}
	address := addr.String()
	if local, err := sock.LocalAddr(); err == nil {
		address = local.String()
	}
	done, cancel := context.WithCancel(context.Background())
	l := &Listener{
		sock:      sock,
		reactor:   cfg.Reactor,
		readiness: readiness,
		policy:    NewAcceptRetryPolicy(cfg, logger),
		address:   address,
		done:      done,
		cancel:    cancel,
	}
	return l, nil
}

// Policy returns the [*AcceptRetryPolicy] used by the listener.
//
// Fields may be modified before the first accept.
func (l *Listener) Policy() *AcceptRetryPolicy {
	return l.policy
}

// PollAccept accepts one pending connection without blocking.
//
// It returns [iox.ErrWouldBlock] while the listener is not read-ready. The
// accepted stream is registered with the listener's reactor. Accept errors
// are returned untouched: no retry policy is applied here.
func (l *Listener) PollAccept() (*Stream, Addr, error) {
	ready, tick, err := l.readiness.snapshot(Readable)
	if err != nil {
		return nil, Addr{}, err
	}
	if !ready {
		return nil, Addr{}, iox.ErrWouldBlock
	}
	sock, peer, err := l.accept()
	if isEAGAIN(err) {
		l.readiness.clearIf(Readable, tick)
		return nil, Addr{}, iox.ErrWouldBlock
	}
	if err != nil {
		return nil, Addr{}, err
	}
	stream, err := newStream(l.reactor, sock)
	if err != nil {
		return nil, Addr{}, err
	}
	return stream, peer, nil
}

// AcceptStream waits for and accepts one connection.
//
// Errors are returned untouched, which lets hosting loops apply their own
// policy, for example using [IsTransientAcceptError].
func (l *Listener) AcceptStream(ctx context.Context) (*Stream, Addr, error) {
	for {
		stream, peer, err := l.PollAccept()
		if !iox.IsWouldBlock(err) {
			return stream, peer, err
		}
		if err := l.readiness.wait(ctx, Readable, nil); err != nil {
			return nil, Addr{}, err
		}
	}
}

// Accept implements [net.Listener].
//
// It applies the [*AcceptRetryPolicy]: transient errors are skipped, other
// recoverable errors cause a pause, and only a terminal error is returned.
// After [*Listener.Close], Accept returns [net.ErrClosed].
func (l *Listener) Accept() (net.Conn, error) {
	stream, _, err := l.acceptWithPolicy(context.Background())
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Accepted is a connection accepted by [*Listener.IncomingPeers].
type Accepted struct {
	// Stream is the accepted stream, owned by the receiver.
	Stream *Stream

	// Peer is the address reported by the OS when accepting.
	Peer Addr
}

// Incoming returns the sequence of accepted streams.
//
// The sequence never yields errors that the [*AcceptRetryPolicy] skips or
// retries. A terminal error, including ctx being done and the listener
// being closed, is yielded once as (nil, err) and ends the sequence.
//
// The sequence may be traversed only once; ranging over it again panics.
// Use [*Listener.IncomingPeers] to also obtain the peer address.
func (l *Listener) Incoming(ctx context.Context) iter.Seq2[*Stream, error] {
	peers := l.IncomingPeers(ctx)
	return func(yield func(*Stream, error) bool) {
		for accepted, err := range peers {
			if !yield(accepted.Stream, err) {
				return
			}
		}
	}
}

// IncomingPeers is like [*Listener.Incoming] but yields each stream
// together with the peer address returned by the accept call.
//
// A terminal error is yielded once as a zero [Accepted] and the error.
func (l *Listener) IncomingPeers(ctx context.Context) iter.Seq2[Accepted, error] {
	var used atomic.Bool
	return func(yield func(Accepted, error) bool) {
		if !used.CompareAndSwap(false, true) {
			panic("vsock: Incoming sequence traversed more than once")
		}
		for {
			stream, peer, err := l.acceptWithPolicy(ctx)
			if err != nil {
				yield(Accepted{}, err)
				return
			}
			if !yield(Accepted{Stream: stream, Peer: peer}, nil) {
				return
			}
		}
	}
}

func (l *Listener) acceptWithPolicy(ctx context.Context) (*Stream, Addr, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.done, cancel)
	defer stop()

	for {
		stream, peer, err := l.AcceptStream(ctx)
		if err == nil {
			return stream, peer, nil
		}
		if err = l.policy.Handle(ctx, l.address, err); err != nil {
			if l.closed.Load() {
				return nil, Addr{}, net.ErrClosed
			}
			return nil, Addr{}, err
		}
	}
}

// Addr implements [net.Listener].
//
// The zero [Addr] is returned when the address cannot be determined.
func (l *Listener) Addr() net.Addr {
	addr, _ := l.VsockLocalAddr()
	return addr
}

// VsockLocalAddr returns the address the listener is bound to.
func (l *Listener) VsockLocalAddr() (Addr, error) {
	if l.closed.Load() {
		return Addr{}, net.ErrClosed
	}
	if err := l.guard.acquire(); err != nil {
		return Addr{}, err
	}
	defer l.guard.release()
	return l.sock.LocalAddr()
}

// Close implements [net.Listener].
//
// Pending accepts return [net.ErrClosed]. The descriptor is released once
// the OS calls already in flight have returned. Subsequent calls also
// return [net.ErrClosed].
func (l *Listener) Close() (err error) {
	err = net.ErrClosed
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		l.readiness.shutdown()
		derr := l.reactor.Deregister(l.sock.Fd())
		l.guard.shutdown()
		err = errors.Join(derr, l.sock.Close())
	})
	return
}

func (l *Listener) accept() (Socket, Addr, error) {
	if err := l.guard.acquire(); err != nil {
		return nil, Addr{}, err
	}
	defer l.guard.release()
	return l.sock.Accept()
}
