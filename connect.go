//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package vsock

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"code.hybscloud.com/iox"
	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// connectState is the state of a [*Connecting].
type connectState int

const (
	// connectWaiting means the connect is in progress.
	connectWaiting connectState = iota

	// connectFailed means the connect syscall failed before waiting.
	connectFailed

	// connectConsumed means the result was already returned.
	connectConsumed
)

// Connecting is an in-progress non-blocking connect.
//
// Construct using [StartConnect]. The state only moves forward: once
// [*Connecting.Poll] returned a stream or an error, polling again is a
// programming error and panics.
type Connecting struct {
	state  connectState
	stream *Stream
	err    error
}

// StartConnect issues a non-blocking connect to addr.
//
// Errors creating or registering the socket are reported by the first
// call to [*Connecting.Poll].
func StartConnect(cfg *Config, addr Addr) *Connecting {
	runtimex.Assert(cfg.Reactor != nil)
	sock, err := cfg.Sockets.Connect(addr)
	if err != nil {
		return &Connecting{state: connectFailed, err: err}
	}
	stream, err := newStream(cfg.Reactor, sock)
	if err != nil {
		return &Connecting{state: connectFailed, err: err}
	}
	return &Connecting{state: connectWaiting, stream: stream}
}

// Poll advances the connect without blocking.
//
// It returns [iox.ErrWouldBlock] until the socket becomes writable. Then it
// checks the deferred connect error (SO_ERROR) and returns either the
// connected [*Stream] or that error.
//
// Poll panics when called after it already returned a stream or an error.
func (c *Connecting) Poll() (*Stream, error) {
	switch c.state {
	case connectFailed:
		c.state = connectConsumed
		err := c.err
		c.err = nil
		return nil, err

	case connectWaiting:
		ready, _, err := c.stream.readiness.snapshot(Writable)
		if err != nil {
			c.state = connectConsumed
			c.stream = nil
			return nil, err
		}
		if !ready {
			return nil, iox.ErrWouldBlock
		}
		stream := c.stream
		c.stream = nil
		c.state = connectConsumed
		if err := stream.takeError(); err != nil {
			stream.Close()
			return nil, err
		}
		return stream, nil

	default:
		panic("vsock: Connecting polled after completion")
	}
}

// Wait drives [*Connecting.Poll] until the connect completes or ctx is done.
//
// When ctx is done first, the attempt is abandoned, the descriptor is
// released, and the context error is returned.
func (c *Connecting) Wait(ctx context.Context) (*Stream, error) {
	for {
		stream, err := c.Poll()
		if !iox.IsWouldBlock(err) {
			return stream, err
		}
		if err := c.stream.readiness.wait(ctx, Writable, nil); err != nil {
			c.Close()
			return nil, err
		}
	}
}

// Close abandons a connect still in progress and releases its descriptor.
//
// Close is a no-op once [*Connecting.Poll] returned a result.
func (c *Connecting) Close() error {
	if c.state != connectWaiting {
		return nil
	}
	c.state = connectConsumed
	stream := c.stream
	c.stream = nil
	return stream.Close()
}

// Dialer abstracts the [*VsockDialer] behavior.
//
// By making [*ConnectFunc] depend on an abstract implementation we
// allow for unit testing and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer returns a [*VsockDialer] using the given [*Config].
func NewDialer(cfg *Config) *VsockDialer {
	return &VsockDialer{Config: cfg}
}

// VsockDialer dials vsock streams using string addresses.
//
// Its DialContext method has the shape expected by [net/http.Transport]
// and similar libraries.
type VsockDialer struct {
	// Config provides the reactor and the socket layer.
	//
	// Set by [NewDialer] to the user-provided value.
	Config *Config
}

var _ Dialer = &VsockDialer{}

// DialContext implements [Dialer].
//
// The network must be [Network] and the address must be in the format
// accepted by [ParseAddr]. Malformed input fails with an error wrapping
// [ErrInvalidInput] before any socket is created.
func (d *VsockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != Network {
		return nil, fmt.Errorf("%w: unsupported network %q", ErrInvalidInput, network)
	}
	addr, err := ParseAddr(address)
	if err != nil {
		return nil, err
	}
	stream, err := Dial(ctx, d.Config, addr)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// NewConnectFunc returns a new [*ConnectFunc] using [Config.Dialer].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectFunc(cfg *Config, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc dials an [Addr] and logs the operation.
//
// Returns either a valid [net.Conn] or an error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[Addr, net.Conn] = &ConnectFunc{}

// Call invokes the [*ConnectFunc] to connect to the given [Addr].
func (op *ConnectFunc) Call(ctx context.Context, address Addr) (net.Conn, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logConnectStart(address.String(), t0, deadline)
	conn, err := op.Dialer.DialContext(ctx, Network, address.String())
	op.logConnectDone(address.String(), t0, deadline, conn, err)
	return conn, err
}

func (op *ConnectFunc) logConnectStart(address string, t0 time.Time, deadline time.Time) {
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", Network),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)
}

func (op *ConnectFunc) logConnectDone(
	address string, t0 time.Time, deadline time.Time, conn net.Conn, err error) {
	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", Network),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
