// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"net"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc closes the connection as soon as the context is done.
//
// Closing a [*Stream] wakes every goroutine suspended on its readiness, so
// a pending Read or Write returns [net.ErrClosed] right away instead of
// waiting for a deadline. This is the way to bind a connection to a
// signal-aware context (e.g., [signal.NotifyContext]) in CLI tools.
//
// Closing the returned connection stops the watcher and closes the wrapped
// connection, so no goroutine outlives the connection. When the wrapped
// connection supports half-close, so does the returned one.
//
// Do not use it when the connection may outlive the context, for example
// when handing connections over to a pool.
type CancelWatchFunc struct{}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call implements [Func].
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}, nil
}

// halfCloser is implemented by connections supporting half-close,
// including [*Stream].
type halfCloser interface {
	CloseWrite() error
}

// cancelWatchedConn wraps a [net.Conn] with a context cancellation watcher.
type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close stops the watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// CloseWrite shuts down the write direction of the underlying connection.
func (c *cancelWatchedConn) CloseWrite() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return net.ErrClosed
}
