// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverstream"
)

// DNSOverVsockConn exchanges DNS messages over a vsock connection using
// the two-byte length prefix framing of DNS over TCP.
//
// A typical use is a guest without a network stack forwarding its DNS
// queries to a resolver proxy listening on the host.
//
// The caller owns the connection and must call [*DNSOverVsockConn.Close].
//
// Construct via [*DNSOverVsockConnFunc].
type DNSOverVsockConn struct {
	conn net.Conn

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// Close closes the underlying connection.
func (c *DNSOverVsockConn) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying [net.Conn].
func (c *DNSOverVsockConn) Conn() net.Conn {
	return c.conn
}

// Exchange sends query and returns the matching response.
//
// It may be called several times on the same connection, one call at a time.
func (c *DNSOverVsockConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	lx := newDNSExchangeLog(c.conn, "vsock", c.ErrClassifier, c.Logger, c.TimeNow)
	deadline, _ := ctx.Deadline()

	// The connection already exists, so the transport must never dial.
	// The server address is a placeholder for the same reason.
	streamDialer := dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{})
	txp := dnsoverstream.NewTransport(streamDialer, netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	txp.ObserveRawQuery = lx.observeQuery
	txp.ObserveRawResponse = lx.observeResponse

	lx.start(deadline)
	resp, err := txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(c.conn), query)
	lx.done(deadline, err)
	return resp, err
}

// NewDNSOverVsockConnFunc returns a new [*DNSOverVsockConnFunc].
func NewDNSOverVsockConnFunc(cfg *Config, logger SLogger) *DNSOverVsockConnFunc {
	return &DNSOverVsockConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSOverVsockConnFunc wraps a [net.Conn] into a [*DNSOverVsockConn].
//
// All fields are safe to modify after construction but before first use.
type DNSOverVsockConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[net.Conn, *DNSOverVsockConn] = &DNSOverVsockConnFunc{}

// Call implements [Func].
func (op *DNSOverVsockConnFunc) Call(ctx context.Context, conn net.Conn) (*DNSOverVsockConn, error) {
	return &DNSOverVsockConn{
		conn:          conn,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}, nil
}
