// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverhttps"
)

// DNSOverHTTPConn exchanges DNS messages as "application/dns-message"
// HTTP requests carried by an [*HTTPConn].
//
// The URL usually has the "vsock://<cid>:<port>/dns-query" form.
//
// This type owns the [*HTTPConn] and the caller must call
// [*DNSOverHTTPConn.Close] when done.
//
// Construct via [*DNSOverHTTPConnFunc].
type DNSOverHTTPConn struct {
	httpConn *HTTPConn
	url      string

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// Close closes the underlying [*HTTPConn].
func (c *DNSOverHTTPConn) Close() error {
	return c.httpConn.Close()
}

// HTTPConn returns the underlying [*HTTPConn].
func (c *DNSOverHTTPConn) HTTPConn() *HTTPConn {
	return c.httpConn
}

// URL returns the endpoint URL queries are sent to.
func (c *DNSOverHTTPConn) URL() string {
	return c.url
}

// Exchange sends query and returns the matching response.
//
// HTTP/1.1 connections serve a single exchange. With [HTTPProtocolH2C]
// the same connection serves many.
func (c *DNSOverHTTPConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	lx := newDNSExchangeLog(c.httpConn.Conn(), "http", c.ErrClassifier, c.Logger, c.TimeNow)
	deadline, _ := ctx.Deadline()
	lx.start(deadline)

	req, queryMsg, err := dnsoverhttps.NewRequestWithHook(ctx, query, c.url, lx.observeQuery)
	if err != nil {
		lx.done(deadline, err)
		return nil, err
	}

	httpResp, err := c.httpConn.RoundTrip(req)
	if err != nil {
		lx.done(deadline, err)
		return nil, err
	}

	resp, err := dnsoverhttps.ReadResponseWithHook(ctx, httpResp, queryMsg, lx.observeResponse)
	lx.done(deadline, err)
	return resp, err
}

// NewDNSOverHTTPConnFunc returns a new [*DNSOverHTTPConnFunc] sending
// queries to url.
func NewDNSOverHTTPConnFunc(cfg *Config, url string, logger SLogger) *DNSOverHTTPConnFunc {
	return &DNSOverHTTPConnFunc{
		URL:           url,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// DNSOverHTTPConnFunc wraps an [*HTTPConn] into a [*DNSOverHTTPConn].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type DNSOverHTTPConnFunc struct {
	// URL is the endpoint URL (e.g., "vsock://2:8053/dns-query").
	URL string

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[*HTTPConn, *DNSOverHTTPConn] = &DNSOverHTTPConnFunc{}

// Call implements [Func].
func (op *DNSOverHTTPConnFunc) Call(ctx context.Context, httpConn *HTTPConn) (*DNSOverHTTPConn, error) {
	return &DNSOverHTTPConn{
		httpConn:      httpConn,
		url:           op.URL,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}, nil
}
