//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/httpslog/httpslog.go
//

package vsock

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// HTTPProtocol selects the HTTP version spoken by an [*HTTPConn].
type HTTPProtocol string

const (
	// HTTPProtocolHTTP1 is HTTP/1.1.
	HTTPProtocolHTTP1 = HTTPProtocol("http/1.1")

	// HTTPProtocolH2C is cleartext HTTP/2 with prior knowledge, as used
	// by gRPC services exposed over vsock.
	HTTPProtocolH2C = HTTPProtocol("h2c")
)

// HTTPConn is an [http.RoundTripper] bound to a single connection.
//
// Requests may use "vsock://<cid>:<port>/path" URLs: the scheme is
// rewritten to "http" on the wire and the request always travels over
// the bound connection, regardless of the URL host.
//
// Each round trip emits httpRoundTripStart/httpRoundTripDone events and the
// response body emits httpBodyStreamStart/httpBodyStreamDone events.
//
// The caller is responsible for calling [*HTTPConn.Close] when done.
//
// Construct using [NewHTTPConnFunc].
type HTTPConn struct {
	conn          net.Conn
	txp           http.RoundTripper
	closeIdleFunc func()

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	Logger SLogger

	// Protocol is the HTTP version in use.
	Protocol HTTPProtocol

	// TimeNow is the function to get the current time (configurable for testing).
	TimeNow func() time.Time
}

var _ http.RoundTripper = &HTTPConn{}

// RoundTrip implements [http.RoundTripper].
func (hc *HTTPConn) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == URIScheme {
		orig := req
		req = orig.Clone(orig.Context())
		req.URL.Scheme = "http"
	}

	endpoint := hc.endpoint()
	t0 := hc.TimeNow()
	deadline, _ := req.Context().Deadline()
	hc.Logger.Info("httpRoundTripStart", append(endpoint,
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Time("t", t0),
	)...)

	resp, err := hc.txp.RoundTrip(req)

	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	hc.Logger.Info("httpRoundTripDone", append(endpoint,
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", hc.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.Time("t0", t0),
		slog.Time("t", hc.TimeNow()),
	)...)

	if err != nil {
		return nil, err
	}
	resp.Body = httpBodyWrap(resp.Body, hc.ErrClassifier, endpoint, hc.Logger, hc.TimeNow)
	return resp, nil
}

// endpoint returns a fresh slice of the connection attributes.
func (hc *HTTPConn) endpoint() []any {
	return []any{
		slog.String("httpProtocol", string(hc.Protocol)),
		slog.String("localAddr", safeconn.LocalAddr(hc.conn)),
		slog.String("protocol", safeconn.Network(hc.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(hc.conn)),
	}
}

// Close releases the transport and closes the underlying connection.
func (hc *HTTPConn) Close() error {
	hc.closeIdleFunc()
	return hc.conn.Close()
}

// Conn returns the underlying [net.Conn].
func (hc *HTTPConn) Conn() net.Conn {
	return hc.conn
}

// NewHTTPConnFunc returns a new [*HTTPConnFunc] speaking [HTTPProtocolHTTP1].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPConnFunc(cfg *Config, logger SLogger) *HTTPConnFunc {
	return &HTTPConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Protocol:      HTTPProtocolHTTP1,
		TimeNow:       cfg.TimeNow,
	}
}

// HTTPConnFunc wraps a connection into an [*HTTPConn].
//
// The connection is used exactly once: the transport dials it through
// a single-use dialer and never reconnects.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type HTTPConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewHTTPConnFunc] to the user-provided logger.
	Logger SLogger

	// Protocol selects HTTP/1.1 or cleartext HTTP/2.
	//
	// Set by [NewHTTPConnFunc] to [HTTPProtocolHTTP1].
	Protocol HTTPProtocol

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewHTTPConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, *HTTPConn] = &HTTPConnFunc{}

// Call implements [Func].
func (op *HTTPConnFunc) Call(ctx context.Context, conn net.Conn) (*HTTPConn, error) {
	dialer := sud.NewSingleUseDialer(conn)

	var (
		txp           http.RoundTripper
		closeIdleFunc func()
	)
	switch op.Protocol {
	case HTTPProtocolH2C:
		h2txp := &http2.Transport{
			AllowHTTP:      true,
			DialTLSContext: dialer.DialTLSContext,
		}
		txp, closeIdleFunc = h2txp, h2txp.CloseIdleConnections

	default:
		h1txp := &http.Transport{
			DialContext:       dialer.DialContext,
			DisableKeepAlives: true,
		}
		txp, closeIdleFunc = h1txp, h1txp.CloseIdleConnections
	}

	hc := &HTTPConn{
		conn:          conn,
		txp:           txp,
		closeIdleFunc: closeIdleFunc,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		Protocol:      op.Protocol,
		TimeNow:       op.TimeNow,
	}
	return hc, nil
}
