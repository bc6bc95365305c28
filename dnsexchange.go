// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/safeconn"
)

// dnsExchangeLog emits the events of a single DNS exchange.
//
// Both DNS adapters share it so that a vsock exchange and an HTTP
// exchange produce the same event names with a different serverProtocol.
type dnsExchangeLog struct {
	endpoint []any
	errClass ErrClassifier
	logger   SLogger
	rawQuery []byte
	t0       time.Time
	timeNow  func() time.Time
}

// newDNSExchangeLog captures the endpoint of conn and the start time.
func newDNSExchangeLog(conn net.Conn, serverProtocol string,
	errClass ErrClassifier, logger SLogger, timeNow func() time.Time) *dnsExchangeLog {
	return &dnsExchangeLog{
		endpoint: []any{
			slog.String("localAddr", safeconn.LocalAddr(conn)),
			slog.String("protocol", safeconn.Network(conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
			slog.String("serverProtocol", serverProtocol),
		},
		errClass: errClass,
		logger:   logger,
		t0:       timeNow(),
		timeNow:  timeNow,
	}
}

func (lx *dnsExchangeLog) with(attrs ...any) []any {
	out := make([]any, 0, len(lx.endpoint)+len(attrs))
	out = append(out, lx.endpoint...)
	return append(out, attrs...)
}

func (lx *dnsExchangeLog) start(deadline time.Time) {
	lx.logger.Info("dnsExchangeStart", lx.with(
		slog.Time("deadline", deadline),
		slog.Time("t", lx.t0),
	)...)
}

func (lx *dnsExchangeLog) done(deadline time.Time, err error) {
	lx.logger.Info("dnsExchangeDone", lx.with(
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lx.errClass.Classify(err)),
		slog.Time("t0", lx.t0),
		slog.Time("t", lx.timeNow()),
	)...)
}

// observeQuery logs the raw query and remembers it for observeResponse.
func (lx *dnsExchangeLog) observeQuery(rawQuery []byte) {
	lx.rawQuery = rawQuery
	lx.logger.Info("dnsQuery", lx.with(
		slog.Any("dnsRawQuery", rawQuery),
		slog.Time("t", lx.t0),
	)...)
}

// observeResponse logs the raw response next to the raw query.
func (lx *dnsExchangeLog) observeResponse(rawResp []byte) {
	lx.logger.Info("dnsResponse", lx.with(
		slog.Any("dnsRawQuery", lx.rawQuery),
		slog.Any("dnsRawResponse", rawResp),
		slog.Time("t0", lx.t0),
		slog.Time("t", lx.timeNow()),
	)...)
}
