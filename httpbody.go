// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// httpBodyWrap wraps a response body so that httpBodyStreamStart is logged
// on the first Read and httpBodyStreamDone on Close, the latter only when
// at least one Read happened.
func httpBodyWrap(body io.ReadCloser, errClass ErrClassifier,
	endpoint []any, logger SLogger, timeNow func() time.Time) io.ReadCloser {
	return &httpBody{
		body:     body,
		endpoint: endpoint,
		errClass: errClass,
		logger:   logger,
		timeNow:  timeNow,
	}
}

type httpBody struct {
	body      io.ReadCloser
	closeOnce sync.Once
	didRead   atomic.Bool
	endpoint  []any
	errClass  ErrClassifier
	logger    SLogger
	readOnce  sync.Once
	t0        time.Time
	timeNow   func() time.Time
}

var _ io.ReadCloser = &httpBody{}

// Read implements [io.ReadCloser].
func (b *httpBody) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.timeNow()
		b.didRead.Store(true) // publishes t0 to Close
		b.logger.Info("httpBodyStreamStart", append(b.endpoint[:len(b.endpoint):len(b.endpoint)],
			slog.Time("t", b.t0))...)
	})
	return b.body.Read(buffer)
}

// Close implements [io.ReadCloser].
func (b *httpBody) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if !b.didRead.Load() {
			return
		}
		b.logger.Info("httpBodyStreamDone", append(b.endpoint[:len(b.endpoint):len(b.endpoint)],
			slog.Any("err", err),
			slog.String("errClass", b.errClass.Classify(err)),
			slog.Time("t0", b.t0),
			slog.Time("t", b.timeNow()),
		)...)
	})
	return
}
