//go:build !unix && !windows

// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import "errors"

// These systems have no vsock support: the sentinels exist so that the
// accept policy and the stream code compile and never match an OS error.
var (
	errEAGAIN       = errors.New("vsock: resource temporarily unavailable")
	errEBADF        = errors.New("vsock: bad file descriptor")
	errECONNABORTED = errors.New("vsock: connection aborted")
	errECONNREFUSED = errors.New("vsock: connection refused")
	errECONNRESET   = errors.New("vsock: connection reset")
	errEINVAL       = errors.New("vsock: invalid argument")
	errENOTSOCK     = errors.New("vsock: not a socket")
)
