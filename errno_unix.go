//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/unix.go
//

package vsock

import "golang.org/x/sys/unix"

const (
	errEAGAIN       = unix.EAGAIN
	errEBADF        = unix.EBADF
	errECONNABORTED = unix.ECONNABORTED
	errECONNREFUSED = unix.ECONNREFUSED
	errECONNRESET   = unix.ECONNRESET
	errEINVAL       = unix.EINVAL
	errENOTSOCK     = unix.ENOTSOCK
)
