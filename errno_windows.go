//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/windows.go
//

package vsock

import "golang.org/x/sys/windows"

const (
	errEAGAIN       = windows.WSAEWOULDBLOCK
	errEBADF        = windows.ERROR_INVALID_HANDLE
	errECONNABORTED = windows.WSAECONNABORTED
	errECONNREFUSED = windows.WSAECONNREFUSED
	errECONNRESET   = windows.WSAECONNRESET
	errEINVAL       = windows.WSAEINVAL
	errENOTSOCK     = windows.WSAENOTSOCK
)
