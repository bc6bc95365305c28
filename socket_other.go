//go:build !linux

// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"errors"
	"fmt"
)

// DefaultSocketLayer returns a [SocketLayer] failing with
// [errors.ErrUnsupported] on platforms without AF_VSOCK.
func DefaultSocketLayer() SocketLayer {
	return unsupportedSocketLayer{}
}

type unsupportedSocketLayer struct{}

// Connect implements [SocketLayer].
func (unsupportedSocketLayer) Connect(addr Addr) (Socket, error) {
	return nil, fmt.Errorf("vsock: connect %s: %w", addr, errors.ErrUnsupported)
}

// Listen implements [SocketLayer].
func (unsupportedSocketLayer) Listen(addr Addr, backlog int) (ListenSocket, error) {
	return nil, fmt.Errorf("vsock: listen %s: %w", addr, errors.ErrUnsupported)
}
