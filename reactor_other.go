//go:build !linux

// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"errors"
	"fmt"
)

// NewReactor returns an error on platforms without epoll support.
func NewReactor() (ReactorCloser, error) {
	return nil, fmt.Errorf("vsock: reactor: %w", errors.ErrUnsupported)
}
