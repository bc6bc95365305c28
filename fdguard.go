// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"net"
	"sync"
)

// fdGuard counts the OS calls in flight on a descriptor so that the
// descriptor is released only once they have all returned.
//
// The zero value is ready to use.
type fdGuard struct {
	mu      sync.Mutex
	refs    int
	closing bool
	idle    chan struct{}
}

// acquire marks the start of an OS call. It returns [net.ErrClosed]
// once shutdown has been called.
func (g *fdGuard) acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return net.ErrClosed
	}
	g.refs++
	return nil
}

// release marks the end of an OS call started with acquire.
func (g *fdGuard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs--
	if g.closing && g.refs == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

// shutdown rejects further acquires and waits for in-flight calls to return.
func (g *fdGuard) shutdown() {
	g.mu.Lock()
	g.closing = true
	if g.refs == 0 {
		g.mu.Unlock()
		return
	}
	idle := make(chan struct{})
	g.idle = idle
	g.mu.Unlock()
	<-idle
}
