// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"net"
)

// ConnectInfo describes an accepted or dialed connection for hosting
// frameworks that expose per-connection metadata to handlers.
type ConnectInfo struct {
	peer    Addr
	hasPeer bool
}

// PeerAddr returns the peer address, if it was known.
func (ci ConnectInfo) PeerAddr() (Addr, bool) {
	return ci.peer, ci.hasPeer
}

// ConnectInfo returns the [ConnectInfo] of the stream.
func (s *Stream) ConnectInfo() ConnectInfo {
	peer, err := s.PeerAddr()
	return ConnectInfo{peer: peer, hasPeer: err == nil}
}

type connectInfoKey struct{}

// WithConnectInfo returns a context carrying the [ConnectInfo] of conn.
//
// Its signature matches [net/http.Server.ConnContext]. Wrapped connections
// work as long as their RemoteAddr is an [Addr]. Any other connection
// produces a [ConnectInfo] without a peer address.
func WithConnectInfo(ctx context.Context, conn net.Conn) context.Context {
	var info ConnectInfo
	switch c := conn.(type) {
	case *Stream:
		info = c.ConnectInfo()
	default:
		info.peer, info.hasPeer = conn.RemoteAddr().(Addr)
	}
	return context.WithValue(ctx, connectInfoKey{}, info)
}

// ConnectInfoFromContext returns the [ConnectInfo] stored by [WithConnectInfo].
func ConnectInfoFromContext(ctx context.Context) (ConnectInfo, bool) {
	info, ok := ctx.Value(connectInfoKey{}).(ConnectInfo)
	return info, ok
}
