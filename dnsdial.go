// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"net"
)

// dnsUnusedDialer is handed to DNS transports that only ever use an
// existing connection. Dialing through it is a programming error.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("vsock: DNS transport attempted to dial " + network + "/" + address)
}
