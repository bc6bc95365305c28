// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

// ShutdownHow selects the direction(s) closed by [*Stream.Shutdown].
type ShutdownHow int

const (
	// ShutdownRead disallows further receptions.
	ShutdownRead ShutdownHow = iota

	// ShutdownWrite disallows further transmissions.
	ShutdownWrite

	// ShutdownBoth disallows further receptions and transmissions.
	ShutdownBoth
)

// Maximum number of buffers moved by a single vectored OS call.
const (
	maxReadBufs  = 16
	maxWriteBufs = 64
)

// listenBacklog is the backlog passed to listen(2).
const listenBacklog = 128

// Socket is a connected, non-blocking stream descriptor.
//
// Methods perform exactly one OS operation (retrying only on EINTR)
// and return OS errors untouched, including EAGAIN.
type Socket interface {
	// Fd returns the descriptor to register with a [Reactor].
	Fd() int

	// Readv reads into bufs with a single vectored call.
	Readv(bufs [][]byte) (int, error)

	// Writev writes bufs with a single vectored call.
	Writev(bufs [][]byte) (int, error)

	// Shutdown shuts down the given direction(s).
	Shutdown(how ShutdownHow) error

	// LocalAddr returns the address the socket is bound to.
	LocalAddr() (Addr, error)

	// PeerAddr returns the address of the connected peer.
	PeerAddr() (Addr, error)

	// TakeError returns and clears the pending socket error (SO_ERROR).
	TakeError() error

	// Close releases the descriptor.
	Close() error
}

// ListenSocket is a bound, listening, non-blocking descriptor.
type ListenSocket interface {
	// Fd returns the descriptor to register with a [Reactor].
	Fd() int

	// Accept accepts one pending connection as a non-blocking [Socket].
	Accept() (Socket, Addr, error)

	// LocalAddr returns the address the socket is bound to.
	LocalAddr() (Addr, error)

	// Close releases the descriptor.
	Close() error
}

// SocketLayer creates vsock descriptors.
//
// The [DefaultSocketLayer] uses the operating system. Tests and alternative
// transports may provide their own implementation via [Config.Sockets].
type SocketLayer interface {
	// Connect creates a socket and starts a non-blocking connect to addr.
	//
	// A connect still in progress is not an error: the caller waits for
	// write readiness and then inspects [Socket.TakeError].
	Connect(addr Addr) (Socket, error)

	// Listen creates a socket bound to addr and listening with the given backlog.
	Listen(addr Addr, backlog int) (ListenSocket, error)
}
