//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultSocketLayer returns the [SocketLayer] backed by AF_VSOCK sockets.
func DefaultSocketLayer() SocketLayer {
	return osSocketLayer{}
}

type osSocketLayer struct{}

// newSocketFD creates a non-blocking, close-on-exec AF_VSOCK stream socket.
func newSocketFD() (int, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// Connect implements [SocketLayer].
func (osSocketLayer) Connect(addr Addr) (Socket, error) {
	fd, err := newSocketFD()
	if err != nil {
		return nil, err
	}
	err = ignoringEINTR(func() error {
		return unix.Connect(fd, sockaddrVM(addr))
	})
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, os.NewSyscallError("connect", err)
	}
	return &osSocket{fd: fd}, nil
}

// Listen implements [SocketLayer].
func (osSocketLayer) Listen(addr Addr, backlog int) (ListenSocket, error) {
	fd, err := newSocketFD()
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sockaddrVM(addr)); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}
	return &osListenSocket{fd: fd}, nil
}

// osSocket is a [Socket] wrapping a raw descriptor.
type osSocket struct {
	fd int
}

var _ Socket = &osSocket{}

// Fd implements [Socket].
func (s *osSocket) Fd() int {
	return s.fd
}

// Readv implements [Socket].
func (s *osSocket) Readv(bufs [][]byte) (n int, err error) {
	err = ignoringEINTR(func() (err error) {
		n, err = unix.Readv(s.fd, bufs)
		return
	})
	if err != nil {
		return 0, wrapSyscallError("readv", err)
	}
	return n, nil
}

// Writev implements [Socket].
func (s *osSocket) Writev(bufs [][]byte) (n int, err error) {
	err = ignoringEINTR(func() (err error) {
		n, err = unix.Writev(s.fd, bufs)
		return
	})
	if err != nil {
		return 0, wrapSyscallError("writev", err)
	}
	return n, nil
}

// Shutdown implements [Socket].
func (s *osSocket) Shutdown(how ShutdownHow) error {
	var sysHow int
	switch how {
	case ShutdownRead:
		sysHow = unix.SHUT_RD
	case ShutdownWrite:
		sysHow = unix.SHUT_WR
	default:
		sysHow = unix.SHUT_RDWR
	}
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, sysHow))
}

// LocalAddr implements [Socket].
func (s *osSocket) LocalAddr() (Addr, error) {
	return localAddrFD(s.fd)
}

// PeerAddr implements [Socket].
func (s *osSocket) PeerAddr() (Addr, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return Addr{}, os.NewSyscallError("getpeername", err)
	}
	return addrFromSockaddr(sa)
}

// TakeError implements [Socket].
func (s *osSocket) TakeError() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if errno != 0 {
		return os.NewSyscallError("connect", syscall.Errno(errno))
	}
	return nil
}

// Close implements [Socket].
func (s *osSocket) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// osListenSocket is a [ListenSocket] wrapping a raw descriptor.
type osListenSocket struct {
	fd int
}

var _ ListenSocket = &osListenSocket{}

// Fd implements [ListenSocket].
func (s *osListenSocket) Fd() int {
	return s.fd
}

// Accept implements [ListenSocket].
func (s *osListenSocket) Accept() (Socket, Addr, error) {
	var (
		nfd int
		sa  unix.Sockaddr
	)
	err := ignoringEINTR(func() (err error) {
		nfd, sa, err = unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return
	})
	if err != nil {
		return nil, Addr{}, wrapSyscallError("accept4", err)
	}
	peer, err := addrFromSockaddr(sa)
	if err != nil {
		unix.Close(nfd)
		return nil, Addr{}, err
	}
	return &osSocket{fd: nfd}, peer, nil
}

// LocalAddr implements [ListenSocket].
func (s *osListenSocket) LocalAddr() (Addr, error) {
	return localAddrFD(s.fd)
}

// Close implements [ListenSocket].
func (s *osListenSocket) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

func localAddrFD(fd int) (Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Addr{}, os.NewSyscallError("getsockname", err)
	}
	return addrFromSockaddr(sa)
}

func sockaddrVM(addr Addr) *unix.SockaddrVM {
	return &unix.SockaddrVM{CID: addr.ContextID, Port: addr.Port}
}

func addrFromSockaddr(sa unix.Sockaddr) (Addr, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrVM:
		return Addr{ContextID: sa.CID, Port: sa.Port}, nil
	default:
		return Addr{}, fmt.Errorf("vsock: unexpected socket address type %T", sa)
	}
}

// wrapSyscallError wraps err unless it is EAGAIN, which callers
// compare against directly on the hot path.
func wrapSyscallError(name string, err error) error {
	if errors.Is(err, unix.EAGAIN) {
		return err
	}
	return os.NewSyscallError(name, err)
}

func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
