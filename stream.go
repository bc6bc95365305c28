// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
)

// Stream is a connected vsock stream driven by a [Reactor].
//
// Construct using [Dial], [*Connecting.Wait], or a [*Listener].
//
// A Stream offers two I/O paths:
//
//   - the poll path ([*Stream.PollRead], [*Stream.PollWrite] and their
//     vectored variants) never blocks and returns [iox.ErrWouldBlock]
//     while the reactor reports the descriptor as not ready;
//
//   - the direct path ([*Stream.ReadDirect], [*Stream.WriteDirect]) issues
//     the OS call unconditionally and returns EAGAIN verbatim.
//
// The [net.Conn] methods Read and Write are built on the poll path and
// suspend the calling goroutine until the reactor posts readiness.
//
// Mixing the direct path with the poll path concurrently from different
// goroutines is not supported and its behavior is undefined.
//
// Read and write directions are independent: one goroutine may read while
// another writes. See also [*Stream.Split] and [*Stream.SplitOwned].
type Stream struct {
	sock      Socket
	guard     fdGuard
	reactor   Reactor
	readiness *Readiness
	rdeadline deadline
	wdeadline deadline
	readLent  atomic.Bool
	writeLent atomic.Bool
	writeShut atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ net.Conn = &Stream{}

// newStream registers sock with reactor and returns the owning [*Stream].
//
// On failure, sock is closed.
func newStream(reactor Reactor, sock Socket) (*Stream, error) {
	readiness := NewReadiness()
	if err := reactor.Register(sock.Fd(), readiness); err != nil {
		sock.Close()
		return nil, err
	}
	s := &Stream{
		sock:      sock,
		reactor:   reactor,
		readiness: readiness,
		rdeadline: makeDeadline(),
		wdeadline: makeDeadline(),
	}
	return s, nil
}

// Dial connects to addr using cfg and waits for the connection to complete.
//
// This is equivalent to [StartConnect] followed by [*Connecting.Wait].
func Dial(ctx context.Context, cfg *Config, addr Addr) (*Stream, error) {
	return StartConnect(cfg, addr).Wait(ctx)
}

// PollRead is like [*Stream.PollReadv] with a single buffer.
func (s *Stream) PollRead(p []byte) (int, error) {
	return s.PollReadv([][]byte{p})
}

// PollReadv reads into up to 16 non-empty buffers with a single OS call.
//
// It returns [iox.ErrWouldBlock] when the descriptor is not read-ready. When
// the OS reports EAGAIN despite readiness, the readiness flag is cleared so
// that the next notification is awaited. A zero-byte read into non-empty
// buffers returns [io.EOF]. Empty buffers complete immediately with zero.
func (s *Stream) PollReadv(bufs [][]byte) (int, error) {
	iovs := compactBuffers(bufs, maxReadBufs)
	if len(iovs) == 0 {
		return 0, nil
	}
	ready, tick, err := s.readiness.snapshot(Readable)
	if err != nil {
		return 0, err
	}
	if !ready {
		return 0, iox.ErrWouldBlock
	}
	n, err := s.readv(iovs)
	switch {
	case isEAGAIN(err):
		s.readiness.clearIf(Readable, tick)
		return 0, iox.ErrWouldBlock
	case err != nil:
		return 0, err
	case n == 0:
		return 0, io.EOF
	default:
		return n, nil
	}
}

// PollWrite is like [*Stream.PollWritev] with a single buffer.
func (s *Stream) PollWrite(p []byte) (int, error) {
	return s.PollWritev([][]byte{p})
}

// PollWritev writes up to 64 non-empty buffers with a single OS call.
//
// It returns [iox.ErrWouldBlock] when the descriptor is not write-ready. When
// the OS reports EAGAIN despite readiness, the readiness flag is cleared so
// that the next notification is awaited. The returned count may be short.
func (s *Stream) PollWritev(bufs [][]byte) (int, error) {
	iovs := compactBuffers(bufs, maxWriteBufs)
	if len(iovs) == 0 {
		return 0, nil
	}
	ready, tick, err := s.readiness.snapshot(Writable)
	if err != nil {
		return 0, err
	}
	if !ready {
		return 0, iox.ErrWouldBlock
	}
	n, err := s.writev(iovs)
	switch {
	case isEAGAIN(err):
		s.readiness.clearIf(Writable, tick)
		return 0, iox.ErrWouldBlock
	case err != nil:
		return 0, err
	default:
		return n, nil
	}
}

// ReadDirect reads into p with a single OS call regardless of readiness.
//
// EAGAIN is returned verbatim. This exists for callers that manage
// readiness themselves; goroutines using the poll path or [*Stream.Read]
// must not use it concurrently.
func (s *Stream) ReadDirect(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.readv([][]byte{p})
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// WriteDirect writes p with a single OS call regardless of readiness.
//
// EAGAIN is returned verbatim and the count may be short. The same
// restrictions of [*Stream.ReadDirect] apply.
func (s *Stream) WriteDirect(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	return s.writev([][]byte{p})
}

// Read implements [net.Conn].
//
// It suspends until data is available, the read deadline expires, or the
// stream is closed.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext is like [*Stream.Read] but also returns when ctx is done.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	bufs := [][]byte{p}
	for {
		expired := s.rdeadline.wait()
		if isClosedChan(expired) {
			return 0, os.ErrDeadlineExceeded
		}
		n, err := s.PollReadv(bufs)
		if !iox.IsWouldBlock(err) {
			return n, err
		}
		if err := s.readiness.wait(ctx, Readable, expired); err != nil {
			return 0, err
		}
	}
}

// Write implements [net.Conn].
//
// It suspends until all of p is written, the write deadline expires,
// or an error occurs.
func (s *Stream) Write(p []byte) (int, error) {
	return s.WriteContext(context.Background(), p)
}

// WriteContext is like [*Stream.Write] but also returns when ctx is done.
func (s *Stream) WriteContext(ctx context.Context, p []byte) (int, error) {
	var written int
	for written < len(p) {
		expired := s.wdeadline.wait()
		if isClosedChan(expired) {
			return written, os.ErrDeadlineExceeded
		}
		n, err := s.PollWrite(p[written:])
		written += n
		if iox.IsWouldBlock(err) {
			if err := s.readiness.wait(ctx, Writable, expired); err != nil {
				return written, err
			}
			continue
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Shutdown shuts down the read, write, or both directions.
//
// It performs a single non-blocking OS call.
func (s *Stream) Shutdown(how ShutdownHow) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	if err := s.guard.acquire(); err != nil {
		return err
	}
	defer s.guard.release()
	if err := s.sock.Shutdown(how); err != nil {
		return err
	}
	if how == ShutdownRead {
		return nil
	}
	s.writeShut.Store(true)
	return nil
}

// CloseRead shuts down the read direction.
func (s *Stream) CloseRead() error {
	return s.Shutdown(ShutdownRead)
}

// CloseWrite shuts down the write direction.
//
// Subsequent calls succeed without contacting the OS.
func (s *Stream) CloseWrite() error {
	if s.writeShut.Load() {
		return nil
	}
	return s.Shutdown(ShutdownWrite)
}

// VsockLocalAddr returns the address the stream is bound to.
func (s *Stream) VsockLocalAddr() (Addr, error) {
	if s.closed.Load() {
		return Addr{}, net.ErrClosed
	}
	if err := s.guard.acquire(); err != nil {
		return Addr{}, err
	}
	defer s.guard.release()
	return s.sock.LocalAddr()
}

// PeerAddr returns the address of the connected peer.
func (s *Stream) PeerAddr() (Addr, error) {
	if s.closed.Load() {
		return Addr{}, net.ErrClosed
	}
	if err := s.guard.acquire(); err != nil {
		return Addr{}, err
	}
	defer s.guard.release()
	return s.sock.PeerAddr()
}

// LocalAddr implements [net.Conn].
//
// The zero [Addr] is returned when the address cannot be determined.
func (s *Stream) LocalAddr() net.Addr {
	addr, _ := s.VsockLocalAddr()
	return addr
}

// RemoteAddr implements [net.Conn].
//
// The zero [Addr] is returned when the address cannot be determined.
func (s *Stream) RemoteAddr() net.Addr {
	addr, _ := s.PeerAddr()
	return addr
}

// SetDeadline implements [net.Conn].
func (s *Stream) SetDeadline(t time.Time) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.rdeadline.set(t)
	s.wdeadline.set(t)
	return nil
}

// SetReadDeadline implements [net.Conn].
func (s *Stream) SetReadDeadline(t time.Time) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.rdeadline.set(t)
	return nil
}

// SetWriteDeadline implements [net.Conn].
func (s *Stream) SetWriteDeadline(t time.Time) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.wdeadline.set(t)
	return nil
}

// Close implements [net.Conn].
//
// It wakes pending operations and deregisters the descriptor from the
// reactor. The descriptor is released once the OS calls already in flight
// have returned. Subsequent calls return [net.ErrClosed].
func (s *Stream) Close() (err error) {
	err = net.ErrClosed
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.readiness.shutdown()
		derr := s.reactor.Deregister(s.sock.Fd())
		s.guard.shutdown()
		err = errors.Join(derr, s.sock.Close())
	})
	return
}

func (s *Stream) readv(iovs [][]byte) (int, error) {
	if err := s.guard.acquire(); err != nil {
		return 0, err
	}
	defer s.guard.release()
	return s.sock.Readv(iovs)
}

func (s *Stream) writev(iovs [][]byte) (int, error) {
	if err := s.guard.acquire(); err != nil {
		return 0, err
	}
	defer s.guard.release()
	return s.sock.Writev(iovs)
}

func (s *Stream) takeError() error {
	if err := s.guard.acquire(); err != nil {
		return err
	}
	defer s.guard.release()
	return s.sock.TakeError()
}

// compactBuffers returns at most limit non-empty buffers from bufs.
func compactBuffers(bufs [][]byte, limit int) [][]byte {
	out := make([][]byte, 0, min(len(bufs), limit))
	for _, buf := range bufs {
		if len(out) >= limit {
			break
		}
		if len(buf) > 0 {
			out = append(out, buf)
		}
	}
	return out
}

func isEAGAIN(err error) bool {
	return err != nil && errors.Is(err, errEAGAIN)
}
