// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"errors"
	"net"
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

var (
	// ErrHalfInUse indicates that a half of the same direction is still live.
	ErrHalfInUse = errors.New("vsock: stream half already in use")

	// ErrHalfReleased indicates that the half was already released.
	ErrHalfReleased = errors.New("vsock: stream half released")
)

// Split returns borrowed read and write halves of the stream.
//
// The halves share the stream, which remains owned by the caller and must
// outlive them. Only one live half per direction may exist at a time: until
// both previous halves are released, Split fails with [ErrHalfInUse].
func (s *Stream) Split() (*ReadHalf, *WriteHalf, error) {
	if s.closed.Load() {
		return nil, nil, net.ErrClosed
	}
	if !s.readLent.CompareAndSwap(false, true) {
		return nil, nil, ErrHalfInUse
	}
	if !s.writeLent.CompareAndSwap(false, true) {
		s.readLent.Store(false)
		return nil, nil, ErrHalfInUse
	}
	return &ReadHalf{stream: s}, &WriteHalf{stream: s}, nil
}

// ReadHalf is the read direction borrowed from a [*Stream].
type ReadHalf struct {
	stream   *Stream
	released atomic.Bool
}

// Read is like [*Stream.Read].
func (h *ReadHalf) Read(p []byte) (int, error) {
	if h.released.Load() {
		return 0, ErrHalfReleased
	}
	return h.stream.Read(p)
}

// PollRead is like [*Stream.PollRead].
func (h *ReadHalf) PollRead(p []byte) (int, error) {
	if h.released.Load() {
		return 0, ErrHalfReleased
	}
	return h.stream.PollRead(p)
}

// PollReadv is like [*Stream.PollReadv].
func (h *ReadHalf) PollReadv(bufs [][]byte) (int, error) {
	if h.released.Load() {
		return 0, ErrHalfReleased
	}
	return h.stream.PollReadv(bufs)
}

// Release returns the read direction to the stream.
//
// Subsequent calls are no-ops.
func (h *ReadHalf) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.stream.readLent.Store(false)
	}
}

// WriteHalf is the write direction borrowed from a [*Stream].
type WriteHalf struct {
	stream   *Stream
	released atomic.Bool
}

// Write is like [*Stream.Write].
func (h *WriteHalf) Write(p []byte) (int, error) {
	if h.released.Load() {
		return 0, ErrHalfReleased
	}
	return h.stream.Write(p)
}

// PollWrite is like [*Stream.PollWrite].
func (h *WriteHalf) PollWrite(p []byte) (int, error) {
	if h.released.Load() {
		return 0, ErrHalfReleased
	}
	return h.stream.PollWrite(p)
}

// PollWritev is like [*Stream.PollWritev].
func (h *WriteHalf) PollWritev(bufs [][]byte) (int, error) {
	if h.released.Load() {
		return 0, ErrHalfReleased
	}
	return h.stream.PollWritev(bufs)
}

// Flush always succeeds since writes are not buffered.
func (h *WriteHalf) Flush() error {
	return nil
}

// Shutdown shuts down the write direction of the stream.
//
// It is idempotent and never touches the read direction.
func (h *WriteHalf) Shutdown() error {
	if h.released.Load() {
		return ErrHalfReleased
	}
	return h.stream.CloseWrite()
}

// Release returns the write direction to the stream.
//
// Subsequent calls are no-ops.
func (h *WriteHalf) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.stream.writeLent.Store(false)
	}
}

// pairTokens mints the tokens identifying halves of the same split.
var pairTokens atomix.Uint64

func nextPairToken() uint64 {
	return pairTokens.Add(1)
}

// ownedStream is the stream shared by the two owned halves.
type ownedStream struct {
	stream *Stream
	refs   atomic.Int32
	token  uint64
}

// release drops one reference and closes the stream with the last one.
func (o *ownedStream) release() error {
	if o.refs.Add(-1) == 0 {
		return o.stream.Close()
	}
	return nil
}

// SplitOwned consumes the stream and returns independently owned halves.
//
// The caller must not use the stream afterwards. The descriptor is released
// when both halves are closed. Halves created by the same call form a pair
// (see [*OwnedReadHalf.IsPairOf]) and can be rejoined using
// [*OwnedReadHalf.Unsplit].
func (s *Stream) SplitOwned() (*OwnedReadHalf, *OwnedWriteHalf) {
	owned := &ownedStream{stream: s, token: nextPairToken()}
	owned.refs.Store(2)
	r := &OwnedReadHalf{}
	r.inner.Store(owned)
	w := &OwnedWriteHalf{}
	w.inner.Store(owned)
	return r, w
}

// OwnedReadHalf is the owned read direction of a split [*Stream].
type OwnedReadHalf struct {
	inner atomic.Pointer[ownedStream]
}

func (h *OwnedReadHalf) owned() (*Stream, error) {
	owned := h.inner.Load()
	if owned == nil {
		return nil, net.ErrClosed
	}
	return owned.stream, nil
}

// Read is like [*Stream.Read].
func (h *OwnedReadHalf) Read(p []byte) (int, error) {
	s, err := h.owned()
	if err != nil {
		return 0, err
	}
	return s.Read(p)
}

// PollRead is like [*Stream.PollRead].
func (h *OwnedReadHalf) PollRead(p []byte) (int, error) {
	s, err := h.owned()
	if err != nil {
		return 0, err
	}
	return s.PollRead(p)
}

// PollReadv is like [*Stream.PollReadv].
func (h *OwnedReadHalf) PollReadv(bufs [][]byte) (int, error) {
	s, err := h.owned()
	if err != nil {
		return 0, err
	}
	return s.PollReadv(bufs)
}

// PeerAddr is like [*Stream.PeerAddr].
func (h *OwnedReadHalf) PeerAddr() (Addr, error) {
	s, err := h.owned()
	if err != nil {
		return Addr{}, err
	}
	return s.PeerAddr()
}

// IsPairOf reports whether w originates from the same split as h.
//
// Closed halves are never a pair.
func (h *OwnedReadHalf) IsPairOf(w *OwnedWriteHalf) bool {
	r, wo := h.inner.Load(), w.inner.Load()
	return r != nil && wo != nil && r.token == wo.token
}

// Unsplit rejoins h and w into the original [*Stream].
//
// Both halves are consumed. Unsplit panics unless h.IsPairOf(w).
func (h *OwnedReadHalf) Unsplit(w *OwnedWriteHalf) *Stream {
	if !h.IsPairOf(w) {
		panic("vsock: Unsplit called with halves of different streams")
	}
	owned := h.inner.Swap(nil)
	w.inner.Store(nil)
	return owned.stream
}

// Close releases the read half. The stream is closed once the
// write half is also closed. Subsequent calls return [net.ErrClosed].
func (h *OwnedReadHalf) Close() error {
	owned := h.inner.Swap(nil)
	if owned == nil {
		return net.ErrClosed
	}
	return owned.release()
}

// OwnedWriteHalf is the owned write direction of a split [*Stream].
type OwnedWriteHalf struct {
	inner atomic.Pointer[ownedStream]
}

func (h *OwnedWriteHalf) owned() (*Stream, error) {
	owned := h.inner.Load()
	if owned == nil {
		return nil, net.ErrClosed
	}
	return owned.stream, nil
}

// Write is like [*Stream.Write].
func (h *OwnedWriteHalf) Write(p []byte) (int, error) {
	s, err := h.owned()
	if err != nil {
		return 0, err
	}
	return s.Write(p)
}

// PollWrite is like [*Stream.PollWrite].
func (h *OwnedWriteHalf) PollWrite(p []byte) (int, error) {
	s, err := h.owned()
	if err != nil {
		return 0, err
	}
	return s.PollWrite(p)
}

// PollWritev is like [*Stream.PollWritev].
func (h *OwnedWriteHalf) PollWritev(bufs [][]byte) (int, error) {
	s, err := h.owned()
	if err != nil {
		return 0, err
	}
	return s.PollWritev(bufs)
}

// Flush always succeeds since writes are not buffered.
func (h *OwnedWriteHalf) Flush() error {
	return nil
}

// Shutdown shuts down the write direction of the stream.
//
// It is idempotent and never touches the read direction.
func (h *OwnedWriteHalf) Shutdown() error {
	s, err := h.owned()
	if err != nil {
		return err
	}
	return s.CloseWrite()
}

// IsPairOf reports whether r originates from the same split as h.
func (h *OwnedWriteHalf) IsPairOf(r *OwnedReadHalf) bool {
	return r.IsPairOf(h)
}

// Close shuts down the write direction and releases the write half. The
// stream is closed once the read half is also closed. Subsequent calls
// return [net.ErrClosed].
func (h *OwnedWriteHalf) Close() error {
	owned := h.inner.Swap(nil)
	if owned == nil {
		return net.ErrClosed
	}
	shutErr := owned.stream.CloseWrite()
	if errors.Is(shutErr, net.ErrClosed) {
		shutErr = nil
	}
	return errors.Join(shutErr, owned.release())
}
