// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"math"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Only one live borrowed half per direction may exist.
func TestStreamSplitExclusive(t *testing.T) {
	stream, _ := newTestStream(newFuncSocket(5))
	defer stream.Close()

	r, w, err := stream.Split()
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NotNil(t, w)

	_, _, err = stream.Split()
	assert.ErrorIs(t, err, ErrHalfInUse)

	// Releasing only one direction is not enough.
	r.Release()
	_, _, err = stream.Split()
	assert.ErrorIs(t, err, ErrHalfInUse)

	w.Release()
	r2, w2, err := stream.Split()
	require.NoError(t, err)
	r2.Release()
	w2.Release()
}

// Released halves fail with ErrHalfReleased and Release is idempotent.
func TestStreamSplitReleased(t *testing.T) {
	stream, _ := newTestStream(newFuncSocket(5))
	defer stream.Close()

	r, w, err := stream.Split()
	require.NoError(t, err)
	r.Release()
	r.Release()
	w.Release()
	w.Release()

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrHalfReleased)
	_, err = r.PollRead(make([]byte, 1))
	assert.ErrorIs(t, err, ErrHalfReleased)
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrHalfReleased)
	_, err = w.PollWritev([][]byte{[]byte("x")})
	assert.ErrorIs(t, err, ErrHalfReleased)
	assert.ErrorIs(t, w.Shutdown(), ErrHalfReleased)
}

// Split of a closed stream fails.
func TestStreamSplitClosed(t *testing.T) {
	stream, _ := newTestStream(newFuncSocket(5))
	require.NoError(t, stream.Close())
	_, _, err := stream.Split()
	assert.ErrorIs(t, err, net.ErrClosed)
}

// Borrowed halves forward to the stream and Shutdown only closes writes.
func TestStreamSplitForwarding(t *testing.T) {
	sock := newFuncSocket(5)
	var shut []ShutdownHow
	sock.ShutdownFunc = func(how ShutdownHow) error {
		shut = append(shut, how)
		return nil
	}
	sock.ReadvFunc = func(bufs [][]byte) (int, error) {
		return copy(bufs[0], "pong"), nil
	}
	stream, reactor := newTestStream(sock)
	defer stream.Close()
	reactor.post(5, Readable|Writable)

	r, w, err := stream.Split()
	require.NoError(t, err)
	defer r.Release()
	defer w.Release()

	n, err := w.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, w.Flush())

	buf := make([]byte, 8)
	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	require.NoError(t, w.Shutdown())
	require.NoError(t, w.Shutdown())
	assert.Equal(t, []ShutdownHow{ShutdownWrite}, shut)
}

// Owned halves from the same split are a pair and can be rejoined.
func TestStreamSplitOwnedUnsplit(t *testing.T) {
	stream, _ := newTestStream(newFuncSocket(5))
	defer stream.Close()

	r, w := stream.SplitOwned()
	assert.True(t, r.IsPairOf(w))
	assert.True(t, w.IsPairOf(r))

	joined := r.Unsplit(w)
	assert.Same(t, stream, joined)

	// Both halves were consumed.
	assert.ErrorIs(t, r.Close(), net.ErrClosed)
	assert.ErrorIs(t, w.Close(), net.ErrClosed)
}

// Halves of different streams are not a pair and Unsplit panics.
func TestStreamSplitOwnedMismatch(t *testing.T) {
	s1, _ := newTestStream(newFuncSocket(5))
	defer s1.Close()
	s2, _ := newTestStream(newFuncSocket(6))
	defer s2.Close()

	r1, w1 := s1.SplitOwned()
	r2, w2 := s2.SplitOwned()

	assert.False(t, r1.IsPairOf(w2))
	assert.False(t, r2.IsPairOf(w1))
	assert.Panics(t, func() { r1.Unsplit(w2) })

	// The panic must not consume the halves.
	assert.True(t, r1.IsPairOf(w1))
	assert.True(t, r2.IsPairOf(w2))
}

// Unsplit after one half was closed panics.
func TestStreamSplitOwnedUnsplitClosedHalf(t *testing.T) {
	stream, _ := newTestStream(newFuncSocket(5))
	defer stream.Close()

	r, w := stream.SplitOwned()
	require.NoError(t, r.Close())
	assert.False(t, r.IsPairOf(w))
	assert.Panics(t, func() { r.Unsplit(w) })
	require.NoError(t, w.Close())
}

// The descriptor is released only when both owned halves are closed.
func TestStreamSplitOwnedRefcount(t *testing.T) {
	sock := newFuncSocket(5)
	closes := 0
	var shut []ShutdownHow
	sock.CloseFunc = func() error { closes++; return nil }
	sock.ShutdownFunc = func(how ShutdownHow) error {
		shut = append(shut, how)
		return nil
	}
	stream, reactor := newTestStream(sock)

	r, w := stream.SplitOwned()

	require.NoError(t, w.Close())
	assert.Equal(t, 0, closes)
	assert.Equal(t, []ShutdownHow{ShutdownWrite}, shut)
	assert.True(t, reactor.registered(5))

	_, err := w.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)

	require.NoError(t, r.Close())
	assert.Equal(t, 1, closes)
	assert.False(t, reactor.registered(5))

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, net.ErrClosed)
}

// Owned write half Shutdown is idempotent and Flush always succeeds.
func TestStreamSplitOwnedWriteHalf(t *testing.T) {
	sock := newFuncSocket(5)
	shutdowns := 0
	sock.ShutdownFunc = func(how ShutdownHow) error {
		assert.Equal(t, ShutdownWrite, how)
		shutdowns++
		return nil
	}
	stream, reactor := newTestStream(sock)
	reactor.post(5, Writable)

	r, w := stream.SplitOwned()
	defer r.Close()
	defer w.Close()

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, w.Flush())
	require.NoError(t, w.Shutdown())
	require.NoError(t, w.Shutdown())
	assert.Equal(t, 1, shutdowns)

	peer, err := r.PeerAddr()
	require.NoError(t, err)
	assert.Equal(t, Addr{ContextID: CIDHost, Port: 8000}, peer)
}

// Every split mints a distinct pairing token.
func TestNextPairTokenDistinct(t *testing.T) {
	seen := make(map[uint64]bool)
	for range 100 {
		token := nextPairToken()
		assert.False(t, seen[token])
		seen[token] = true
	}
}

// Pairing tokens keep growing past 32 bits instead of wrapping around.
func TestNextPairTokenWide(t *testing.T) {
	saved := pairTokens.Load()
	defer pairTokens.Store(saved)

	pairTokens.Store(math.MaxUint32)
	assert.Equal(t, uint64(math.MaxUint32)+1, nextPairToken())
}
