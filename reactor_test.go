// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessSetAndClear(t *testing.T) {
	r := NewReadiness()
	assert.Equal(t, Interest(0), r.Ready())

	r.Set(Readable)
	ready, tick, err := r.snapshot(Readable)
	require.NoError(t, err)
	assert.True(t, ready)

	ready, _, err = r.snapshot(Writable)
	require.NoError(t, err)
	assert.False(t, ready)

	r.clearIf(Readable, tick)
	assert.Equal(t, Interest(0), r.Ready())
}

// A notification posted after the snapshot prevents the clear.
func TestReadinessClearIfStale(t *testing.T) {
	r := NewReadiness()
	r.Set(Readable | Writable)
	_, tick, _ := r.snapshot(Readable)

	r.Set(Readable)
	r.clearIf(Readable, tick)
	assert.Equal(t, Readable|Writable, r.Ready())
}

func TestReadinessWait(t *testing.T) {
	t.Run("returns immediately when ready", func(t *testing.T) {
		r := NewReadiness()
		r.Set(Writable)
		assert.NoError(t, r.wait(context.Background(), Writable, nil))
	})

	t.Run("wakes on Set for the same direction", func(t *testing.T) {
		r := NewReadiness()
		go func() {
			time.Sleep(10 * time.Millisecond)
			r.Set(Writable)
			r.Set(Readable)
		}()
		assert.NoError(t, r.wait(context.Background(), Readable, nil))
	})

	t.Run("honors the context", func(t *testing.T) {
		r := NewReadiness()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, r.wait(ctx, Readable, nil), context.DeadlineExceeded)
	})

	t.Run("honors the expired channel", func(t *testing.T) {
		r := NewReadiness()
		expired := make(chan struct{})
		close(expired)
		assert.ErrorIs(t, r.wait(context.Background(), Readable, expired), os.ErrDeadlineExceeded)
	})

	t.Run("shutdown wakes waiters", func(t *testing.T) {
		r := NewReadiness()
		errch := make(chan error, 2)
		for _, ev := range []Interest{Readable, Writable} {
			go func() { errch <- r.wait(context.Background(), ev, nil) }()
		}
		time.Sleep(10 * time.Millisecond)
		r.shutdown()
		for range 2 {
			assert.ErrorIs(t, <-errch, net.ErrClosed)
		}

		_, _, err := r.snapshot(Readable)
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.ErrorIs(t, r.wait(context.Background(), Readable, nil), net.ErrClosed)
	})

	t.Run("fail keeps the first cause", func(t *testing.T) {
		r := NewReadiness()
		cause := errors.New("event loop failed")
		r.fail(cause)
		r.shutdown()
		_, _, err := r.snapshot(Readable)
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, r.wait(context.Background(), Writable, nil), cause)
	})
}
