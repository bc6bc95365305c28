// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/bassosimone/errclass"
	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnectConfig returns a [*Config] whose socket layer returns sock.
func newConnectConfig(sock Socket, connectErr error) (*Config, *manualReactor) {
	reactor := newManualReactor()
	cfg := NewConfig(reactor)
	cfg.Sockets = &funcSocketLayer{
		ConnectFunc: func(addr Addr) (Socket, error) {
			if connectErr != nil {
				return nil, connectErr
			}
			return sock, nil
		},
	}
	return cfg, reactor
}

// NewConnectFunc populates all fields from Config and the provided logger.
func TestNewConnectFunc(t *testing.T) {
	cfg := NewConfig(newManualReactor())
	logger := DefaultSLogger()

	fn := NewConnectFunc(cfg, logger)

	require.NotNil(t, fn)
	assert.NotNil(t, fn.Dialer)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// Call dials the address and returns a net.Conn or an error.
func TestConnectFunc(t *testing.T) {
	tests := []struct {
		// name describes what this test case verifies.
		name string

		// dialer is the mock dialer to use.
		dialer *netstub.FuncDialer

		// wantErr indicates whether we expect an error.
		wantErr bool
	}{
		{
			name: "successful connect",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn := newMinimalConn()
					conn.CloseFunc = func() error { return nil }
					return conn, nil
				},
			},
			wantErr: false,
		},

		{
			name: "dial error",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					return nil, errors.New("connection refused")
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(newManualReactor())
			cfg.Dialer = tt.dialer

			fn := NewConnectFunc(cfg, DefaultSLogger())
			conn, err := fn.Call(context.Background(), Addr{ContextID: CIDHost, Port: 8000})

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, conn)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, conn)
			conn.Close()
		})
	}
}

// Call passes the vsock network and the formatted address to the dialer.
func TestConnectFuncDialerArguments(t *testing.T) {
	cfg := NewConfig(newManualReactor())
	var gotNetwork, gotAddress string
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			gotNetwork, gotAddress = network, address
			return nil, errors.New("expected error")
		},
	}

	fn := NewConnectFunc(cfg, DefaultSLogger())
	_, _ = fn.Call(context.Background(), Addr{ContextID: 3, Port: 8000})

	assert.Equal(t, "vsock", gotNetwork)
	assert.Equal(t, "3:8000", gotAddress)
}

// Call propagates the caller's context deadline to the dialer.
func TestConnectFuncCallerContextDeadline(t *testing.T) {
	cfg := NewConfig(newManualReactor())
	dialCalled := false
	expectedTimeout := 5 * time.Second
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialCalled = true
			deadline, ok := ctx.Deadline()
			assert.True(t, ok, "context should have deadline from caller")
			assert.True(t, time.Until(deadline) <= expectedTimeout)
			return nil, errors.New("expected error")
		},
	}

	fn := NewConnectFunc(cfg, DefaultSLogger())

	ctx, cancel := context.WithTimeout(context.Background(), expectedTimeout)
	defer cancel()

	_, _ = fn.Call(ctx, Addr{ContextID: CIDHost, Port: 8000})

	assert.True(t, dialCalled)
}

// Call emits connectStart/connectDone log events.
func TestConnectFuncLogging(t *testing.T) {
	logger, records := newCapturingLogger()

	cfg := NewConfig(newManualReactor())
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, context.DeadlineExceeded
		},
	}

	fn := NewConnectFunc(cfg, logger)
	_, err := fn.Call(context.Background(), Addr{ContextID: CIDHost, Port: 8000})
	require.Error(t, err)

	require.Len(t, *records, 2)
	assert.Equal(t, "connectStart", (*records)[0].Message)
	assert.Equal(t, "connectDone", (*records)[1].Message)

	attrs := recordAttrs((*records)[1])
	assert.Equal(t, "vsock", attrs["protocol"].String())
	assert.Equal(t, "2:8000", attrs["remoteAddr"].String())
	assert.Equal(t, errclass.ETIMEDOUT, attrs["errClass"].String())
}

// DialContext rejects malformed input before creating any socket.
func TestVsockDialerInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		network string
		address string
	}{
		{name: "wrong network", network: "tcp", address: "2:8000"},
		{name: "missing port", network: "vsock", address: "2"},
		{name: "non-numeric cid", network: "vsock", address: "host:8000"},
		{name: "port overflow", network: "vsock", address: "2:4294967296"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(newManualReactor())
			cfg.Sockets = &funcSocketLayer{
				ConnectFunc: func(addr Addr) (Socket, error) {
					t.Fatal("should not create a socket")
					return nil, nil
				},
			}
			conn, err := NewDialer(cfg).DialContext(context.Background(), tt.network, tt.address)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, conn)
		})
	}
}

// DialContext returns a connected *Stream as a net.Conn.
func TestVsockDialerSuccess(t *testing.T) {
	sock := newFuncSocket(7)
	cfg, reactor := newConnectConfig(sock, nil)
	var gotAddr Addr
	cfg.Sockets.(*funcSocketLayer).ConnectFunc = func(addr Addr) (Socket, error) {
		gotAddr = addr
		return sock, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for !reactor.registered(7) {
			time.Sleep(time.Millisecond)
		}
		reactor.post(7, Writable)
	}()

	conn, err := NewDialer(cfg).DialContext(context.Background(), "vsock", "3:8000")
	<-done
	require.NoError(t, err)
	require.IsType(t, &Stream{}, conn)
	assert.Equal(t, Addr{ContextID: 3, Port: 8000}, gotAddr)
	require.NoError(t, conn.Close())
}

// Poll reports pending until writable, then the connected stream.
func TestConnectingPollSuccess(t *testing.T) {
	sock := newFuncSocket(7)
	cfg, reactor := newConnectConfig(sock, nil)

	conn := StartConnect(cfg, Addr{ContextID: CIDHost, Port: 8000})

	stream, err := conn.Poll()
	assert.ErrorIs(t, err, iox.ErrWouldBlock)
	assert.Nil(t, stream)

	reactor.post(7, Writable)
	stream, err = conn.Poll()
	require.NoError(t, err)
	require.NotNil(t, stream)

	// Polling after completion is a programming error.
	assert.Panics(t, func() { conn.Poll() })
	require.NoError(t, stream.Close())
}

// Poll reports the deferred connect error and releases the descriptor.
func TestConnectingPollDeferredError(t *testing.T) {
	refused := errors.New("connection refused")
	sock := newFuncSocket(7)
	closed := false
	sock.TakeErrorFunc = func() error { return refused }
	sock.CloseFunc = func() error { closed = true; return nil }
	cfg, reactor := newConnectConfig(sock, nil)

	conn := StartConnect(cfg, Addr{ContextID: CIDHost, Port: 8000})
	reactor.post(7, Writable)

	stream, err := conn.Poll()
	assert.ErrorIs(t, err, refused)
	assert.Nil(t, stream)
	assert.True(t, closed)
	assert.False(t, reactor.registered(7))

	assert.Panics(t, func() { conn.Poll() })
}

// Poll reports a synchronous connect failure exactly once.
func TestConnectingPollImmediateError(t *testing.T) {
	refused := errors.New("connection refused")
	cfg, _ := newConnectConfig(nil, refused)

	conn := StartConnect(cfg, Addr{ContextID: CIDHost, Port: 8000})

	stream, err := conn.Poll()
	assert.ErrorIs(t, err, refused)
	assert.Nil(t, stream)

	assert.Panics(t, func() { conn.Poll() })
}

// StartConnect closes the socket when registration fails.
func TestStartConnectRegisterError(t *testing.T) {
	expected := errors.New("register failed")
	sock := newFuncSocket(7)
	closed := false
	sock.CloseFunc = func() error { closed = true; return nil }
	cfg, reactor := newConnectConfig(sock, nil)
	reactor.RegisterErr = expected

	stream, err := StartConnect(cfg, Addr{ContextID: CIDHost, Port: 8000}).Poll()
	assert.ErrorIs(t, err, expected)
	assert.Nil(t, stream)
	assert.True(t, closed)
}

// Wait abandons the attempt when the context is done.
func TestConnectingWaitContextCanceled(t *testing.T) {
	sock := newFuncSocket(7)
	closed := false
	sock.CloseFunc = func() error { closed = true; return nil }
	cfg, reactor := newConnectConfig(sock, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	stream, err := StartConnect(cfg, Addr{ContextID: CIDHost, Port: 8000}).Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, stream)
	assert.True(t, closed)
	assert.False(t, reactor.registered(7))
}

// Close releases a pending attempt and is a no-op afterwards.
func TestConnectingClose(t *testing.T) {
	sock := newFuncSocket(7)
	closes := 0
	sock.CloseFunc = func() error { closes++; return nil }
	cfg, _ := newConnectConfig(sock, nil)

	conn := StartConnect(cfg, Addr{ContextID: CIDHost, Port: 8000})
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, closes)
}
