// SPDX-License-Identifier: GPL-3.0-or-later

package vsock

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordAttrs returns the attributes of record keyed by name.
func recordAttrs(record slog.Record) map[string]slog.Value {
	attrs := make(map[string]slog.Value)
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value
		return true
	})
	return attrs
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return Addr{ContextID: 3, Port: 1024} },
		RemoteAddrFunc: func() net.Addr { return Addr{ContextID: CIDHost, Port: 8000} },
	}
}

// manualReactor is a [Reactor] whose readiness is posted by the test.
type manualReactor struct {
	mu   sync.Mutex
	regs map[int]*Readiness

	// RegisterErr, when set, is returned by Register.
	RegisterErr error

	// deregistered records the descriptors passed to Deregister.
	deregistered []int
}

var _ Reactor = &manualReactor{}

func newManualReactor() *manualReactor {
	return &manualReactor{regs: make(map[int]*Readiness)}
}

// Register implements [Reactor].
func (r *manualReactor) Register(fd int, readiness *Readiness) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RegisterErr != nil {
		return r.RegisterErr
	}
	r.regs[fd] = readiness
	return nil
}

// Deregister implements [Reactor].
func (r *manualReactor) Deregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, fd)
	r.deregistered = append(r.deregistered, fd)
	return nil
}

// post marks fd as ready for ev.
func (r *manualReactor) post(fd int, ev Interest) {
	r.mu.Lock()
	readiness := r.regs[fd]
	r.mu.Unlock()
	if readiness != nil {
		readiness.Set(ev)
	}
}

// registered returns whether fd is currently registered.
func (r *manualReactor) registered(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regs[fd]
	return ok
}

// funcSocket is a [Socket] whose behavior is defined by function fields.
type funcSocket struct {
	fd            int
	ReadvFunc     func(bufs [][]byte) (int, error)
	WritevFunc    func(bufs [][]byte) (int, error)
	ShutdownFunc  func(how ShutdownHow) error
	LocalAddrFunc func() (Addr, error)
	PeerAddrFunc  func() (Addr, error)
	TakeErrorFunc func() error
	CloseFunc     func() error
}

var _ Socket = &funcSocket{}

// newFuncSocket returns a [*funcSocket] whose methods all succeed,
// reads block with EAGAIN, and writes consume everything.
func newFuncSocket(fd int) *funcSocket {
	return &funcSocket{
		fd:         fd,
		ReadvFunc:  func(bufs [][]byte) (int, error) { return 0, errEAGAIN },
		WritevFunc: func(bufs [][]byte) (int, error) { return totalLen(bufs), nil },
		ShutdownFunc: func(how ShutdownHow) error {
			return nil
		},
		LocalAddrFunc: func() (Addr, error) { return Addr{ContextID: 3, Port: 1024}, nil },
		PeerAddrFunc:  func() (Addr, error) { return Addr{ContextID: CIDHost, Port: 8000}, nil },
		TakeErrorFunc: func() error { return nil },
		CloseFunc:     func() error { return nil },
	}
}

func (s *funcSocket) Fd() int                           { return s.fd }
func (s *funcSocket) Readv(bufs [][]byte) (int, error)  { return s.ReadvFunc(bufs) }
func (s *funcSocket) Writev(bufs [][]byte) (int, error) { return s.WritevFunc(bufs) }
func (s *funcSocket) Shutdown(how ShutdownHow) error    { return s.ShutdownFunc(how) }
func (s *funcSocket) LocalAddr() (Addr, error)          { return s.LocalAddrFunc() }
func (s *funcSocket) PeerAddr() (Addr, error)           { return s.PeerAddrFunc() }
func (s *funcSocket) TakeError() error                  { return s.TakeErrorFunc() }
func (s *funcSocket) Close() error                      { return s.CloseFunc() }

// funcListenSocket is a [ListenSocket] whose behavior is defined by function fields.
type funcListenSocket struct {
	fd            int
	AcceptFunc    func() (Socket, Addr, error)
	LocalAddrFunc func() (Addr, error)
	CloseFunc     func() error
}

var _ ListenSocket = &funcListenSocket{}

func (s *funcListenSocket) Fd() int                       { return s.fd }
func (s *funcListenSocket) Accept() (Socket, Addr, error) { return s.AcceptFunc() }
func (s *funcListenSocket) LocalAddr() (Addr, error)      { return s.LocalAddrFunc() }
func (s *funcListenSocket) Close() error                  { return s.CloseFunc() }

// funcSocketLayer is a [SocketLayer] whose behavior is defined by function fields.
type funcSocketLayer struct {
	ConnectFunc func(addr Addr) (Socket, error)
	ListenFunc  func(addr Addr, backlog int) (ListenSocket, error)
}

var _ SocketLayer = &funcSocketLayer{}

func (l *funcSocketLayer) Connect(addr Addr) (Socket, error) { return l.ConnectFunc(addr) }
func (l *funcSocketLayer) Listen(addr Addr, backlog int) (ListenSocket, error) {
	return l.ListenFunc(addr, backlog)
}

// newTestStream returns a [*Stream] over sock registered with a new
// [*manualReactor], which is also returned.
func newTestStream(sock Socket) (*Stream, *manualReactor) {
	reactor := newManualReactor()
	stream, err := newStream(reactor, sock)
	if err != nil {
		panic(err)
	}
	return stream, reactor
}

func totalLen(bufs [][]byte) (n int) {
	for _, buf := range bufs {
		n += len(buf)
	}
	return
}
