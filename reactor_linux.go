//go:build linux

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/momentics/hioload-ws/blob/main/reactor/reactor_linux.go
//

package vsock

import (
	"errors"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// maxEpollEvents is the number of events drained per EpollWait call.
const maxEpollEvents = 128

// EpollReactor is an edge-triggered epoll(7) [Reactor].
//
// Construct using [NewReactor]. A single goroutine waits for events
// and dispatches them to the registered [*Readiness] values.
type EpollReactor struct {
	epfd    int
	wakefd  int
	mu      sync.Mutex
	regs    map[int]*Readiness
	err     error
	done    chan struct{}
	closing sync.Once
}

var _ ReactorCloser = &EpollReactor{}

// NewReactor creates an epoll-based reactor and starts its event loop.
func NewReactor() (ReactorCloser, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}
	r := &EpollReactor{
		epfd:   epfd,
		wakefd: wakefd,
		regs:   make(map[int]*Readiness),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Register implements [Reactor].
func (r *EpollReactor) Register(fd int, rd *Readiness) error {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.regs[fd] = rd
	r.mu.Unlock()
	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		r.mu.Lock()
		delete(r.regs, fd)
		r.mu.Unlock()
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Deregister implements [Reactor].
func (r *EpollReactor) Deregister(fd int) error {
	r.mu.Lock()
	delete(r.regs, fd)
	r.mu.Unlock()
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Close implements [ReactorCloser].
//
// Operations pending on descriptors still registered fail with
// [net.ErrClosed] and later registrations are rejected.
func (r *EpollReactor) Close() (err error) {
	err = os.ErrClosed
	r.closing.Do(func() {
		var one = [8]byte{1}
		unix.Write(r.wakefd, one[:])
		<-r.done
		err = errors.Join(unix.Close(r.epfd), unix.Close(r.wakefd))
	})
	return
}

func (r *EpollReactor) loop() {
	defer close(r.done)
	var events [maxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(r.epfd, events[:], -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			r.failAll(os.NewSyscallError("epoll_wait", err))
			return
		}
		for idx := 0; idx < n; idx++ {
			fd := int(events[idx].Fd)
			if fd == r.wakefd {
				r.failAll(net.ErrClosed)
				return
			}
			r.mu.Lock()
			rd := r.regs[fd]
			r.mu.Unlock()
			if rd == nil {
				continue
			}
			rd.Set(epollInterest(events[idx].Events))
		}
	}
}

// failAll wakes every registered [*Readiness] with err, forgets the
// registrations, and makes later calls to Register return err.
func (r *EpollReactor) failAll(err error) {
	r.mu.Lock()
	r.err = err
	regs := r.regs
	r.regs = make(map[int]*Readiness)
	r.mu.Unlock()
	for _, rd := range regs {
		rd.fail(err)
	}
}

// epollInterest maps epoll event bits to an [Interest]. Errors and hangups
// wake both directions so the pending operation observes them.
func epollInterest(events uint32) Interest {
	var ev Interest
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		ev |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		ev |= Writable
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ev |= Readable | Writable
	}
	return ev
}
