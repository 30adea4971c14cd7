//go:build linux || darwin || freebsd || netbsd || openbsd

package eventloop

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var errDescriptorClosed = errors.New("descriptor closed")

// poller waits for readability on the HTTP listener and the DNS socket with
// a single poll(2) call
type poller struct {
	fds [2]unix.PollFd
}

const (
	httpSlot = 0
	dnsSlot  = 1

	readyEvents = unix.POLLIN | unix.POLLERR | unix.POLLHUP
)

func newPoller(httpConn, dnsConn syscall.Conn) (*poller, error) {
	httpFD, err := rawFD(httpConn)
	if err != nil {
		return nil, fmt.Errorf("http listener descriptor: %w", err)
	}
	dnsFD, err := rawFD(dnsConn)
	if err != nil {
		return nil, fmt.Errorf("dns socket descriptor: %w", err)
	}

	p := &poller{}
	p.fds[httpSlot] = unix.PollFd{Fd: int32(httpFD), Events: unix.POLLIN}
	p.fds[dnsSlot] = unix.PollFd{Fd: int32(dnsFD), Events: unix.POLLIN}
	return p, nil
}

// wait blocks until at least one socket is readable or timeout elapses
func (p *poller) wait(timeout time.Duration) (httpReady, dnsReady bool, err error) {
	p.fds[httpSlot].Revents = 0
	p.fds[dnsSlot].Revents = 0

	n, err := unix.Poll(p.fds[:], int(timeout/time.Millisecond))
	if errors.Is(err, unix.EINTR) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, false, nil
	}

	if p.fds[httpSlot].Revents&unix.POLLNVAL != 0 || p.fds[dnsSlot].Revents&unix.POLLNVAL != 0 {
		return false, false, errDescriptorClosed
	}

	httpReady = p.fds[httpSlot].Revents&readyEvents != 0
	dnsReady = p.fds[dnsSlot].Revents&readyEvents != 0
	return httpReady, dnsReady, nil
}

func rawFD(c syscall.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}
