//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package eventloop

import (
	"errors"
	"syscall"
	"time"
)

var errUnsupportedPlatform = errors.New("eventloop: poll(2) is not available on this platform")

type poller struct{}

func newPoller(httpConn, dnsConn syscall.Conn) (*poller, error) {
	return nil, errUnsupportedPlatform
}

func (p *poller) wait(timeout time.Duration) (httpReady, dnsReady bool, err error) {
	return false, false, errUnsupportedPlatform
}
