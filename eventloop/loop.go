package eventloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"captivelog/dns"
	"captivelog/indicator"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// HTTPHandler turns one raw request into one raw response
type HTTPHandler interface {
	Handle(raw []byte) []byte
}

// DNSResponder turns one query datagram into one answer datagram. A nil
// answer means nothing is sent.
type DNSResponder interface {
	Respond(query []byte) []byte
}

// RateLimiter decides whether a datagram from client is answered
type RateLimiter interface {
	Allow(client string) bool
}

const (
	DefaultReadSize     = 1024
	DefaultIOTimeout    = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Options configures a Loop
type Options struct {
	Handler   HTTPHandler
	Responder DNSResponder
	Limiter   RateLimiter         // nil answers every datagram
	Indicator indicator.Indicator // nil means no indicator

	ReadSize     int           // bytes read from each HTTP connection
	IOTimeout    time.Duration // deadline for accept, read and write
	PollInterval time.Duration // longest wait before rechecking for shutdown
}

// Stats counts what the loop has done so far
type Stats struct {
	Iterations uint64
	HTTP       uint64
	DNS        uint64
	Errors     uint64
}

// Loop serves the HTTP listener and the DNS socket from one goroutine
type Loop struct {
	httpListener *net.TCPListener
	dnsConn      *net.UDPConn
	opts         Options
	poller       *poller
	dnsBuf       []byte

	turn       uint64
	iterations atomic.Uint64
	httpServed atomic.Uint64
	dnsServed  atomic.Uint64
	errors     atomic.Uint64
	closed     atomic.Bool
}

// Bind opens the HTTP listener and the DNS socket. Failure here is a startup
// problem for the operator, not something the loop recovers from.
func Bind(httpAddr, dnsAddr string) (*net.TCPListener, *net.UDPConn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", httpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid http address %q: %w", httpAddr, err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", dnsAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid dns address %q: %w", dnsAddr, err)
	}

	ln, err := net.ListenTCP("tcp4", tcpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}
	pc, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		ln.Close()
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", dnsAddr, err)
	}
	return ln, pc, nil
}

// New creates a loop over already bound sockets. The loop takes ownership of
// both and closes them in Close.
func New(ln *net.TCPListener, pc *net.UDPConn, opts Options) (*Loop, error) {
	if opts.Handler == nil || opts.Responder == nil {
		return nil, errors.New("eventloop: handler and responder are required")
	}
	if opts.Indicator == nil {
		opts.Indicator = indicator.Nop{}
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = DefaultIOTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	p, err := newPoller(ln, pc)
	if err != nil {
		return nil, err
	}

	return &Loop{
		httpListener: ln,
		dnsConn:      pc,
		opts:         opts,
		poller:       p,
		dnsBuf:       make([]byte, dns.MaxDatagramSize),
	}, nil
}

// HTTPAddr returns the address the HTTP listener is bound to
func (l *Loop) HTTPAddr() *net.TCPAddr {
	return l.httpListener.Addr().(*net.TCPAddr)
}

// DNSAddr returns the address the DNS socket is bound to
func (l *Loop) DNSAddr() *net.UDPAddr {
	return l.dnsConn.LocalAddr().(*net.UDPAddr)
}

// Stats returns a snapshot of the loop counters
func (l *Loop) Stats() Stats {
	return Stats{
		Iterations: l.iterations.Load(),
		HTTP:       l.httpServed.Load(),
		DNS:        l.dnsServed.Load(),
		Errors:     l.errors.Load(),
	}
}

// Run waits for either socket to become readable and serves it, one event at
// a time, until ctx is cancelled or the loop is closed. Errors from single
// requests are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	log.Infof("Loop: Serving HTTP on %s and DNS on %s", l.HTTPAddr(), l.DNSAddr())
	for {
		select {
		case <-ctx.Done():
			log.Info("Loop: Context cancelled, leaving event loop")
			return nil
		default:
		}

		if err := l.iterate(); err != nil {
			if l.closed.Load() {
				return nil
			}
			return err
		}
	}
}

// iterate performs one wait and services whatever became ready. When both
// sockets are ready both are served, and the order alternates between calls.
func (l *Loop) iterate() error {
	httpReady, dnsReady, err := l.poller.wait(l.opts.PollInterval)
	if err != nil {
		return fmt.Errorf("waiting for readiness: %w", err)
	}
	if !httpReady && !dnsReady {
		return nil
	}

	l.iterations.Add(1)
	l.turn++
	if l.turn%2 == 0 {
		if dnsReady {
			l.serveDNS()
		}
		if httpReady {
			l.serveHTTP()
		}
		return nil
	}

	if httpReady {
		l.serveHTTP()
	}
	if dnsReady {
		l.serveDNS()
	}
	return nil
}

// serveHTTP accepts one connection and runs one request/response cycle on it
func (l *Loop) serveHTTP() {
	if err := l.httpListener.SetDeadline(time.Now().Add(l.opts.IOTimeout)); err != nil {
		log.Debugf("Portal: Failed to set accept deadline: %v", err)
	}
	conn, err := l.httpListener.AcceptTCP()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			log.Debug("Portal: Readiness reported but no connection to accept")
			return
		}
		l.errors.Add(1)
		log.Warnf("Portal: Failed to accept connection: %v", err)
		return
	}

	logger := log.WithFields(log.Fields{
		"conn":   uuid.NewString()[:8],
		"client": conn.RemoteAddr().String(),
	})
	logger.Debug("Portal: Client connected")

	l.opts.Indicator.On()
	defer func() {
		if r := recover(); r != nil {
			l.errors.Add(1)
			logger.Errorf("Portal: Panic while handling request: %v", r)
		}
		conn.Close()
		l.opts.Indicator.Off()
	}()

	if err := conn.SetDeadline(time.Now().Add(l.opts.IOTimeout)); err != nil {
		logger.Debugf("Portal: Failed to set connection deadline: %v", err)
	}

	buf := make([]byte, l.opts.ReadSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			l.errors.Add(1)
			logger.Warnf("Portal: Error reading request: %v", err)
		} else {
			logger.Debug("Portal: Client closed without sending a request")
		}
		return
	}

	response := l.opts.Handler.Handle(buf[:n])
	if _, err := conn.Write(response); err != nil {
		l.errors.Add(1)
		logger.Warnf("Portal: Error writing response: %v", err)
		return
	}
	l.httpServed.Add(1)
}

// serveDNS reads one datagram and sends at most one answer back
func (l *Loop) serveDNS() {
	defer func() {
		if r := recover(); r != nil {
			l.errors.Add(1)
			log.Errorf("DNS: Panic while answering query: %v", r)
		}
	}()

	if err := l.dnsConn.SetReadDeadline(time.Now().Add(l.opts.IOTimeout)); err != nil {
		log.Debugf("DNS: Failed to set read deadline: %v", err)
	}
	n, clientAddr, err := l.dnsConn.ReadFromUDP(l.dnsBuf)
	if err != nil {
		l.errors.Add(1)
		log.Warnf("DNS: Error reading from UDP: %v", err)
		return
	}
	query := l.dnsBuf[:n]

	fields := log.Fields{"client": clientAddr.String()}
	if l.opts.Limiter != nil && !l.opts.Limiter.Allow(clientAddr.IP.String()) {
		log.WithFields(fields).Debug("DNS: Rate limit exceeded, dropping query")
		return
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		if name, qtype, ok := dns.Describe(query); ok {
			fields["question"] = name
			fields["type"] = qtype
		}
		log.WithFields(fields).Debugf("DNS: Received %d bytes", n)
	}

	response := l.opts.Responder.Respond(query)
	if response == nil {
		log.WithFields(fields).Debug("DNS: Nothing to answer")
		return
	}

	if err := l.dnsConn.SetWriteDeadline(time.Now().Add(l.opts.IOTimeout)); err != nil {
		log.WithFields(fields).Debugf("DNS: Failed to set write deadline: %v", err)
	}
	if _, err := l.dnsConn.WriteToUDP(response, clientAddr); err != nil {
		l.errors.Add(1)
		log.WithFields(fields).Warnf("DNS: Error sending DNS response: %v", err)
		return
	}
	l.dnsServed.Add(1)
}

// Close closes both sockets; a running loop returns on its next wakeup
func (l *Loop) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	errHTTP := l.httpListener.Close()
	errDNS := l.dnsConn.Close()
	return errors.Join(errHTTP, errDNS)
}
