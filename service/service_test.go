package service

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"captivelog/config"
	"captivelog/eventloop"
	"captivelog/wireless"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

// flakyAP fails the first failures activations
type flakyAP struct {
	failures    int32
	activated   atomic.Int32
	deactivated atomic.Int32
}

func (a *flakyAP) Activate(ctx context.Context) (net.IP, error) {
	if a.activated.Add(1) <= a.failures {
		return nil, errors.New("radio busy")
	}
	return net.IPv4(192, 168, 4, 1).To4(), nil
}

func (a *flakyAP) Deactivate() { a.deactivated.Add(1) }

// configs hands out a sequence of load results, repeating the last one
type configs struct {
	mu      sync.Mutex
	results []func() (config.Config, error)
}

func (c *configs) load() (config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return next()
}

type ServiceSuite struct {
	cfg    config.Config
	ap     *flakyAP
	reload chan struct{}
	cancel context.CancelFunc
	done   chan error
}

var _ = check.Suite(&ServiceSuite{})

func (s *ServiceSuite) SetUpTest(c *check.C) {
	s.cfg = config.Default()
	s.cfg.Portal.HTTPAddr = "127.0.0.1:0"
	s.cfg.Portal.IOTimeout = config.Duration{Duration: 300 * time.Millisecond}
	s.cfg.DNS.Addr = "127.0.0.1:0"
	s.cfg.Store.Path = filepath.Join(c.MkDir(), "guest.txt")
	s.cfg.Supervisor.RestartDelay = config.Duration{Duration: 10 * time.Millisecond}
	s.cfg.Supervisor.PollInterval = config.Duration{Duration: 20 * time.Millisecond}

	s.ap = &flakyAP{}
	s.reload = make(chan struct{}, 1)
	s.cancel = nil
}

func (s *ServiceSuite) TearDownTest(c *check.C) {
	if s.cancel != nil {
		s.stop(c)
	}
}

func (s *ServiceSuite) supervisor(c *check.C, load Loader) *Supervisor {
	sup, err := New(Options{
		Load:        load,
		AccessPoint: func(config.Config) wireless.AccessPoint { return s.ap },
		Reload:      s.reload,
	})
	c.Assert(err, check.IsNil)
	return sup
}

func (s *ServiceSuite) start(sup *Supervisor) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- sup.Supervise(ctx) }()
}

func (s *ServiceSuite) stop(c *check.C) {
	s.cancel()
	s.cancel = nil
	select {
	case err := <-s.done:
		c.Check(err, check.IsNil)
	case <-time.After(2 * time.Second):
		c.Fatal("supervisor did not stop")
	}
}

func (s *ServiceSuite) fixed(cfg config.Config) Loader {
	return func() (config.Config, error) { return cfg, nil }
}

func waitFor(c *check.C, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForLoop(c *check.C, sup *Supervisor, not *eventloop.Loop) *eventloop.Loop {
	var loop *eventloop.Loop
	waitFor(c, func() bool {
		loop = sup.Current()
		return loop != nil && loop != not
	})
	return loop
}

func get(c *check.C, loop *eventloop.Loop, target string) string {
	conn, err := net.Dial("tcp", loop.HTTPAddr().String())
	c.Assert(err, check.IsNil)
	defer conn.Close()
	_, err = conn.Write([]byte("GET " + target + " HTTP/1.1\r\nHost: portal\r\n\r\n"))
	c.Assert(err, check.IsNil)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(conn)
	c.Assert(err, check.IsNil)
	return string(data)
}

func (s *ServiceSuite) TestServesUntilCancelled(c *check.C) {
	sup := s.supervisor(c, s.fixed(s.cfg))
	s.start(sup)

	loop := waitForLoop(c, sup, nil)
	resp := get(c, loop, "/submit?log_text=first+guest")
	c.Check(strings.Contains(resp, "first guest"), check.Equals, true)

	s.stop(c)
	c.Check(sup.Current(), check.IsNil)
	c.Check(s.ap.deactivated.Load(), check.Equals, int32(1))
	c.Check(sup.Restarts(), check.Equals, uint64(0))
}

func (s *ServiceSuite) TestActivationFailureRetried(c *check.C) {
	s.ap.failures = 2
	sup := s.supervisor(c, s.fixed(s.cfg))
	s.start(sup)

	waitForLoop(c, sup, nil)
	c.Check(s.ap.activated.Load(), check.Equals, int32(3))
	c.Check(sup.Restarts(), check.Equals, uint64(2))
}

func (s *ServiceSuite) TestReloadAppliesNewConfig(c *check.C) {
	second := s.cfg
	second.Portal.Title = "Visitors"
	seq := &configs{results: []func() (config.Config, error){
		func() (config.Config, error) { return s.cfg, nil },
		func() (config.Config, error) { return second, nil },
	}}
	sup := s.supervisor(c, seq.load)
	s.start(sup)

	first := waitForLoop(c, sup, nil)
	c.Check(strings.Contains(get(c, first, "/"), "<title>Guest Log</title>"), check.Equals, true)

	s.reload <- struct{}{}
	next := waitForLoop(c, sup, first)
	c.Check(strings.Contains(get(c, next, "/"), "<title>Visitors</title>"), check.Equals, true)
	c.Check(s.ap.deactivated.Load() >= 1, check.Equals, true)
}

func (s *ServiceSuite) TestBadReloadKeepsConfig(c *check.C) {
	seq := &configs{results: []func() (config.Config, error){
		func() (config.Config, error) { return s.cfg, nil },
		func() (config.Config, error) { return config.Config{}, errors.New("parse error") },
	}}
	sup := s.supervisor(c, seq.load)
	s.start(sup)

	first := waitForLoop(c, sup, nil)
	s.reload <- struct{}{}
	next := waitForLoop(c, sup, first)
	c.Check(strings.Contains(get(c, next, "/"), "<title>Guest Log</title>"), check.Equals, true)
}

func (s *ServiceSuite) TestInvalidInitialConfig(c *check.C) {
	s.cfg.DNS.TTL = 0
	sup := s.supervisor(c, s.fixed(s.cfg))

	err := sup.Supervise(context.Background())
	c.Check(err, check.ErrorMatches, "invalid config: dns.ttl.*")
}

func (s *ServiceSuite) TestFirstBindFailureReturned(c *check.C) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	c.Assert(err, check.IsNil)
	defer ln.Close()
	s.cfg.Portal.HTTPAddr = ln.Addr().String()

	sup := s.supervisor(c, s.fixed(s.cfg))
	err = sup.Supervise(context.Background())
	c.Check(err, check.ErrorMatches, "failed to listen on .*")
	c.Check(s.ap.deactivated.Load(), check.Equals, int32(1))
}

func (s *ServiceSuite) TestDefaultAccessPoint(c *check.C) {
	ap := DefaultAccessPoint(s.cfg)
	static, ok := ap.(wireless.Static)
	c.Assert(ok, check.Equals, true)
	c.Check(static.IP.String(), check.Equals, "192.168.4.1")

	s.cfg.AP.Enabled = true
	_, ok = DefaultAccessPoint(s.cfg).(*wireless.AP)
	c.Check(ok, check.Equals, true)
}

func (s *ServiceSuite) TestLoaderRequired(c *check.C) {
	_, err := New(Options{})
	c.Check(err, check.NotNil)
}
