package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"captivelog/config"
	"captivelog/dns"
	"captivelog/eventloop"
	"captivelog/indicator"
	"captivelog/portal"
	"captivelog/store"
	"captivelog/wireless"

	log "github.com/sirupsen/logrus"
)

// Loader produces the configuration for the next run
type Loader func() (config.Config, error)

// AccessPointFactory returns the access point to bring up for cfg
type AccessPointFactory func(cfg config.Config) wireless.AccessPoint

// Options configures a Supervisor
type Options struct {
	Load        Loader
	AccessPoint AccessPointFactory  // defaults to DefaultAccessPoint
	Indicator   indicator.Indicator // shared by every run
	Reload      <-chan struct{}     // each receive restarts with a fresh config
}

// Supervisor keeps the portal running. Each run brings up the access point,
// binds both sockets and drives the event loop; when a run fails everything
// is torn down and started again after the restart delay.
type Supervisor struct {
	opts     Options
	restarts atomic.Uint64

	mu      sync.Mutex
	current *eventloop.Loop
}

// bindError marks a failure to open the portal sockets
type bindError struct{ err error }

func (e *bindError) Error() string { return e.err.Error() }
func (e *bindError) Unwrap() error { return e.err }

// New creates a Supervisor
func New(opts Options) (*Supervisor, error) {
	if opts.Load == nil {
		return nil, errors.New("service: a config loader is required")
	}
	if opts.AccessPoint == nil {
		opts.AccessPoint = DefaultAccessPoint
	}
	if opts.Indicator == nil {
		opts.Indicator = indicator.Nop{}
	}
	return &Supervisor{opts: opts}, nil
}

// DefaultAccessPoint builds a WiFi access point when ap.enabled is set and a
// static address otherwise
func DefaultAccessPoint(cfg config.Config) wireless.AccessPoint {
	ip := net.ParseIP(cfg.AP.IP)
	if !cfg.AP.Enabled {
		return wireless.Static{IP: ip}
	}
	return wireless.NewAP(wireless.Settings{
		SSID:       cfg.AP.SSID,
		Passphrase: cfg.AP.Passphrase,
		Interface:  cfg.AP.Interface,
		Channel:    cfg.AP.Channel,
		IP:         ip,
		DHCP:       cfg.AP.DHCP,
		DNSPort:    config.PortOf(cfg.DNS.Addr),
		HTTPPort:   config.PortOf(cfg.Portal.HTTPAddr),
	})
}

// Current returns the loop of the active run, or nil between runs
func (s *Supervisor) Current() *eventloop.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Restarts counts how many runs have been started after the first
func (s *Supervisor) Restarts() uint64 {
	return s.restarts.Load()
}

func (s *Supervisor) setCurrent(l *eventloop.Loop) {
	s.mu.Lock()
	s.current = l
	s.mu.Unlock()
}

// Supervise runs the portal until ctx is cancelled, then returns nil. An
// unusable initial config or a bind failure on the very first run is
// returned; every later failure is logged and retried.
func (s *Supervisor) Supervise(ctx context.Context) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}

	for first := true; ; first = false {
		if !first {
			s.restarts.Add(1)
		}

		reload, err := s.run(ctx, cfg)
		if ctx.Err() != nil {
			log.Info("Service: Shutting down")
			return nil
		}

		if err != nil {
			var be *bindError
			if first && errors.As(err, &be) {
				return err
			}
			delay := cfg.Supervisor.RestartDelay.Duration
			log.Errorf("Service: %v; restarting in %s", err, delay)
			reload, err = s.wait(ctx, delay)
			if err != nil {
				return nil
			}
		}

		if reload {
			cfg = s.reload(cfg)
		}
	}
}

// wait sleeps for delay. It returns early with reload set when a reload is
// requested, or with an error when ctx ends.
func (s *Supervisor) wait(ctx context.Context, delay time.Duration) (reload bool, err error) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.opts.Reload:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (s *Supervisor) load() (config.Config, error) {
	cfg, err := s.opts.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// reload returns the freshly loaded config, or old if it is unusable
func (s *Supervisor) reload(old config.Config) config.Config {
	cfg, err := s.load()
	if err != nil {
		log.Errorf("Service: Reload failed, keeping current config: %v", err)
		return old
	}
	log.Info("Service: Configuration reloaded")
	return cfg
}

// run performs one bring-up and serves until the loop fails, a reload is
// requested or ctx ends. Everything it started is stopped before it returns.
func (s *Supervisor) run(ctx context.Context, cfg config.Config) (reload bool, err error) {
	ap := s.opts.AccessPoint(cfg)
	ip, err := ap.Activate(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to activate access point: %w", err)
	}
	defer ap.Deactivate()

	ln, pc, err := eventloop.Bind(cfg.Portal.HTTPAddr, cfg.DNS.Addr)
	if err != nil {
		return false, &bindError{err}
	}

	opts := eventloop.Options{
		Handler:      portal.NewHandler(store.New(cfg.Store.Path), portal.NewTemplateManager(cfg.Portal.Title)),
		Responder:    dns.NewResponder(ip, cfg.DNS.TTL),
		Indicator:    s.opts.Indicator,
		ReadSize:     cfg.Portal.ReadSize,
		IOTimeout:    cfg.Portal.IOTimeout.Duration,
		PollInterval: cfg.Supervisor.PollInterval.Duration,
	}
	if limiter := dns.NewLimiter(cfg.DNS.RateQPS, cfg.DNS.RateBurst); limiter != nil {
		opts.Limiter = limiter
	}

	loop, err := eventloop.New(ln, pc, opts)
	if err != nil {
		ln.Close()
		pc.Close()
		return false, err
	}
	defer loop.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(runCtx) }()

	s.setCurrent(loop)
	defer s.setCurrent(nil)
	log.Infof("Service: Portal at %s, answering DNS with %s, log in %s", loop.HTTPAddr(), ip, cfg.Store.Path)

	select {
	case err := <-done:
		if err == nil && ctx.Err() == nil {
			err = errors.New("event loop stopped")
		}
		return false, err
	case <-s.opts.Reload:
		log.Info("Service: Reload requested")
		cancel()
		<-done
		return true, nil
	case <-ctx.Done():
		<-done
		return false, nil
	}
}
