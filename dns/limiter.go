package dns

import (
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Limiter applies a per-client token bucket to incoming queries. Buckets of
// clients that went quiet expire after idleTTL.
type Limiter struct {
	qps     rate.Limit
	burst   int
	clients *cache.Cache
}

const (
	idleTTL       = 10 * time.Minute
	cleanInterval = time.Minute
)

// NewLimiter creates a limiter allowing qps queries per second per client
// with the given burst. qps <= 0 returns nil, which admits everything.
func NewLimiter(qps float64, burst int) *Limiter {
	if qps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		qps:     rate.Limit(qps),
		burst:   burst,
		clients: cache.New(idleTTL, cleanInterval),
	}
}

// Allow reports whether a query from client may be answered now
func (l *Limiter) Allow(client string) bool {
	if l == nil {
		return true
	}

	var limiter *rate.Limiter
	if v, found := l.clients.Get(client); found {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.qps, l.burst)
	}
	// refresh the idle expiry on every query
	l.clients.SetDefault(client, limiter)
	return limiter.Allow()
}
