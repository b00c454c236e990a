// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out per-key limiters and forgets keys idle for longer
// than the idle window.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*entry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	lastGC  time.Time
	nowFunc func() time.Time
}

// New allows perMinute sustained requests per key with the given burst.
func New(perMinute, burst int) *Limiter {
	return &Limiter{
		keys:    make(map[string]*entry),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		idle:    10 * time.Minute,
		nowFunc: time.Now,
	}
}

// Allow reports whether key may proceed now. When it may not, the second
// value is how long until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.nowFunc()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	e, ok := l.keys[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.keys[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastGC) < l.idle {
		return
	}
	l.lastGC = now
	for k, e := range l.keys {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.keys, k)
		}
	}
}

// Middleware limits by client IP. Forwarding headers only count when the
// engine trusts the proxy that sent them.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Allow(c.ClientIP())
		if !ok {
			httpx.Fail(c, apperror.RateLimited(wait))
			return
		}
		c.Next()
	}
}
