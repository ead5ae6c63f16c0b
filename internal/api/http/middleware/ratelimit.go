package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/kai-familiar/marmot-cli/internal/api/http/handler"
	"github.com/kai-familiar/marmot-cli/internal/config"
)

const limiterTTL = 10 * time.Minute

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per client IP.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	if now.Sub(p.lastSweep) > limiterTTL {
		for k, e := range p.m {
			if now.Sub(e.lastSeen) > limiterTTL {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}

	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now

	return e.l.AllowN(now, 1)
}

// RateLimit is a no-op when rps is not positive.
func RateLimit(cfg config.RateLimit) gin.HandlerFunc {
	if cfg.RPS <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	pool := &limiterPool{
		m:         make(map[string]*limiterEntry),
		rps:       rate.Limit(cfg.RPS),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}

	return func(c *gin.Context) {
		if !pool.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handler.ResponseWithMessage{
				Status:  handler.StatusNotAvailable,
				Message: "rate limit exceeded",
			})

			return
		}

		c.Next()
	}
}
