package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Fallback limits when SecConfig leaves them unset.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// limiterPool keeps one token bucket per API key so a chatty frontend
// deployment cannot starve backend callers sharing the gateway.
type limiterPool struct {
	mu     sync.Mutex
	perKey map[string]*rate.Limiter
	rps    rate.Limit
	burst  int
}

func newLimiterPool(cfg SecConfig) *limiterPool {
	p := &limiterPool{
		perKey: make(map[string]*rate.Limiter),
		rps:    rate.Limit(cfg.RPS),
		burst:  cfg.Burst,
	}
	if p.rps <= 0 {
		p.rps = defaultRPS
	}
	if p.burst <= 0 {
		p.burst = defaultBurst
	}
	return p
}

// Allow reserves one token for key, creating its bucket on first sight.
func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	l, ok := p.perKey[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.perKey[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
