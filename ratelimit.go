package snmp3

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sourceLimiter applies one token bucket per sender and forgets idle senders.
type sourceLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*sourceEntry
	hits  uint64
}

type sourceEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSourceLimiter returns nil, which allows everything, unless rps and burst
// are positive.
func newSourceLimiter(rps float64, burst int) *sourceLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &sourceLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   map[string]*sourceEntry{},
	}
}

func (l *sourceLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &sourceEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
