package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter is a keyed token bucket. The bot keys it by chat id so one noisy
// chat cannot starve the others.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*entry
	capacity int
	refill   rate.Limit
	now      func() time.Time
}

func New(capacity, refillPerSec float64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		m:        make(map[string]*entry),
		capacity: int(capacity),
		refill:   rate.Limit(refillPerSec),
		now:      time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.refill, l.capacity)}
		l.m[key] = e
	}
	e.last = now
	return e.lim.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than idle. A dropped limiter would have
// refilled to capacity anyway.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, e := range l.m {
		if e.last.Before(cutoff) {
			delete(l.m, k)
			n++
		}
	}
	return n
}
