package dispatcher

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused per-user limiter is kept.
const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Limiter throttles inbound events per user. A nil Limiter allows everything.
type Limiter struct {
	mu       sync.Mutex
	limiters map[int64]*limiterEntry
	every    rate.Limit
	burst    int
	now      func() time.Time
}

// NewLimiter allows burst events at once and one more per delay after that.
// A non-positive delay disables throttling.
func NewLimiter(delay time.Duration, burst int) *Limiter {
	if delay <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[int64]*limiterEntry),
		every:    rate.Every(delay),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *Limiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[userID] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

// Sweep drops limiters that have not been used recently.
func (l *Limiter) Sweep() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-limiterIdle)
	n := 0
	for id, e := range l.limiters {
		if e.seen.Before(cutoff) {
			delete(l.limiters, id)
			n++
		}
	}
	return n
}
