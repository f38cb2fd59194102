package deviceapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter rate-limits the public pairing endpoint per key (source IP
// and device public id get separate keys).
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	stopCh  chan struct{}
}

func newKeyedLimiter(perMinute int) *keyedLimiter {
	l := &keyedLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		entries: make(map[string]*limiterEntry),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether all keys may proceed; when one may not, the returned
// duration is the suggested Retry-After. A token is only committed when every
// key has one, so a rejection does not burn tokens on the keys that passed.
func (l *keyedLimiter) Allow(keys ...string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	lims := make([]*rate.Limiter, len(keys))
	for i, key := range keys {
		e := l.entries[key]
		if e == nil {
			e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
			l.entries[key] = e
		}
		e.lastSeen = now
		lims[i] = e.lim
	}
	l.mu.Unlock()

	held := make([]*rate.Reservation, 0, len(lims))
	for _, lim := range lims {
		r := lim.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			for _, h := range held {
				h.Cancel()
			}
			return false, d
		}
		held = append(held, r)
	}
	return true, 0
}

func (l *keyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *keyedLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

func (l *keyedLimiter) Stop() {
	close(l.stopCh)
}
