package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig sizes the token buckets handed out per caller key.
type ThrottleConfig struct {
	PerMinute int
	Burst     int
	// IdleTTL drops a key's bucket once it has not been seen for this long.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle hands out one token bucket per key, e.g. "login:203.0.113.9".
type Throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewThrottle builds a Throttle, substituting sane minimums for zero values.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	perMinute := max(cfg.PerMinute, 1)
	burst := max(cfg.Burst, 1)
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Throttle{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Admit consumes a token for key. When the bucket is empty it reports false
// together with how long the caller should wait before retrying.
func (t *Throttle) Admit(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, t.ttl
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (t *Throttle) sweepLocked(now time.Time) {
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.ttl {
			delete(t.buckets, key)
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
