package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyLimiter applies a token bucket per login identifier. Stale buckets
// are swept lazily on access; the service holds no background tasks.
type keyLimiter struct {
	mu      sync.Mutex
	buckets map[string]*keyBucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	swept   time.Time
	now     func() time.Time
}

type keyBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newKeyLimiter(perMinute, burst int, now func() time.Time) *keyLimiter {
	if perMinute <= 0 || burst <= 0 {
		return nil
	}
	return &keyLimiter{
		buckets: make(map[string]*keyBucket),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     now,
	}
}

// allow reports whether another attempt for key may proceed now.
func (l *keyLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &keyBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
