package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalBucket keeps one token bucket per key in process memory. It backs the
// single-binary deployment that runs without Redis.
type LocalBucket struct {
	mu       sync.Mutex
	capacity int
	refill   rate.Limit
	ttl      time.Duration
	buckets  map[string]*localEntry
	now      func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalBucket mirrors NewTokenBucket. Buckets idle for longer than ttl are
// forgotten.
func NewLocalBucket(capacity int, refillPerSecond float64, ttl time.Duration) *LocalBucket {
	return &LocalBucket{
		capacity: capacity,
		refill:   rate.Limit(refillPerSecond),
		ttl:      ttl,
		buckets:  make(map[string]*localEntry),
		now:      time.Now,
	}
}

func (b *LocalBucket) Allow(_ context.Context, key string) (bool, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.evict(now)
	e, ok := b.buckets[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(b.refill, b.capacity)}
		b.buckets[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	return allowed, e.limiter.TokensAt(now), nil
}

func (b *LocalBucket) evict(now time.Time) {
	if b.ttl <= 0 {
		return
	}
	for k, e := range b.buckets {
		if now.Sub(e.lastSeen) > b.ttl {
			delete(b.buckets, k)
		}
	}
}
