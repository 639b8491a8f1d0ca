package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "tenant")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "tenant")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "tenant")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

}

func TestTokenBucketRefillsFractionally(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	bucket := NewTokenBucket(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 2, 1, time.Minute)
	bucket.now = func() time.Time { return now }

	if allowed, tokens, err := bucket.Allow(ctx, "rl:carol"); err != nil || !allowed || tokens != 1 {
		t.Fatalf("first: allowed=%v tokens=%v err=%v", allowed, tokens, err)
	}
	if allowed, tokens, _ := bucket.Allow(ctx, "rl:carol"); !allowed || tokens != 0 {
		t.Fatalf("second: allowed=%v tokens=%v", allowed, tokens)
	}

	now = now.Add(500 * time.Millisecond)
	allowed, tokens, err := bucket.Allow(ctx, "rl:carol")
	if err != nil || allowed {
		t.Fatalf("half refilled: allowed=%v err=%v", allowed, err)
	}
	if tokens != 0.5 {
		t.Fatalf("tokens = %v, want 0.5", tokens)
	}

	now = now.Add(500 * time.Millisecond)
	if allowed, _, _ := bucket.Allow(ctx, "rl:carol"); !allowed {
		t.Fatalf("expected token after a full second")
	}
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 1, 0.001, time.Minute)

	if allowed, _, _ := bucket.Allow(ctx, "rl:alice"); !allowed {
		t.Fatalf("expected alice allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "rl:alice"); allowed {
		t.Fatalf("expected alice throttled")
	}
	if allowed, _, _ := bucket.Allow(ctx, "rl:bob"); !allowed {
		t.Fatalf("expected bob unaffected by alice")
	}
	if ttl := mr.TTL("rl:alice"); ttl <= 0 {
		t.Fatalf("bucket key has no ttl: %s", ttl)
	}
}

func TestLocalBucket(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	bucket := NewLocalBucket(2, 1, time.Minute)
	bucket.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if allowed, _, err := bucket.Allow(ctx, "tenant"); err != nil || !allowed {
			t.Fatalf("token %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	if allowed, _, _ := bucket.Allow(ctx, "tenant"); allowed {
		t.Fatalf("expected third token to be rejected")
	}

	now = now.Add(1500 * time.Millisecond)
	if allowed, _, _ := bucket.Allow(ctx, "tenant"); !allowed {
		t.Fatalf("expected refill after 1.5s")
	}

	now = now.Add(2 * time.Minute)
	_, tokens, _ := bucket.Allow(ctx, "tenant")
	if tokens != 1 {
		t.Fatalf("tokens after idle eviction = %v, want 1", tokens)
	}
}
