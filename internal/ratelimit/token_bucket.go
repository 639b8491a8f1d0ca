// Package ratelimit throttles job submissions per client.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a client may submit another job. It also reports
// the tokens left in the client's bucket.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// TokenBucket keeps one bucket per client key in a Redis hash, so every API
// replica draws from the same budget. Idle buckets expire after ttl.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	perSec   float64
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		perSec:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket. The remaining count is returned
// even when the request is refused.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	args := []any{b.capacity, b.perSec, b.now().UnixMilli(), b.ttl.Milliseconds()}
	reply, err := takeTokenScript.Run(ctx, b.client, []string{key}, args...).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("take token %s: %w", key, err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("take token %s: reply has %d fields", key, len(reply))
	}
	granted, ok := reply[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("take token %s: unexpected grant %T", key, reply[0])
	}
	// Lua numbers come back truncated to integers, so the script sends the
	// fractional balance as a string.
	left, ok := reply[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("take token %s: unexpected balance %T", key, reply[1])
	}
	tokens, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return false, 0, fmt.Errorf("take token %s: %w", key, err)
	}
	return granted == 1, tokens, nil
}

var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_sec = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_ms')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * per_sec)

local granted = 0
if tokens >= 1 then
  tokens = tokens - 1
  granted = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {granted, tostring(tokens)}
`)
