package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"protoscript/internal/config"
)

// RedisQueue coordinates ready and in-flight job ids in Redis. A dequeued id
// is leased for the visibility timeout; leases that expire are pushed back to
// the ready list, which gives at-least-once delivery.
type RedisQueue struct {
	client         *redis.Client
	readyKey       string
	inflightKey    string
	messagePrefix  string
	dlqKey         string
	visibilityTTL  time.Duration
	pollInterval   time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	reclaimBatch   int64
}

// NewRedisClient builds a go-redis client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue builds a queue on an existing client.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = "protocols"
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Minute
	}
	poll := cfg.WorkerPollInterval
	if poll == 0 {
		poll = time.Second
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = prefix + ":dlq"
	}
	backoffInitial, backoffMax := cfg.BackoffInitial, cfg.BackoffMax
	if backoffInitial == 0 {
		backoffInitial = time.Second
	}
	if backoffMax < backoffInitial {
		backoffMax = backoffInitial
	}
	return &RedisQueue{
		client:         client,
		readyKey:       prefix + ":queue:ready",
		inflightKey:    prefix + ":queue:inflight",
		messagePrefix:  prefix + ":queue:msg:",
		dlqKey:         dlq,
		visibilityTTL:  visibility,
		pollInterval:   poll,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		reclaimBatch:   100,
	}
}

func (q *RedisQueue) messageKey(jobID string) string {
	return q.messagePrefix + jobID
}

// Enqueue stores the message parameters and appends the job id to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.messageKey(msg.JobID), "template", msg.TemplateName)
	pipe.RPush(ctx, q.readyKey, msg.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.JobID, err)
	}
	return nil
}

// DequeueWithLease pops the next ready job id and places it in flight until
// the visibility deadline. It returns "" when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(q.visibilityTTL).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking along with its parameters.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.messageKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired moves in-flight jobs whose lease ran out back to the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) ([]string, error) {
	res, err := requeueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), q.reclaimBatch).StringSlice()
	if err == redis.Nil {
		return nil, nil
	}
	return res, err
}

// DLQPush records a job whose handler failed, for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQPeek reads the oldest dead-lettered job ids.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// Next reclaims expired leases, then leases the next ready job. Transport
// errors are retried with jittered backoff until ctx is done.
func (q *RedisQueue) Next(ctx context.Context) (*Delivery, error) {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if reclaimed, err := q.RequeueExpired(ctx, time.Now()); err == nil && len(reclaimed) > 0 {
			log.Printf("queue: requeued %d expired leases: %v", len(reclaimed), reclaimed)
		}

		jobID, err := q.DequeueWithLease(ctx)
		if err != nil {
			failures++
			wait := backoffWithJitter(q.backoffInitial, q.backoffMax, failures)
			log.Printf("queue: dequeue failed (attempt %d, retry in %s): %v", failures, wait, err)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		failures = 0
		if jobID == "" {
			if err := sleepCtx(ctx, q.pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		template, err := q.client.HGet(ctx, q.messageKey(jobID), "template").Result()
		if err != nil && err != redis.Nil {
			log.Printf("queue: job %s: read parameters: %v", jobID, err)
		}
		return q.delivery(Message{JobID: jobID, TemplateName: template}), nil
	}
}

func (q *RedisQueue) delivery(msg Message) *Delivery {
	return &Delivery{
		Message: msg,
		ack: func(ctx context.Context) error {
			return q.Ack(ctx, msg.JobID)
		},
		fail: func(ctx context.Context, cause error) error {
			if err := q.DLQPush(ctx, msg.JobID); err != nil {
				return fmt.Errorf("dlq push: %w", err)
			}
			return q.Ack(ctx, msg.JobID)
		},
		extend: func(ctx context.Context) error {
			return q.ExtendLease(ctx, msg.JobID)
		},
	}
}

// LeaseInterval is how often a running job should extend its lease.
func (q *RedisQueue) LeaseInterval() time.Duration {
	return q.visibilityTTL / 3
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = {}
for _, id in ipairs(ids) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    table.insert(moved, id)
  end
end
return moved
`)
