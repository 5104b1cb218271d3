package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobPrefix  = "dispatch:job:"
	idemPrefix = "dispatch:idem:"
)

type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl, now: time.Now}
}

func (t *RedisTracker) Queue(ctx context.Context, id, provider string) error {
	key := jobPrefix + id
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":     StatusQueued,
		"provider":   provider,
		"updated_at": t.now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to queue job: %w", err)
	}
	return nil
}

func (t *RedisTracker) Start(ctx context.Context, id, provider string, total int) error {
	key := jobPrefix + id
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":     StatusRunning,
		"provider":   provider,
		"total":      total,
		"sent":       0,
		"successful": 0,
		"failed":     0,
		"updated_at": t.now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return nil
}

func (t *RedisTracker) Advance(ctx context.Context, id string, success bool) error {
	key := jobPrefix + id
	field := "failed"
	if success {
		field = "successful"
	}
	pipe := t.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "sent", 1)
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.HSet(ctx, key, "updated_at", t.now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to advance job: %w", err)
	}
	return nil
}

func (t *RedisTracker) Finish(ctx context.Context, id, status string) error {
	key := jobPrefix + id
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, "status", status, "updated_at", t.now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, id string) (*Progress, error) {
	vals, err := t.client.HGetAll(ctx, jobPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	p := &Progress{
		ID:         id,
		Status:     vals["status"],
		Provider:   vals["provider"],
		Total:      atoi(vals["total"]),
		Sent:       atoi(vals["sent"]),
		Successful: atoi(vals["successful"]),
		Failed:     atoi(vals["failed"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		p.UpdatedAt = ts
	}
	return p, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (i *RedisIdempotency) Claim(ctx context.Context, key, jobID string) (string, bool, error) {
	redisKey := idemPrefix + key
	ok, err := i.client.SetNX(ctx, redisKey, jobID, i.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return jobID, true, nil
	}
	existing, err := i.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return i.Claim(ctx, key, jobID)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return existing, false, nil
}

// releaseScript deletes the key only while it still holds the caller's job id.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (i *RedisIdempotency) Release(ctx context.Context, key, jobID string) error {
	if err := releaseScript.Run(ctx, i.client, []string{idemPrefix + key}, jobID).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
