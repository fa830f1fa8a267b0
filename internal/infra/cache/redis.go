package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"star-notifier/internal/domain"
)

// RedisCache implements domain.Cache with SETNX so only one instance runs fn per key.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis creates a cache. Keys are stored under prefix.
func NewRedis(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Once runs fn if key is not set yet. The key is released when fn fails.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	full := c.prefix + key
	ok, err := c.client.SetNX(ctx, full, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(context.WithoutCancel(ctx), full).Err()
		return err
	}
	return nil
}

// RedisJobStatus keeps digest job attempts in a Redis hash per job.
type RedisJobStatus struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.DigestJobStatus = (*RedisJobStatus)(nil)

// NewRedisJobStatus creates a tracker; entries expire after ttl.
func NewRedisJobStatus(client *redis.Client, prefix string, ttl time.Duration) *RedisJobStatus {
	return &RedisJobStatus{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisJobStatus) key(jobID string) string {
	return s.prefix + "job:" + jobID
}

// Begin increments the attempt counter of jobID.
func (s *RedisJobStatus) Begin(ctx context.Context, jobID string) (bool, int, error) {
	key := s.key(jobID)
	var (
		attempts  *redis.IntCmd
		delivered *redis.StringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		attempts = pipe.HIncrBy(ctx, key, "attempts", 1)
		delivered = pipe.HGet(ctx, key, "delivered")
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, fmt.Errorf("begin job %s: %w", jobID, err)
	}
	done, _ := strconv.ParseBool(delivered.Val())
	return done, int(attempts.Val()), nil
}

// MarkDelivered flags jobID as done.
func (s *RedisJobStatus) MarkDelivered(ctx context.Context, jobID string) error {
	if err := s.client.HSet(ctx, s.key(jobID), "delivered", "true").Err(); err != nil {
		return fmt.Errorf("mark job %s: %w", jobID, err)
	}
	return nil
}

func recipientField(to string) string {
	return "to:" + to
}

// RecipientDelivered checks the per-recipient flag of jobID.
func (s *RedisJobStatus) RecipientDelivered(ctx context.Context, jobID, to string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.key(jobID), recipientField(to)).Result()
	if err != nil {
		return false, fmt.Errorf("check job %s recipient: %w", jobID, err)
	}
	return ok, nil
}

// MarkRecipient records that the digest of jobID reached to.
func (s *RedisJobStatus) MarkRecipient(ctx context.Context, jobID, to string) error {
	key := s.key(jobID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, recipientField(to), "true")
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark job %s recipient: %w", jobID, err)
	}
	return nil
}
