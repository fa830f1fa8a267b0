package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
)

// RedisDigestQueue is a digest job queue on a Redis list.
type RedisDigestQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration
}

var _ domain.DigestQueue = (*RedisDigestQueue)(nil)

// NewRedisDigestQueue creates a queue stored under key.
func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key, poll: time.Second}
}

// Enqueue pushes a job.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive blocks until a job is available. Acknowledging a failure pushes
// the job back for another worker.
func (q *RedisDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if err != nil {
			if ctx.Err() != nil {
				return domain.DigestJob{}, nil, ctx.Err()
			}
			var netErr net.Error
			if errors.Is(err, redis.Nil) || (errors.As(err, &netErr) && netErr.Timeout()) {
				continue
			}
			return domain.DigestJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.DigestJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := res[1]
		var job domain.DigestJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return domain.DigestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.RPush(context.WithoutCancel(ctx), q.key, payload).Err()
		}
		return job, ack, nil
	}
}
