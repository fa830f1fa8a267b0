package queue

import (
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"

	"star-notifier/internal/domain"
)

// Closer is a digest queue holding a connection.
type Closer interface {
	domain.DigestQueue
	Close() error
}

type redisQueue struct {
	*RedisDigestQueue
}

func (q redisQueue) Close() error {
	return q.client.Close()
}

// Open picks the queue implementation by URL scheme: redis, rediss, amqp or amqps.
// An empty url returns a nil queue.
func Open(rawURL, name string) (Closer, error) {
	if rawURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redisQueue{NewRedisDigestQueue(redis.NewClient(opts), name)}, nil
	case "amqp", "amqps":
		return NewRabbitDigestQueue(rawURL, name)
	default:
		return nil, fmt.Errorf("unsupported queue scheme %q", u.Scheme)
	}
}
