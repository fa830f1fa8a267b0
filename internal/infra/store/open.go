// Package store opens the record store on the backend named by a URL.
package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/db"
	"star-notifier/internal/rtdb"
)

// Handle is an opened store with the connection it runs on.
type Handle struct {
	Store   *rtdb.Store
	Backend string
	// Redis is set when the store runs on Redis, so other components can share it.
	Redis *redis.Client
	Pool  *pgxpool.Pool
}

// Open connects to the backend selected by rawURL, starts the change feed and
// returns the store. An empty URL or memory:// gives an in-process store.
func Open(ctx context.Context, rawURL, namespace string, logger zerolog.Logger) (*Handle, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	h := &Handle{Backend: u.Scheme}
	var backend rtdb.Backend
	switch u.Scheme {
	case "", "memory":
		h.Backend = "memory"
		backend = rtdb.NewMemory()
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		h.Redis = redis.NewClient(opts)
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			_ = h.Redis.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		backend = NewRedis(h.Redis, namespace, logger)
	case "postgres", "postgresql":
		h.Pool, err = db.Connect(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := Migrate(ctx, h.Pool); err != nil {
			h.Pool.Close()
			return nil, err
		}
		backend = NewPostgres(h.Pool, namespace, logger)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}

	h.Store = rtdb.NewStore(backend, logger, domain.RecordLayout()...)
	if err := h.Store.Start(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("start change feed: %w", err)
	}
	logger.Info().Str("backend", h.Backend).Str("namespace", namespace).Msg("store: opened")
	return h, nil
}

// Close releases the store and its connections.
func (h *Handle) Close() {
	if h.Store != nil {
		_ = h.Store.Close()
	}
	if h.Redis != nil {
		_ = h.Redis.Close()
	}
	if h.Pool != nil {
		h.Pool.Close()
	}
}
