package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisOnceRunsOncePerKey(t *testing.T) {
	srv, client := newRedis(t)
	c := NewRedis(client, "test:")
	ctx := context.Background()

	calls := 0
	fn := func() error { calls++; return nil }
	require.NoError(t, c.Once(ctx, "week", time.Hour, fn))
	require.NoError(t, c.Once(ctx, "week", time.Hour, fn))
	assert.Equal(t, 1, calls)
	assert.True(t, srv.Exists("test:week"))

	srv.FastForward(2 * time.Hour)
	require.NoError(t, c.Once(ctx, "week", time.Hour, fn))
	assert.Equal(t, 2, calls)
}

func TestRedisOnceReleasesKeyOnFailure(t *testing.T) {
	srv, client := newRedis(t)
	c := NewRedis(client, "")
	ctx := context.Background()

	boom := errors.New("boom")
	err := c.Once(ctx, "k", time.Hour, func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, srv.Exists("k"))

	calls := 0
	require.NoError(t, c.Once(ctx, "k", time.Hour, func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestRedisOnceReportsConnectionErrors(t *testing.T) {
	srv, client := newRedis(t)
	srv.Close()
	err := NewRedis(client, "").Once(context.Background(), "k", time.Hour, func() error { return nil })
	assert.Error(t, err)
}

func TestMemoryOnce(t *testing.T) {
	m := NewMemory()
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	calls := 0
	fn := func() error { calls++; return nil }
	require.NoError(t, m.Once(ctx, "k", time.Minute, fn))
	require.NoError(t, m.Once(ctx, "k", time.Minute, fn))
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	require.NoError(t, m.Once(ctx, "k", time.Minute, fn))
	assert.Equal(t, 2, calls)

	require.Error(t, m.Once(ctx, "other", time.Minute, func() error { return errors.New("x") }))
	require.NoError(t, m.Once(ctx, "other", time.Minute, fn))
	assert.Equal(t, 3, calls)
}

func TestRedisJobStatus(t *testing.T) {
	srv, client := newRedis(t)
	s := NewRedisJobStatus(client, "digest:", time.Hour)
	ctx := context.Background()

	delivered, attempt, err := s.Begin(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 1, attempt)

	_, attempt, err = s.Begin(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)

	require.NoError(t, s.MarkDelivered(ctx, "j1"))
	delivered, attempt, err = s.Begin(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, 3, attempt)
	assert.Positive(t, srv.TTL("digest:job:j1"))
}

func TestMemoryJobStatus(t *testing.T) {
	s := NewMemoryJobStatus()
	ctx := context.Background()

	delivered, attempt, err := s.Begin(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 1, attempt)

	require.NoError(t, s.MarkDelivered(ctx, "j1"))
	delivered, attempt, err = s.Begin(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, 2, attempt)
}

func TestRedisJobStatusTracksRecipients(t *testing.T) {
	srv, client := newRedis(t)
	s := NewRedisJobStatus(client, "digest:", time.Hour)
	ctx := context.Background()

	sent, err := s.RecipientDelivered(ctx, "j1", "a@example.com")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, s.MarkRecipient(ctx, "j1", "a@example.com"))
	sent, err = s.RecipientDelivered(ctx, "j1", "a@example.com")
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = s.RecipientDelivered(ctx, "j1", "b@example.com")
	require.NoError(t, err)
	assert.False(t, sent)
	sent, err = s.RecipientDelivered(ctx, "j2", "a@example.com")
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, "true", srv.HGet("digest:job:j1", "to:a@example.com"))
	assert.Positive(t, srv.TTL("digest:job:j1"))
}

func TestMemoryJobStatusTracksRecipients(t *testing.T) {
	s := NewMemoryJobStatus()
	ctx := context.Background()

	sent, err := s.RecipientDelivered(ctx, "j1", "a@example.com")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, s.MarkRecipient(ctx, "j1", "a@example.com"))
	sent, err = s.RecipientDelivered(ctx, "j1", "a@example.com")
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = s.RecipientDelivered(ctx, "j1", "b@example.com")
	require.NoError(t, err)
	assert.False(t, sent)
}
