package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"star-notifier/internal/domain"
)

func newQueue(t *testing.T) (*miniredis.Miniredis, *RedisDigestQueue) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, NewRedisDigestQueue(client, "digest:jobs")
}

func TestRedisQueueRoundTrip(t *testing.T) {
	_, q := newQueue(t)
	ctx := context.Background()
	job := domain.DigestJob{ID: "j1", Week: "2024-W07", RequestedAt: time.Date(2024, 2, 18, 9, 0, 0, 0, time.UTC), Cause: domain.DigestCauseScheduled}

	require.NoError(t, q.Enqueue(ctx, job))
	got, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, job, got)
	require.NoError(t, ack(true))
}

func TestRedisQueueIsFIFO(t *testing.T) {
	_, q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.DigestJob{ID: "first"}))
	require.NoError(t, q.Enqueue(ctx, domain.DigestJob{ID: "second"}))

	got, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID)
}

func TestRedisQueueRequeuesOnFailure(t *testing.T) {
	srv, q := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.DigestJob{ID: "j1"}))

	_, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, ack(false))

	items, err := srv.List("digest:jobs")
	require.NoError(t, err)
	require.Len(t, items, 1)

	got, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", got.ID)
}

func TestRedisQueueReceiveHonoursContext(t *testing.T) {
	_, q := newQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, _, err := q.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueueRejectsGarbage(t *testing.T) {
	srv, q := newQueue(t)
	_, err := srv.Lpush("digest:jobs", "{not json")
	require.NoError(t, err)

	_, _, err = q.Receive(context.Background())
	assert.ErrorContains(t, err, "decode job")
}

func TestOpen(t *testing.T) {
	q, err := Open("", "jobs")
	require.NoError(t, err)
	assert.Nil(t, q)

	srv := miniredis.RunT(t)
	q, err = Open("redis://"+srv.Addr()+"/0", "jobs")
	require.NoError(t, err)
	require.NotNil(t, q)
	require.NoError(t, q.Enqueue(context.Background(), domain.DigestJob{ID: "j1"}))
	assert.True(t, srv.Exists("jobs"))
	require.NoError(t, q.Close())

	_, err = Open("kafka://localhost:9092", "jobs")
	assert.ErrorContains(t, err, "unsupported queue scheme")
}
