package stars

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"star-notifier/internal/domain"
	"star-notifier/internal/rtdb"
)

func newStore(t *testing.T) (*rtdb.Store, *rtdb.Memory, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	backend := rtdb.NewMemory()
	store := rtdb.NewStore(backend, zerolog.Nop(), domain.RecordLayout()...)
	require.NoError(t, store.Start(ctx))
	return store, backend, ctx
}

func readPost(t *testing.T, store *rtdb.Store, ctx context.Context, path string) domain.Post {
	t.Helper()
	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	var post domain.Post
	require.NoError(t, snap.Decode(&post))
	return post
}

func TestReconcileCountsStars(t *testing.T) {
	store, _, ctx := newStore(t)
	post := map[string]any{"uid": "u1", "title": "t", "stars": map[string]any{"u2": true, "u3": true}}
	require.NoError(t, store.Update(ctx, map[string]any{
		"posts/p1":         post,
		"user-posts/u1/p1": post,
	}))

	r := NewReconciler(store, zerolog.Nop())
	require.NoError(t, r.ReconcilePost(ctx, "p1", "u1"))

	primary := readPost(t, store, ctx, "posts/p1")
	secondary := readPost(t, store, ctx, "user-posts/u1/p1")
	assert.Equal(t, 2, primary.StarCount)
	assert.Equal(t, 2, secondary.StarCount)
	assert.Equal(t, "t", primary.Title, "fields not owned by the reconciler are preserved")
}

func TestReconcileEmptyStarSet(t *testing.T) {
	store, _, ctx := newStore(t)
	require.NoError(t, store.Set(ctx, "posts/p1", map[string]any{"uid": "u1", "starCount": 3, "stars": map[string]any{"u2": true}}))
	require.NoError(t, store.Set(ctx, "posts/p1/stars/u2", nil))

	r := NewReconciler(store, zerolog.Nop())
	require.NoError(t, r.Reconcile(ctx, "posts/p1"))
	assert.Equal(t, 0, readPost(t, store, ctx, "posts/p1").StarCount)
}

func TestReconcileMissingRecordIsNoop(t *testing.T) {
	store, backend, ctx := newStore(t)
	r := NewReconciler(store, zerolog.Nop())

	require.NoError(t, r.Reconcile(ctx, "posts/ghost"))
	snap, err := store.Get(ctx, "posts/ghost")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	buckets, err := backend.Load(ctx, "posts/ghost")
	require.NoError(t, err)
	assert.Zero(t, buckets[0].Version)
}

func TestReconcileIsIdempotent(t *testing.T) {
	store, backend, ctx := newStore(t)
	require.NoError(t, store.Set(ctx, "posts/p1", map[string]any{"uid": "u1", "stars": map[string]any{"u2": true}}))
	r := NewReconciler(store, zerolog.Nop())

	require.NoError(t, r.Reconcile(ctx, "posts/p1"))
	first, err := backend.Load(ctx, "posts/p1")
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(ctx, "posts/p1"))
	second, err := backend.Load(ctx, "posts/p1")
	require.NoError(t, err)

	assert.Equal(t, first[0].Version, second[0].Version, "second pass writes nothing")
	assert.Equal(t, first[0].Body, second[0].Body)
}

func TestConcurrentStarsConverge(t *testing.T) {
	store, _, ctx := newStore(t)
	require.NoError(t, store.Set(ctx, "posts/p1", map[string]any{"uid": "u1"}))
	r := NewReconciler(store, zerolog.Nop())

	const starrers = 16
	var wg sync.WaitGroup
	for i := 0; i < starrers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Transaction(ctx, "posts/p1", func(current any) (any, error) {
				post := current.(map[string]any)
				starSet, _ := post["stars"].(map[string]any)
				if starSet == nil {
					starSet = map[string]any{}
				}
				starSet[fmt.Sprintf("u%d", i+100)] = true
				post["stars"] = starSet
				return post, nil
			})
			assert.NoError(t, err)
			assert.NoError(t, r.Reconcile(ctx, "posts/p1"))
		}(i)
	}
	wg.Wait()

	post := readPost(t, store, ctx, "posts/p1")
	assert.Len(t, post.Stars, starrers)
	assert.Equal(t, starrers, post.StarCount)
}

func TestCountStars(t *testing.T) {
	tests := []struct {
		name   string
		record any
		want   any
	}{
		{name: "absent", record: nil, want: nil},
		{name: "leaf", record: "text", want: "text"},
		{name: "no stars", record: map[string]any{"uid": "u1"}, want: map[string]any{"uid": "u1", "starCount": float64(0)}},
		{name: "stars not an object", record: map[string]any{"stars": true}, want: map[string]any{"stars": true, "starCount": float64(0)}},
		{
			name:   "two stars",
			record: map[string]any{"stars": map[string]any{"a": true, "b": true}, "starCount": float64(7)},
			want:   map[string]any{"stars": map[string]any{"a": true, "b": true}, "starCount": float64(2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountStars(tt.record))
		})
	}
}
