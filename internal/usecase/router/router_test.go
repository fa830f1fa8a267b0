package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"star-notifier/internal/domain"
	"star-notifier/internal/rtdb"
	"star-notifier/internal/usecase/stars"
)

type notification struct {
	authorID string
	postID   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, authorID, postID string) domain.NotifyOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{authorID: authorID, postID: postID})
	return domain.NotifySent
}

func (f *fakeNotifier) calls() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.sent...)
}

type countingReconciler struct {
	mu    sync.Mutex
	posts []string
}

func (c *countingReconciler) ReconcilePost(_ context.Context, postID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, postID)
	return nil
}

func (c *countingReconciler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts)
}

func newStore(t *testing.T) (*rtdb.Store, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := rtdb.NewStore(rtdb.NewMemory(), zerolog.Nop(), domain.RecordLayout()...)
	require.NoError(t, store.Start(ctx))
	return store, ctx
}

func writePost(t *testing.T, store *rtdb.Store, ctx context.Context, postID string, post map[string]any) {
	t.Helper()
	require.NoError(t, store.Update(ctx, map[string]any{
		domain.PostPath(postID):                           post,
		domain.UserPostPath(post["uid"].(string), postID): post,
	}))
}

func starCount(t *testing.T, store *rtdb.Store, ctx context.Context, path string) int {
	t.Helper()
	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	var post domain.Post
	require.NoError(t, snap.Decode(&post))
	return post.StarCount
}

func TestRouterReconcilesAndNotifies(t *testing.T) {
	store, ctx := newStore(t)
	writePost(t, store, ctx, "p1", map[string]any{"uid": "u1", "title": "hello", "stars": map[string]any{"u2": true}})

	notifier := &fakeNotifier{}
	r := New(store, stars.NewReconciler(store, zerolog.Nop()), notifier, Options{NotifyExistingStars: true}, zerolog.Nop())
	require.NoError(t, r.Start(ctx))
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool {
		return starCount(t, store, ctx, "posts/p1") == 1 && starCount(t, store, ctx, "user-posts/u1/p1") == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(notifier.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Update(ctx, map[string]any{
		"posts/p1/stars/u3":         true,
		"user-posts/u1/p1/stars/u3": true,
	}))

	require.Eventually(t, func() bool {
		return starCount(t, store, ctx, "posts/p1") == 2 && starCount(t, store, ctx, "user-posts/u1/p1") == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(notifier.calls()) == 2 }, 2*time.Second, 10*time.Millisecond)

	for _, n := range notifier.calls() {
		assert.Equal(t, notification{authorID: "u1", postID: "p1"}, n)
	}

	snap, err := store.Get(ctx, "posts/p1/title")
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Value)
}

func TestRouterSkipsExistingStarsWhenDisabled(t *testing.T) {
	store, ctx := newStore(t)
	writePost(t, store, ctx, "p1", map[string]any{"uid": "u1", "stars": map[string]any{"u2": true, "u3": true}})

	notifier := &fakeNotifier{}
	reconciler := &countingReconciler{}
	r := New(store, reconciler, notifier, Options{NotifyExistingStars: false}, zerolog.Nop())
	require.NoError(t, r.Start(ctx))
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool { return r.Watching("p1") && reconciler.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, store.Set(ctx, "posts/p1/stars/u4", true))
	require.Eventually(t, func() bool { return len(notifier.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, notifier.calls(), 1)
}

func TestRouterInstallsListenersOncePerPost(t *testing.T) {
	store, ctx := newStore(t)
	require.NoError(t, store.Set(ctx, "posts/p1", map[string]any{"uid": "u1"}))

	notifier := &fakeNotifier{}
	reconciler := &countingReconciler{}
	r := New(store, reconciler, notifier, Options{NotifyExistingStars: true}, zerolog.Nop())
	t.Cleanup(r.Stop)

	added := domain.PostAdded{PostID: "p1", Post: domain.Post{ID: "p1", AuthorID: "u1"}}
	r.Dispatch(ctx, added)
	r.Dispatch(ctx, added)
	assert.True(t, r.Watching("p1"))

	require.NoError(t, store.Set(ctx, "posts/p1/stars/u2", true))
	require.Eventually(t, func() bool { return len(notifier.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, notifier.calls(), 1, "a redelivered post must not double notify")
}

func TestRouterDetachesRemovedPosts(t *testing.T) {
	store, ctx := newStore(t)
	writePost(t, store, ctx, "p1", map[string]any{"uid": "u1"})

	notifier := &fakeNotifier{}
	reconciler := &countingReconciler{}
	// A write under a removed post recreates it, so only new stars may notify.
	r := New(store, reconciler, notifier, Options{NotifyExistingStars: false}, zerolog.Nop())
	require.NoError(t, r.Start(ctx))
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool { return r.Watching("p1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Set(ctx, "posts/p1", nil))
	require.Eventually(t, func() bool { return !r.Watching("p1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Set(ctx, "posts/p1/stars/u2", true))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, notifier.calls())
}

func TestRouterIgnoresPostsWithoutAuthor(t *testing.T) {
	store, ctx := newStore(t)
	notifier := &fakeNotifier{}
	r := New(store, &countingReconciler{}, notifier, Options{NotifyExistingStars: true}, zerolog.Nop())

	r.Dispatch(ctx, domain.StarAdded{PostID: "p1", UserID: "u2"})
	r.Dispatch(ctx, domain.StarAdded{PostID: "p1", AuthorID: "u1", UserID: "u2", Initial: true})
	assert.Equal(t, []notification{{authorID: "u1", postID: "p1"}}, notifier.calls())
}
