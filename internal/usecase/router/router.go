package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/rtdb"
)

// Options tunes router behaviour.
type Options struct {
	// NotifyExistingStars notifies for stars already present when a post listener attaches.
	NotifyExistingStars bool
}

// Router turns store change notifications into typed events and dispatches them
// to the reconciler and the notifier.
type Router struct {
	store      domain.Store
	reconciler domain.StarCountReconciler
	notifier   domain.Notifier
	opts       Options
	log        zerolog.Logger

	mu      sync.Mutex
	root    rtdb.Subscription
	posts   map[string]*postWatch
	stopped bool
}

type postWatch struct {
	authorID string
	subs     []rtdb.Subscription
	removed  bool
}

var _ domain.EventHandler = (*Router)(nil)

// New creates a router.
func New(store domain.Store, reconciler domain.StarCountReconciler, notifier domain.Notifier, opts Options, logger zerolog.Logger) *Router {
	return &Router{
		store:      store,
		reconciler: reconciler,
		notifier:   notifier,
		opts:       opts,
		log:        logger,
		posts:      make(map[string]*postWatch),
	}
}

// Start listens for posts. A failure is returned and nothing is retried.
func (r *Router) Start(ctx context.Context) error {
	sub, err := r.store.OnChild(ctx, domain.PostsRoot, r.onPostChild)
	if err != nil {
		r.log.Error().Err(err).Msg("router: unable to attach listener to posts")
		return fmt.Errorf("listen %s: %w", domain.PostsRoot, err)
	}
	r.mu.Lock()
	r.root = sub
	r.mu.Unlock()
	r.log.Info().Msg("router: listening for posts")
	return nil
}

// Stop cancels every subscription the router installed.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.root != nil {
		r.root.Cancel()
	}
	for id, w := range r.posts {
		cancelAll(w.subs)
		delete(r.posts, id)
	}
	metrics.WatchedPosts.Set(0)
}

// Dispatch routes an event to its handler.
func (r *Router) Dispatch(ctx context.Context, ev domain.Event) {
	metrics.IncRouterEvent(string(ev.Kind()))
	switch e := ev.(type) {
	case domain.PostAdded:
		r.handlePostAdded(ctx, e)
	case domain.PostRemoved:
		r.handlePostRemoved(e)
	case domain.StarAdded:
		r.handleStarAdded(ctx, e)
	case domain.StarSetChanged:
		r.handleStarSetChanged(ctx, e)
	default:
		r.log.Warn().Str("kind", string(ev.Kind())).Msg("router: unhandled event")
	}
}

// Watching reports whether star listeners are attached for postID.
func (r *Router) Watching(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.posts[postID]
	return ok && len(w.subs) > 0
}

func (r *Router) onPostChild(ctx context.Context, ev rtdb.ChildEvent) {
	postID := ev.Snapshot.Key()
	switch ev.Kind {
	case rtdb.ChildAdded:
		var post domain.Post
		if err := ev.Snapshot.Decode(&post); err != nil {
			r.log.Error().Err(err).Str("post", postID).Msg("router: unable to decode post")
			return
		}
		post.ID = postID
		r.Dispatch(ctx, domain.PostAdded{PostID: postID, Post: post})
	case rtdb.ChildRemoved:
		r.Dispatch(ctx, domain.PostRemoved{PostID: postID})
	}
}

func (r *Router) handlePostAdded(ctx context.Context, e domain.PostAdded) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if _, ok := r.posts[e.PostID]; ok {
		r.mu.Unlock()
		return
	}
	w := &postWatch{authorID: e.Post.AuthorID}
	r.posts[e.PostID] = w
	metrics.WatchedPosts.Set(float64(len(r.posts)))
	r.mu.Unlock()

	log := r.log.With().Str("post", e.PostID).Str("uid", e.Post.AuthorID).Logger()
	starsPath := domain.StarsPath(e.PostID)

	var subs []rtdb.Subscription
	changed, err := r.store.OnValue(ctx, starsPath, func(ctx context.Context, snap rtdb.Snapshot) {
		var starSet map[string]bool
		if err := snap.Decode(&starSet); err != nil {
			log.Error().Err(err).Msg("router: unable to decode stars")
		}
		r.Dispatch(ctx, domain.StarSetChanged{PostID: e.PostID, AuthorID: w.authorID, Stars: starSet})
	})
	if err != nil {
		log.Error().Err(err).Msg("router: unable to attach listener to stars")
	} else {
		subs = append(subs, changed)
	}

	added, err := r.store.OnChild(ctx, starsPath, func(ctx context.Context, ev rtdb.ChildEvent) {
		if ev.Kind != rtdb.ChildAdded {
			return
		}
		r.Dispatch(ctx, domain.StarAdded{PostID: e.PostID, AuthorID: w.authorID, UserID: ev.Snapshot.Key(), Initial: ev.Initial})
	})
	if err != nil {
		log.Error().Err(err).Msg("router: unable to attach new star listener")
	} else {
		subs = append(subs, added)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w.removed || r.stopped {
		cancelAll(subs)
		return
	}
	w.subs = subs
	log.Debug().Msg("router: star listeners attached")
}

func (r *Router) handlePostRemoved(e domain.PostRemoved) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.posts[e.PostID]
	if !ok {
		return
	}
	w.removed = true
	cancelAll(w.subs)
	delete(r.posts, e.PostID)
	metrics.WatchedPosts.Set(float64(len(r.posts)))
	r.log.Debug().Str("post", e.PostID).Msg("router: star listeners detached")
}

func (r *Router) handleStarAdded(ctx context.Context, e domain.StarAdded) {
	if e.Initial && !r.opts.NotifyExistingStars {
		return
	}
	if e.AuthorID == "" {
		r.log.Warn().Str("post", e.PostID).Msg("router: post has no author, nobody to notify")
		return
	}
	r.notifier.Notify(ctx, e.AuthorID, e.PostID)
}

func (r *Router) handleStarSetChanged(ctx context.Context, e domain.StarSetChanged) {
	if err := r.reconciler.ReconcilePost(ctx, e.PostID, e.AuthorID); err != nil {
		r.log.Error().Err(err).Str("post", e.PostID).Msg("router: star count reconciliation failed")
	}
}

func cancelAll(subs []rtdb.Subscription) {
	for _, s := range subs {
		s.Cancel()
	}
}
