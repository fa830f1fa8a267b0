package stars

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
)

// Reconciler recomputes the denormalized starCount of post records.
type Reconciler struct {
	store domain.Store
	log   zerolog.Logger
}

var _ domain.StarCountReconciler = (*Reconciler)(nil)

// NewReconciler creates a reconciler.
func NewReconciler(store domain.Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, log: logger}
}

// ReconcilePost updates the primary record and then the author's copy,
// each in its own transaction.
func (r *Reconciler) ReconcilePost(ctx context.Context, postID, authorID string) error {
	var errs []error
	if err := r.Reconcile(ctx, domain.PostPath(postID)); err != nil {
		errs = append(errs, err)
	}
	if authorID == "" {
		r.log.Warn().Str("post", postID).Msg("stars: post has no author, skipping user-posts copy")
		return errors.Join(errs...)
	}
	if err := r.Reconcile(ctx, domain.UserPostPath(authorID, postID)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Reconcile sets starCount at path to the number of entries in its stars map.
// A missing record is left missing.
func (r *Reconciler) Reconcile(ctx context.Context, path string) error {
	snap, err := r.store.Transaction(ctx, path, func(current any) (any, error) {
		return CountStars(current), nil
	})
	metrics.ObserveReconcile(err)
	if err != nil {
		r.log.Error().Err(err).Str("path", path).Msg("stars: updateStarCount failed")
		return fmt.Errorf("reconcile %s: %w", path, err)
	}
	r.log.Debug().Str("path", path).Bool("exists", snap.Exists()).Msg("stars: updateStarCount complete")
	return nil
}

// CountStars returns record with starCount recomputed. The record is modified in place;
// anything that is not an object is returned unchanged.
func CountStars(record any) any {
	post, ok := record.(map[string]any)
	if !ok {
		return record
	}
	starSet, _ := post[domain.StarsField].(map[string]any)
	post[domain.StarCountField] = float64(len(starSet))
	return post
}
