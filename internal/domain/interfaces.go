package domain

import (
	"context"
	"errors"
	"time"

	"star-notifier/internal/rtdb"
)

// ErrTransportDisabled is returned by a transport that was not configured to deliver anything.
var ErrTransportDisabled = errors.New("notification transport disabled")

// Store is the hierarchical record store the service reacts to.
type Store interface {
	Get(ctx context.Context, path string) (rtdb.Snapshot, error)
	Update(ctx context.Context, values map[string]any) error
	Transaction(ctx context.Context, path string, fn rtdb.TxFunc) (rtdb.Snapshot, error)
	OnValue(ctx context.Context, path string, fn rtdb.ValueListener) (rtdb.Subscription, error)
	OnChild(ctx context.Context, path string, fn rtdb.ChildListener) (rtdb.Subscription, error)
}

// NotificationTransport delivers one email per call.
type NotificationTransport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// StarCountReconciler keeps starCount equal to the size of the star set.
type StarCountReconciler interface {
	ReconcilePost(ctx context.Context, postID, authorID string) error
}

// NotifyOutcome is the result of a star notification attempt.
type NotifyOutcome string

const (
	NotifySent         NotifyOutcome = "sent"
	NotifyNoRecipient  NotifyOutcome = "no_recipient"
	NotifyFailed       NotifyOutcome = "failed"
	NotifyDisabled     NotifyOutcome = "disabled"
	NotifyLookupFailed NotifyOutcome = "lookup_failed"
)

// Notifier tells a post author about a new star.
type Notifier interface {
	Notify(ctx context.Context, authorID, postID string) NotifyOutcome
}

// DigestRunner builds and delivers the weekly digest.
type DigestRunner interface {
	RunWeeklyDigest(ctx context.Context, job DigestJob) error
}

// Cache runs fn at most once per key within ttl.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
