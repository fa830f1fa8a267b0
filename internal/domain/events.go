package domain

import "context"

// EventKind names a typed router event.
type EventKind string

const (
	EventPostAdded      EventKind = "post_added"
	EventPostRemoved    EventKind = "post_removed"
	EventStarAdded      EventKind = "star_added"
	EventStarSetChanged EventKind = "star_set_changed"
)

// Event is one of PostAdded, PostRemoved, StarAdded or StarSetChanged.
type Event interface {
	Kind() EventKind
}

// PostAdded is emitted once per newly observed post.
type PostAdded struct {
	PostID string
	Post   Post
}

// PostRemoved is emitted when a post disappears from posts/.
type PostRemoved struct {
	PostID string
}

// StarAdded is emitted once per newly observed star entry.
// Initial marks stars that already existed when the listener attached.
type StarAdded struct {
	PostID   string
	AuthorID string
	UserID   string
	Initial  bool
}

// StarSetChanged is emitted after any addition or removal in a post's star set.
type StarSetChanged struct {
	PostID   string
	AuthorID string
	Stars    map[string]bool
}

func (PostAdded) Kind() EventKind      { return EventPostAdded }
func (PostRemoved) Kind() EventKind    { return EventPostRemoved }
func (StarAdded) Kind() EventKind      { return EventStarAdded }
func (StarSetChanged) Kind() EventKind { return EventStarSetChanged }

// EventHandler dispatches typed events.
type EventHandler interface {
	Dispatch(ctx context.Context, ev Event)
}
