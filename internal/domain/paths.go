package domain

import "star-notifier/internal/rtdb"

const (
	PostsRoot     = "posts"
	UserPostsRoot = "user-posts"
	UsersRoot     = "users"

	StarsField            = "stars"
	StarCountField        = "starCount"
	LastNotificationField = "lastNotificationTimestamp"
)

// RecordLayout sets record boundaries in the store so every post copy is
// versioned on its own: posts/{postId}, user-posts/{uid}/{postId}, users/{uid}.
func RecordLayout() []rtdb.Option {
	return []rtdb.Option{rtdb.WithRecordDepth(UserPostsRoot, 3)}
}

// PostPath is the primary record of a post.
func PostPath(postID string) string {
	return rtdb.Join(PostsRoot, postID)
}

// UserPostPath is the denormalized per-author copy of a post.
func UserPostPath(authorID, postID string) string {
	return rtdb.Join(UserPostsRoot, authorID, postID)
}

// StarsPath is the star set of a post.
func StarsPath(postID string) string {
	return rtdb.Join(PostsRoot, postID, StarsField)
}

// UserPath is the record of a user.
func UserPath(uid string) string {
	return rtdb.Join(UsersRoot, uid)
}
