package domain

// Post is a post record as stored under posts/{id} and user-posts/{uid}/{id}.
type Post struct {
	ID                        string          `json:"-"`
	AuthorID                  string          `json:"uid"`
	Author                    string          `json:"author,omitempty"`
	Title                     string          `json:"title,omitempty"`
	Body                      string          `json:"body,omitempty"`
	Stars                     map[string]bool `json:"stars,omitempty"`
	StarCount                 int             `json:"starCount"`
	LastNotificationTimestamp *int64          `json:"lastNotificationTimestamp,omitempty"`
}

// User is a user record stored under users/{uid}.
type User struct {
	ID       string  `json:"-"`
	Username string  `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// HasEmail reports whether a notification address is on file.
func (u User) HasEmail() bool {
	return u.Email != nil && *u.Email != ""
}

// Message is a single outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
}
