package domain

import (
	"encoding/json"
	"testing"
)

func TestPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "post", got: PostPath("p1"), want: "posts/p1"},
		{name: "user post", got: UserPostPath("u1", "p1"), want: "user-posts/u1/p1"},
		{name: "stars", got: StarsPath("p1"), want: "posts/p1/stars"},
		{name: "user", got: UserPath("u1"), want: "users/u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestUserHasEmail(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "address", raw: `{"username":"ann","email":"ann@example.com"}`, want: true},
		{name: "null", raw: `{"username":"ann","email":null}`, want: false},
		{name: "missing", raw: `{"username":"ann"}`, want: false},
		{name: "empty", raw: `{"email":""}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u User
			if err := json.Unmarshal([]byte(tt.raw), &u); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := u.HasEmail(); got != tt.want {
				t.Fatalf("HasEmail() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventKinds(t *testing.T) {
	events := map[EventKind]Event{
		EventPostAdded:      PostAdded{},
		EventPostRemoved:    PostRemoved{},
		EventStarAdded:      StarAdded{},
		EventStarSetChanged: StarSetChanged{},
	}
	for want, ev := range events {
		if ev.Kind() != want {
			t.Fatalf("%T.Kind() = %q, want %q", ev, ev.Kind(), want)
		}
	}
}

func TestPostDecodesStoredShape(t *testing.T) {
	var p Post
	raw := `{"uid":"u1","author":"ann","title":"t","stars":{"u2":true},"starCount":1,"lastNotificationTimestamp":1700000000000}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.AuthorID != "u1" || p.StarCount != 1 || len(p.Stars) != 1 {
		t.Fatalf("unexpected post %+v", p)
	}
	if p.LastNotificationTimestamp == nil || *p.LastNotificationTimestamp != 1700000000000 {
		t.Fatalf("unexpected timestamp %v", p.LastNotificationTimestamp)
	}
}
