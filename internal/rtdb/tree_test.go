package rtdb

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	segs, err := Split("/posts/p1/stars/")
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "p1", "stars"}, segs)

	for _, bad := range []string{"", "/", "posts//p1", "posts/a.b", "users/$uid", "posts/[0]"} {
		_, err := Split(bad)
		assert.Truef(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath for %q", bad)
	}
}

func TestSetInCopiesOnWrite(t *testing.T) {
	original := map[string]any{
		"p1": map[string]any{"title": "a"},
		"p2": map[string]any{"title": "b"},
	}
	updated := setIn(original, []string{"p1", "starCount"}, float64(2))

	assert.Nil(t, lookup(original, []string{"p1", "starCount"}))
	assert.Equal(t, float64(2), lookup(updated, []string{"p1", "starCount"}))
	assert.Equal(t, "a", lookup(updated, []string{"p1", "title"}))
	// untouched siblings are shared
	assert.Equal(t, original["p2"], updated.(map[string]any)["p2"])
}

func TestSetInPrunesEmptyParents(t *testing.T) {
	tree := map[string]any{"p1": map[string]any{"stars": map[string]any{"u2": true}}}
	assert.Nil(t, setIn(tree, []string{"p1", "stars", "u2"}, nil))
}

func TestNormalize(t *testing.T) {
	type post struct {
		UID   string          `json:"uid"`
		Stars map[string]bool `json:"stars,omitempty"`
		Count int             `json:"starCount"`
	}
	got, err := normalize(post{UID: "u1", Stars: map[string]bool{}, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"uid": "u1", "starCount": float64(3)}, got)

	got, err = normalize(map[string]any{"empty": map[string]any{}})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveServerValues(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	value, err := normalize(map[string]any{"last": ServerTimestamp, "title": "x"})
	require.NoError(t, err)
	require.True(t, hasServerValues(value))

	resolved, err := resolveServerValues(value, now)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"last": float64(1700000000123), "title": "x"}, resolved)
	assert.False(t, hasServerValues(resolved))

	_, err = resolveServerValues(map[string]any{".sv": "increment"}, now)
	assert.Error(t, err)
}

func TestSnapshotAccessors(t *testing.T) {
	snap := Snapshot{Path: "posts/p1", Value: map[string]any{
		"uid":   "u1",
		"stars": map[string]any{"u3": true, "u2": true},
	}}
	assert.Equal(t, "p1", snap.Key())
	assert.True(t, snap.Exists())
	assert.False(t, snap.Child("missing").Exists())

	children := snap.Child("stars").Children()
	require.Len(t, children, 2)
	assert.Equal(t, "posts/p1/stars/u2", children[0].Path)
	assert.Equal(t, "u3", children[1].Key())

	var decoded struct {
		UID   string          `json:"uid"`
		Stars map[string]bool `json:"stars"`
	}
	require.NoError(t, snap.Decode(&decoded))
	assert.Equal(t, "u1", decoded.UID)
	assert.Len(t, decoded.Stars, 2)
}
