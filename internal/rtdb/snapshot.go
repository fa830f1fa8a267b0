package rtdb

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Snapshot is an immutable view of the value stored at Path.
type Snapshot struct {
	Path  string
	Value any
}

// Key returns the last segment of the path.
func (s Snapshot) Key() string {
	if idx := strings.LastIndexByte(s.Path, '/'); idx >= 0 {
		return s.Path[idx+1:]
	}
	return s.Path
}

// Exists reports whether any value is stored at the path.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Child returns the snapshot of a direct child.
func (s Snapshot) Child(name string) Snapshot {
	m, _ := s.Value.(map[string]any)
	return Snapshot{Path: Join(s.Path, name), Value: m[name]}
}

// Children returns direct children ordered by key.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := sortedKeys(m)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{Path: Join(s.Path, k), Value: m[k]})
	}
	return out
}

// Decode unmarshals the value into dst through its JSON form.
func (s Snapshot) Decode(dst any) error {
	raw, err := json.Marshal(s.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// ChildEventKind enumerates structural changes of a child.
type ChildEventKind int

const (
	ChildAdded ChildEventKind = iota + 1
	ChildChanged
	ChildRemoved
)

func (k ChildEventKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildChanged:
		return "child_changed"
	case ChildRemoved:
		return "child_removed"
	default:
		return "unknown"
	}
}

// ChildEvent describes a change of one child under a watched path.
// Initial is set for ChildAdded events produced from the state present at subscription time.
type ChildEvent struct {
	Kind     ChildEventKind
	Snapshot Snapshot
	Initial  bool
}

// ValueListener receives the full value at a path after each change.
type ValueListener func(ctx context.Context, snap Snapshot)

// ChildListener receives child level changes under a path.
type ChildListener func(ctx context.Context, ev ChildEvent)

// TxFunc computes the new value from a private copy of the current one.
type TxFunc func(current any) (any, error)

// Subscription is a live listener registration.
type Subscription interface {
	Cancel()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
