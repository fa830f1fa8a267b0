package rtdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Backend.
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]Bucket
	watchers map[int]func(Bucket)
	nextID   int
	clock    func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		buckets:  make(map[string]Bucket),
		watchers: make(map[int]func(Bucket)),
		clock:    time.Now,
	}
}

// SetClock replaces the clock used for server timestamps.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *Memory) Load(ctx context.Context, names ...string) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Bucket, 0, len(names))
	for _, name := range names {
		b, ok := m.buckets[name]
		if !ok {
			b = Bucket{Name: name}
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bucket
	for name, b := range m.buckets {
		if strings.HasPrefix(name, prefix+"/") {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, writes []Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if m.buckets[w.Name].Version != w.Version {
			return ErrConflict
		}
	}
	for _, w := range writes {
		committed := Bucket{Name: w.Name, Version: w.Version + 1, Body: w.Body}
		m.buckets[w.Name] = committed
		for _, fn := range m.watchers {
			fn(committed)
		}
	}
	return nil
}

func (m *Memory) Now(context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock(), nil
}

func (m *Memory) Watch(ctx context.Context, fn func(Bucket)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()
	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) Close() error { return nil }
