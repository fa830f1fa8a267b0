// Package rtdb implements a hierarchical, path-addressed record store with
// value and child subscriptions and optimistic transactions on top of a
// pluggable versioned Backend.
package rtdb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"star-notifier/internal/infra/metrics"
)

var (
	// ErrInvalidPath is returned for empty paths or paths with forbidden characters.
	ErrInvalidPath = errors.New("rtdb: invalid path")
	// ErrConflict is returned by a Backend when a bucket changed since it was loaded.
	ErrConflict = errors.New("rtdb: version conflict")
	// ErrMaxRetries is returned when a write keeps conflicting.
	ErrMaxRetries = errors.New("rtdb: too many conflicting retries")
	// ErrAbort may be returned by a TxFunc to abandon the transaction.
	ErrAbort = errors.New("rtdb: transaction aborted")
)

// DefaultMaxRetries bounds compare-and-swap attempts per write.
const DefaultMaxRetries = 25

// Bucket is one versioned record, named by the record path (posts/p1).
// A bucket that was never written has Version 0 and a nil Body; a removed
// record keeps its version with a nil Body.
type Bucket struct {
	Name    string
	Version int64
	Body    any
}

// Backend persists buckets.
type Backend interface {
	// Load returns the buckets in the order requested.
	Load(ctx context.Context, names ...string) ([]Bucket, error)
	// List returns every stored bucket whose name starts with prefix + "/".
	List(ctx context.Context, prefix string) ([]Bucket, error)
	// Commit stores every write as Version+1 if all stored versions still equal
	// the write's Version, otherwise it returns ErrConflict and stores nothing.
	Commit(ctx context.Context, writes []Bucket) error
	// Now returns the backend clock.
	Now(ctx context.Context) (time.Time, error)
	// Watch delivers committed buckets until ctx is done.
	Watch(ctx context.Context, fn func(Bucket)) error
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithRecordDepth makes records under collection span depth path segments,
// e.g. 3 for user-posts/{uid}/{postId}. Every process sharing a backend must
// use the same depths.
func WithRecordDepth(collection string, depth int) Option {
	return func(s *Store) {
		if depth < 1 {
			depth = 1
		}
		s.layout.depths[collection] = depth
	}
}

// Store exposes the record store operations over a Backend.
type Store struct {
	backend    Backend
	hub        *hub
	layout     layout
	log        zerolog.Logger
	maxRetries int
}

// NewStore creates a store. Call Start to receive changes committed by other processes.
func NewStore(backend Backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		layout:     layout{depths: make(map[string]int)},
		log:        logger,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.layout, logger)
	return s
}

// Start attaches the store to the backend change feed.
func (s *Store) Start(ctx context.Context) error {
	if err := s.backend.Watch(ctx, s.hub.apply); err != nil {
		return fmt.Errorf("rtdb: watch backend: %w", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Get reads the value at path once. A path above record level is assembled
// from every record below it.
func (s *Store) Get(ctx context.Context, path string) (Snapshot, error) {
	segs, err := Split(path)
	if err != nil {
		return Snapshot{}, err
	}
	buckets, err := s.load(ctx, segs)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rtdb: get %s: %w", path, err)
	}
	return Snapshot{Path: Join(segs...), Value: s.layout.view(buckets, segs)}, nil
}

// load fetches the bucket holding segs, or every bucket below segs.
func (s *Store) load(ctx context.Context, segs []string) ([]Bucket, error) {
	if name, _, ok := s.layout.bucketOf(segs); ok {
		return s.backend.Load(ctx, name)
	}
	return s.backend.List(ctx, Join(segs...))
}

// Set replaces the value at path. A nil value removes it.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

// Update writes several paths atomically. Paths must not contain each other.
// A path above record level replaces every record below it.
func (s *Store) Update(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type pathWrite struct {
		segs  []string
		value any
		// ranged writes cover several records
		ranged bool
	}
	writes := make([]pathWrite, 0, len(paths))
	for _, p := range paths {
		segs, err := Split(p)
		if err != nil {
			return err
		}
		for _, w := range writes {
			if isPrefix(w.segs, segs) || isPrefix(segs, w.segs) {
				return fmt.Errorf("%w: %q overlaps %q", ErrInvalidPath, p, Join(w.segs...))
			}
		}
		value, err := s.prepare(ctx, values[p])
		if err != nil {
			return err
		}
		_, _, record := s.layout.bucketOf(segs)
		if !record {
			if err := s.layout.checkRange(segs, value); err != nil {
				return err
			}
		}
		writes = append(writes, pathWrite{segs: segs, value: value, ranged: !record})
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var names []string
		seen := make(map[string]bool)
		add := func(name string) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		for _, w := range writes {
			if !w.ranged {
				name, _, _ := s.layout.bucketOf(w.segs)
				add(name)
				continue
			}
			listed, err := s.backend.List(ctx, Join(w.segs...))
			if err != nil {
				return fmt.Errorf("rtdb: update: %w", err)
			}
			for _, b := range listed {
				add(b.Name)
			}
			for _, name := range s.layout.records(w.segs, w.value) {
				add(name)
			}
		}

		buckets, err := s.backend.Load(ctx, names...)
		if err != nil {
			return fmt.Errorf("rtdb: update: %w", err)
		}
		byName := make(map[string]int, len(buckets))
		bodies := make([]any, len(buckets))
		for i, b := range buckets {
			byName[b.Name] = i
			bodies[i] = b.Body
		}
		for _, w := range writes {
			if !w.ranged {
				name, rest, _ := s.layout.bucketOf(w.segs)
				i := byName[name]
				bodies[i] = setIn(bodies[i], rest, w.value)
				continue
			}
			for i, b := range buckets {
				bsegs := strings.Split(b.Name, "/")
				if isPrefix(w.segs, bsegs) {
					bodies[i] = lookup(w.value, bsegs[len(w.segs):])
				}
			}
		}
		var changed []Bucket
		for i, b := range buckets {
			if !reflect.DeepEqual(b.Body, bodies[i]) {
				changed = append(changed, Bucket{Name: b.Name, Version: b.Version, Body: bodies[i]})
			}
		}
		if len(changed) == 0 {
			return nil
		}
		err = s.backend.Commit(ctx, changed)
		if errors.Is(err, ErrConflict) {
			metrics.StoreConflicts.Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("rtdb: update: %w", err)
		}
		s.applyCommitted(changed)
		return nil
	}
	return fmt.Errorf("%w: update %v", ErrMaxRetries, paths)
}

// Transaction atomically replaces the value at path with fn(current). The path
// must lie within one record; transactions on different records never conflict.
// fn receives a private copy and may run several times when writers race.
// A result equal to the current value commits nothing.
func (s *Store) Transaction(ctx context.Context, path string, fn TxFunc) (Snapshot, error) {
	segs, err := Split(path)
	if err != nil {
		return Snapshot{}, err
	}
	path = Join(segs...)
	name, rest, ok := s.layout.bucketOf(segs)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: transaction on %q spans several records", ErrInvalidPath, path)
	}
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		buckets, err := s.backend.Load(ctx, name)
		if err != nil {
			return Snapshot{}, fmt.Errorf("rtdb: transaction %s: %w", path, err)
		}
		b := buckets[0]
		current := lookup(b.Body, rest)
		next, err := fn(deepClone(current))
		if err != nil {
			return Snapshot{Path: path, Value: current}, err
		}
		next, err = s.prepare(ctx, next)
		if err != nil {
			return Snapshot{}, err
		}
		if reflect.DeepEqual(current, next) {
			return Snapshot{Path: path, Value: current}, nil
		}
		write := Bucket{Name: b.Name, Version: b.Version, Body: setIn(b.Body, rest, next)}
		err = s.backend.Commit(ctx, []Bucket{write})
		if errors.Is(err, ErrConflict) {
			metrics.StoreConflicts.Inc()
			s.log.Debug().Str("path", path).Int("attempt", attempt).Msg("rtdb: transaction conflict, retrying")
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("rtdb: transaction %s: %w", path, err)
		}
		s.applyCommitted([]Bucket{write})
		return Snapshot{Path: path, Value: next}, nil
	}
	return Snapshot{}, fmt.Errorf("%w: transaction %s", ErrMaxRetries, path)
}

// OnValue calls fn with the current value at path and again after every change.
// The subscription lasts until ctx is done or it is cancelled.
func (s *Store) OnValue(ctx context.Context, path string, fn ValueListener) (Subscription, error) {
	return s.subscribe(ctx, path, &subscription{onValue: fn})
}

// OnChild calls fn with ChildAdded for every existing child and then with
// added, changed and removed events as children change.
func (s *Store) OnChild(ctx context.Context, path string, fn ChildListener) (Subscription, error) {
	return s.subscribe(ctx, path, &subscription{onChild: fn})
}

func (s *Store) subscribe(ctx context.Context, path string, sub *subscription) (Subscription, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	buckets, err := s.load(ctx, segs)
	if err != nil {
		return nil, fmt.Errorf("rtdb: subscribe %s: %w", path, err)
	}
	sub.path = Join(segs...)
	sub.segs = segs
	sub.ctx, sub.cancel = context.WithCancel(ctx)
	sub.queue = newDispatcher(s.log)
	s.hub.register(sub, buckets)
	go sub.queue.run(sub.ctx)
	context.AfterFunc(sub.ctx, func() { s.hub.remove(sub.id) })
	return sub, nil
}

// applyCommitted feeds our own commits to the hub without waiting for the backend feed.
func (s *Store) applyCommitted(writes []Bucket) {
	for _, w := range writes {
		s.hub.apply(Bucket{Name: w.Name, Version: w.Version + 1, Body: w.Body})
	}
}

func (s *Store) prepare(ctx context.Context, value any) (any, error) {
	normalized, err := normalize(value)
	if err != nil {
		return nil, err
	}
	if !hasServerValues(normalized) {
		return normalized, nil
	}
	now, err := s.backend.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("rtdb: server clock: %w", err)
	}
	return resolveServerValues(normalized, now)
}
