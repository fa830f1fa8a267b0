package rtdb

import (
	"context"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// hub keeps the last committed state of every bucket it has seen and
// turns successive states into listener events.
type hub struct {
	mu      sync.Mutex
	layout  layout
	buckets map[string]Bucket
	subs    map[uint64]*subscription
	nextID  uint64
	log     zerolog.Logger
}

func newHub(l layout, logger zerolog.Logger) *hub {
	return &hub{
		layout:  l,
		buckets: make(map[string]Bucket),
		subs:    make(map[uint64]*subscription),
		log:     logger,
	}
}

// apply records a committed bucket. Versions not newer than the cached one are ignored.
func (h *hub) apply(b Bucket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applyLocked(b)
}

func (h *hub) applyLocked(b Bucket) {
	prev, seen := h.buckets[b.Name]
	if seen && b.Version <= prev.Version {
		return
	}
	bsegs := strings.Split(b.Name, "/")

	// Subscriptions inside the bucket diff the bucket bodies. Subscriptions above
	// it see a range of buckets and diff assembled views before and after.
	type ranged struct {
		sub    *subscription
		at     []string
		before any
	}
	var inside []*subscription
	var above []ranged
	for _, sub := range h.subs {
		switch {
		case isPrefix(bsegs, sub.segs):
			inside = append(inside, sub)
		case isPrefix(sub.segs, bsegs):
			at := sub.segs
			if sub.onChild != nil {
				at = bsegs[:len(sub.segs)+1]
			}
			above = append(above, ranged{sub: sub, at: at, before: h.viewLocked(at)})
		}
	}
	h.buckets[b.Name] = b

	for _, sub := range inside {
		rest := sub.segs[len(bsegs):]
		sub.diff(lookup(prev.Body, rest), lookup(b.Body, rest))
	}
	for _, r := range above {
		after := h.viewLocked(r.at)
		if r.sub.onChild != nil {
			r.sub.diffChild(r.at[len(r.at)-1], r.before, after)
			continue
		}
		r.sub.diff(r.before, after)
	}
}

// viewLocked assembles the value at segs from cached buckets.
func (h *hub) viewLocked(segs []string) any {
	if name, rest, ok := h.layout.bucketOf(segs); ok {
		return lookup(h.buckets[name].Body, rest)
	}
	var out any
	for name, b := range h.buckets {
		bsegs := strings.Split(name, "/")
		if b.Body != nil && isPrefix(segs, bsegs) {
			out = setIn(out, bsegs[len(segs):], b.Body)
		}
	}
	return out
}

// register adds sub after applying the buckets loaded for its path, so the
// initial events reflect at least that state.
func (h *hub) register(sub *subscription, current []Bucket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range current {
		h.applyLocked(b)
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	sub.initial(h.viewLocked(sub.segs))
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

type subscription struct {
	id      uint64
	path    string
	segs    []string
	onValue ValueListener
	onChild ChildListener
	ctx     context.Context
	cancel  context.CancelFunc
	queue   *dispatcher
}

func (s *subscription) Cancel() {
	s.cancel()
}

func (s *subscription) initial(current any) {
	if s.onValue != nil {
		s.pushValue(current)
		return
	}
	m, _ := current.(map[string]any)
	for _, k := range sortedKeys(m) {
		s.pushChild(ChildEvent{Kind: ChildAdded, Snapshot: Snapshot{Path: Join(s.path, k), Value: m[k]}, Initial: true})
	}
}

func (s *subscription) diff(prev, next any) {
	if reflect.DeepEqual(prev, next) {
		return
	}
	if s.onValue != nil {
		s.pushValue(next)
		return
	}
	oldM, _ := prev.(map[string]any)
	newM, _ := next.(map[string]any)
	for _, k := range sortedKeys(oldM) {
		if _, ok := newM[k]; !ok {
			s.pushChild(ChildEvent{Kind: ChildRemoved, Snapshot: Snapshot{Path: Join(s.path, k), Value: oldM[k]}})
		}
	}
	for _, k := range sortedKeys(newM) {
		old, existed := oldM[k]
		switch {
		case !existed:
			s.pushChild(ChildEvent{Kind: ChildAdded, Snapshot: Snapshot{Path: Join(s.path, k), Value: newM[k]}})
		case !reflect.DeepEqual(old, newM[k]):
			s.pushChild(ChildEvent{Kind: ChildChanged, Snapshot: Snapshot{Path: Join(s.path, k), Value: newM[k]}})
		}
	}
}

// diffChild reports the change of one child whose value went from prev to next.
func (s *subscription) diffChild(key string, prev, next any) {
	if reflect.DeepEqual(prev, next) {
		return
	}
	snap := Snapshot{Path: Join(s.path, key), Value: next}
	switch {
	case prev == nil:
		s.pushChild(ChildEvent{Kind: ChildAdded, Snapshot: snap})
	case next == nil:
		snap.Value = prev
		s.pushChild(ChildEvent{Kind: ChildRemoved, Snapshot: snap})
	default:
		s.pushChild(ChildEvent{Kind: ChildChanged, Snapshot: snap})
	}
}

func (s *subscription) pushValue(value any) {
	snap := Snapshot{Path: s.path, Value: value}
	s.queue.push(func() { s.onValue(s.ctx, snap) })
}

func (s *subscription) pushChild(ev ChildEvent) {
	s.queue.push(func() { s.onChild(s.ctx, ev) })
}

// dispatcher is an unbounded FIFO drained by a single goroutine, so one
// subscription sees its events in commit order while different subscriptions
// run concurrently.
type dispatcher struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
	log    zerolog.Logger
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	return &dispatcher{signal: make(chan struct{}, 1), log: logger}
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	d.items = append(d.items, fn)
	d.mu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		d.mu.Lock()
		items := d.items
		d.items = nil
		d.mu.Unlock()

		for _, fn := range items {
			if ctx.Err() != nil {
				return
			}
			d.call(fn)
		}
		if len(items) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.signal:
		}
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("rtdb: listener panicked")
		}
	}()
	fn()
}
