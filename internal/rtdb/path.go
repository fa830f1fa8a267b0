package rtdb

import (
	"fmt"
	"strings"
)

// Split validates a slash separated path and returns its segments.
func Split(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(trimmed, "/")
	for _, seg := range segs {
		if seg == "" || strings.ContainsAny(seg, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// Join builds a path from segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

func isPrefix(prefix, segs []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if prefix[i] != segs[i] {
			return false
		}
	}
	return true
}

// DefaultRecordDepth is the number of leading segments naming a record, so
// posts/p1 is one record and posts/p2 another.
const DefaultRecordDepth = 2

// layout maps paths onto buckets. Every record is a bucket with its own version;
// paths shorter than a record address a range of buckets.
type layout struct {
	depths map[string]int
}

func (l layout) depth(collection string) int {
	if d, ok := l.depths[collection]; ok {
		return d
	}
	return DefaultRecordDepth
}

// bucketOf returns the bucket holding segs and the path inside it. ok is false
// when segs is above record level.
func (l layout) bucketOf(segs []string) (name string, rest []string, ok bool) {
	d := l.depth(segs[0])
	if len(segs) < d {
		return "", nil, false
	}
	return Join(segs[:d]...), segs[d:], true
}

// view returns the value at segs given the buckets load returned for it.
func (l layout) view(buckets []Bucket, segs []string) any {
	if _, rest, ok := l.bucketOf(segs); ok {
		if len(buckets) == 0 {
			return nil
		}
		return lookup(buckets[0].Body, rest)
	}
	var out any
	for _, b := range buckets {
		bsegs := strings.Split(b.Name, "/")
		if b.Body != nil && isPrefix(segs, bsegs) {
			out = setIn(out, bsegs[len(segs):], b.Body)
		}
	}
	return out
}

// checkRange rejects a value written above record level that is not an
// object all the way down to the records.
func (l layout) checkRange(segs []string, value any) error {
	levels := l.depth(segs[0]) - len(segs)
	var walk func(node any, level int, at []string) error
	walk = func(node any, level int, at []string) error {
		if node == nil || level == levels {
			return nil
		}
		m, ok := node.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q holds records and needs an object", ErrInvalidPath, Join(at...))
		}
		for k, child := range m {
			if err := walk(child, level+1, append(at[:len(at):len(at)], k)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(value, 0, segs)
}

// records lists the bucket names a value written at segs would create.
func (l layout) records(segs []string, value any) []string {
	levels := l.depth(segs[0]) - len(segs)
	var out []string
	var walk func(node any, level int, at []string)
	walk = func(node any, level int, at []string) {
		if node == nil {
			return
		}
		if level == levels {
			out = append(out, Join(at...))
			return
		}
		m, _ := node.(map[string]any)
		for _, k := range sortedKeys(m) {
			walk(m[k], level+1, append(at[:len(at):len(at)], k))
		}
	}
	walk(value, 0, segs)
	return out
}
