package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/rtdb"
)

// Redis keeps every record bucket in a hash holding its version and JSON body,
// indexes bucket names per collection and announces commits on a pub/sub channel.
type Redis struct {
	client    *redis.Client
	namespace string
	log       zerolog.Logger
}

var _ rtdb.Backend = (*Redis)(nil)

type changeMessage struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Version   int64  `json:"version"`
}

// NewRedis creates a backend. The client is owned by the caller.
func NewRedis(client *redis.Client, namespace string, logger zerolog.Logger) *Redis {
	return &Redis{client: client, namespace: namespace, log: logger}
}

func (r *Redis) bucketKey(name string) string {
	return "rtdb:" + r.namespace + ":bucket:" + name
}

// indexKey is the set of bucket names under one collection.
func (r *Redis) indexKey(collection string) string {
	return "rtdb:" + r.namespace + ":index:" + collection
}

func (r *Redis) collectionsKey() string {
	return "rtdb:" + r.namespace + ":collections"
}

func collectionOf(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}

func (r *Redis) changesChannel() string {
	return "rtdb:" + r.namespace + ":changes"
}

func (r *Redis) Load(ctx context.Context, names ...string) ([]rtdb.Bucket, error) {
	start := time.Now()
	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HMGet(ctx, r.bucketKey(name), "version", "body")
	}
	_, err := pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "load", r.namespace, start, err)
	if err != nil {
		return nil, fmt.Errorf("load buckets: %w", err)
	}
	out := make([]rtdb.Bucket, len(names))
	for i, name := range names {
		b, err := decodeBucket(name, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (r *Redis) List(ctx context.Context, prefix string) ([]rtdb.Bucket, error) {
	names, err := r.client.SMembers(ctx, r.indexKey(collectionOf(prefix))).Result()
	if err != nil {
		return nil, fmt.Errorf("list buckets %s: %w", prefix, err)
	}
	matched := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, prefix+"/") {
			matched = append(matched, name)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	sort.Strings(matched)
	return r.Load(ctx, matched...)
}

func decodeBucket(name string, fields []any) (rtdb.Bucket, error) {
	b := rtdb.Bucket{Name: name}
	if len(fields) != 2 || fields[0] == nil {
		return b, nil
	}
	version, err := strconv.ParseInt(fmt.Sprint(fields[0]), 10, 64)
	if err != nil {
		return b, fmt.Errorf("bucket %s: bad version: %w", name, err)
	}
	b.Version = version
	if raw, ok := fields[1].(string); ok {
		if err := json.Unmarshal([]byte(raw), &b.Body); err != nil {
			return b, fmt.Errorf("bucket %s: bad body: %w", name, err)
		}
	}
	return b, nil
}

func (r *Redis) Commit(ctx context.Context, writes []rtdb.Bucket) error {
	keys := make([]string, len(writes))
	bodies := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = r.bucketKey(w.Name)
		body, err := json.Marshal(w.Body)
		if err != nil {
			return fmt.Errorf("encode bucket %s: %w", w.Name, err)
		}
		bodies[i] = string(body)
	}

	start := time.Now()
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		for i, w := range writes {
			stored, err := tx.HGet(ctx, keys[i], "version").Int64()
			if errors.Is(err, redis.Nil) {
				stored = 0
			} else if err != nil {
				return err
			}
			if stored != w.Version {
				return rtdb.ErrConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, w := range writes {
				pipe.HSet(ctx, keys[i], "version", w.Version+1, "body", bodies[i])
				if w.Version == 0 {
					pipe.SAdd(ctx, r.indexKey(collectionOf(w.Name)), w.Name)
					pipe.SAdd(ctx, r.collectionsKey(), collectionOf(w.Name))
				}
			}
			for _, w := range writes {
				msg, _ := json.Marshal(changeMessage{Name: w.Name, Version: w.Version + 1})
				pipe.Publish(ctx, r.changesChannel(), msg)
			}
			return nil
		})
		return err
	}, keys...)
	metrics.ObserveNetworkRequest("redis", "commit", r.namespace, start, err)
	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, rtdb.ErrConflict):
		return rtdb.ErrConflict
	case err != nil:
		return fmt.Errorf("commit buckets: %w", err)
	}
	return nil
}

// Now returns the Redis server clock.
func (r *Redis) Now(ctx context.Context) (time.Time, error) {
	t, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	return t, nil
}

// Watch subscribes to commit announcements and reloads each changed bucket.
// Messages published while the subscription is down are lost, so every
// resubscribe replays all buckets.
func (r *Redis) Watch(ctx context.Context, fn func(rtdb.Bucket)) error {
	sub := r.client.Subscribe(ctx, r.changesChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.changesChannel(), err)
	}
	ch := sub.ChannelWithSubscriptions()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch m := msg.(type) {
				case *redis.Subscription:
					if m.Kind == "subscribe" {
						r.log.Info().Str("channel", m.Channel).Msg("store: change feed resubscribed, replaying buckets")
						r.replay(ctx, fn)
					}
				case *redis.Message:
					r.reload(ctx, m.Payload, fn)
				}
			}
		}
	}()
	return nil
}

func (r *Redis) reload(ctx context.Context, payload string, fn func(rtdb.Bucket)) {
	var change changeMessage
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		r.log.Warn().Err(err).Msg("store: bad change message")
		return
	}
	buckets, err := r.Load(ctx, change.Name)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Str("bucket", change.Name).Msg("store: reload after change failed")
		}
		return
	}
	fn(buckets[0])
}

// replay loads every bucket of the namespace. The hub drops versions it already has.
func (r *Redis) replay(ctx context.Context, fn func(rtdb.Bucket)) {
	collections, err := r.client.SMembers(ctx, r.collectionsKey()).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("store: replay failed")
		}
		return
	}
	for _, collection := range collections {
		buckets, err := r.List(ctx, collection)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error().Err(err).Str("collection", collection).Msg("store: replay failed")
			}
			continue
		}
		for _, b := range buckets {
			fn(b)
		}
	}
}

// Close is a no-op; the client belongs to the caller.
func (r *Redis) Close() error { return nil }
