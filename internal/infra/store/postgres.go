package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/rtdb"
)

const notifyChannel = "rtdb_changes"

const schema = `
CREATE TABLE IF NOT EXISTS rtdb_buckets (
	namespace  TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	version    BIGINT      NOT NULL,
	body       JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, name)
)`

// Migrate creates the bucket table.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate rtdb_buckets: %w", err)
	}
	return nil
}

// Postgres stores record buckets as JSONB rows guarded by a version column and
// announces commits with NOTIFY.
type Postgres struct {
	pool      *pgxpool.Pool
	namespace string
	log       zerolog.Logger
	retry     time.Duration
}

var _ rtdb.Backend = (*Postgres)(nil)

// NewPostgres creates a backend. The pool is owned by the caller.
func NewPostgres(pool *pgxpool.Pool, namespace string, logger zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, namespace: namespace, log: logger, retry: time.Second}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func (p *Postgres) Load(ctx context.Context, names ...string) ([]rtdb.Bucket, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx,
		`SELECT name, version, body FROM rtdb_buckets WHERE namespace = $1 AND name = ANY($2)`,
		p.namespace, names)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "load", p.namespace, start, err)
		return nil, fmt.Errorf("load buckets: %w", err)
	}
	found, err := scanBuckets(rows)
	metrics.ObserveNetworkRequest("postgres", "load", p.namespace, start, err)
	if err != nil {
		return nil, err
	}
	out := make([]rtdb.Bucket, len(names))
	for i, name := range names {
		if b, ok := found[name]; ok {
			out[i] = b
			continue
		}
		out[i] = rtdb.Bucket{Name: name}
	}
	return out, nil
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]rtdb.Bucket, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx,
		`SELECT name, version, body FROM rtdb_buckets WHERE namespace = $1 AND starts_with(name, $2)`,
		p.namespace, prefix+"/")
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list", p.namespace, start, err)
		return nil, fmt.Errorf("list buckets %s: %w", prefix, err)
	}
	found, err := scanBuckets(rows)
	metrics.ObserveNetworkRequest("postgres", "list", p.namespace, start, err)
	if err != nil {
		return nil, err
	}
	out := make([]rtdb.Bucket, 0, len(found))
	for _, b := range found {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func scanBuckets(rows pgx.Rows) (map[string]rtdb.Bucket, error) {
	defer rows.Close()
	found := make(map[string]rtdb.Bucket)
	for rows.Next() {
		var (
			b   rtdb.Bucket
			raw []byte
		)
		if err := rows.Scan(&b.Name, &b.Version, &raw); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &b.Body); err != nil {
				return nil, fmt.Errorf("bucket %s: bad body: %w", b.Name, err)
			}
		}
		found[b.Name] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read buckets: %w", err)
	}
	return found, nil
}

func (p *Postgres) Commit(ctx context.Context, writes []rtdb.Bucket) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.commit(ctx, writes)
	metrics.ObserveNetworkRequest("postgres", "commit", p.namespace, start, err)
	return err
}

func (p *Postgres) commit(ctx context.Context, writes []rtdb.Bucket) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, w := range writes {
		body, err := json.Marshal(w.Body)
		if err != nil {
			return fmt.Errorf("encode bucket %s: %w", w.Name, err)
		}
		var affected int64
		if w.Version == 0 {
			res, err := tx.Exec(ctx,
				`INSERT INTO rtdb_buckets (namespace, name, version, body) VALUES ($1, $2, 1, $3)
				 ON CONFLICT (namespace, name) DO NOTHING`,
				p.namespace, w.Name, string(body))
			if err != nil {
				return fmt.Errorf("insert bucket %s: %w", w.Name, err)
			}
			affected = res.RowsAffected()
		} else {
			res, err := tx.Exec(ctx,
				`UPDATE rtdb_buckets SET version = version + 1, body = $4, updated_at = now()
				 WHERE namespace = $1 AND name = $2 AND version = $3`,
				p.namespace, w.Name, w.Version, string(body))
			if err != nil {
				return fmt.Errorf("update bucket %s: %w", w.Name, err)
			}
			affected = res.RowsAffected()
		}
		if affected == 0 {
			return rtdb.ErrConflict
		}
		msg, _ := json.Marshal(changeMessage{Namespace: p.namespace, Name: w.Name, Version: w.Version + 1})
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(msg)); err != nil {
			return fmt.Errorf("notify bucket %s: %w", w.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Now returns the database clock.
func (p *Postgres) Now(ctx context.Context) (time.Time, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var now time.Time
	if err := p.pool.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("database time: %w", err)
	}
	return now, nil
}

// Watch listens for commit notifications on a dedicated connection. After every
// (re)connect all buckets are replayed so nothing missed while disconnected is lost.
func (p *Postgres) Watch(ctx context.Context, fn func(rtdb.Bucket)) error {
	conn, err := p.listen(ctx)
	if err != nil {
		return err
	}
	go p.watchLoop(ctx, conn, fn)
	return nil
}

func (p *Postgres) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	return conn, nil
}

func (p *Postgres) watchLoop(ctx context.Context, conn *pgxpool.Conn, fn func(rtdb.Bucket)) {
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()
	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retry):
			}
			var err error
			if conn, err = p.listen(ctx); err != nil {
				if ctx.Err() == nil {
					p.log.Error().Err(err).Msg("store: reconnecting listener failed")
				}
				continue
			}
			p.replay(ctx, fn)
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error().Err(err).Msg("store: listener lost, reconnecting")
			_ = conn.Conn().Close(context.WithoutCancel(ctx))
			conn.Release()
			conn = nil
			continue
		}
		var change changeMessage
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			p.log.Warn().Err(err).Msg("store: bad change message")
			continue
		}
		if change.Namespace != p.namespace {
			continue
		}
		buckets, err := p.Load(ctx, change.Name)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error().Err(err).Str("bucket", change.Name).Msg("store: reload after change failed")
			}
			continue
		}
		fn(buckets[0])
	}
}

func (p *Postgres) replay(ctx context.Context, fn func(rtdb.Bucket)) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx, `SELECT name, version, body FROM rtdb_buckets WHERE namespace = $1`, p.namespace)
	if err != nil {
		p.log.Error().Err(err).Msg("store: replay failed")
		return
	}
	found, err := scanBuckets(rows)
	if err != nil {
		p.log.Error().Err(err).Msg("store: replay failed")
		return
	}
	for _, b := range found {
		fn(b)
	}
}

// Close is a no-op; the pool belongs to the caller.
func (p *Postgres) Close() error { return nil }
