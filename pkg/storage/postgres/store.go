// Package postgres provides a PostgreSQL-backed [storage.Store].
//
// Blobs live in a single table keyed by object key; prefix listing uses a
// btree index with text_pattern_ops. [Migrate] creates the table and is
// idempotent.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	records := storage.NewRecords(store)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxscribe/pkg/storage"
)

// DefaultTable is the object table name used when Options.Table is empty.
const DefaultTable = "voxscribe_objects"

const ddlObjects = `
CREATE TABLE IF NOT EXISTS %[1]s (
    key           TEXT         PRIMARY KEY,
    body          BYTEA        NOT NULL,
    content_type  TEXT         NOT NULL,
    modified_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_key_prefix
    ON %[1]s (key text_pattern_ops);
`

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Options configures [NewStore].
type Options struct {
	// Table overrides DefaultTable. It must be a plain SQL identifier.
	Table string
}

// Store is a [storage.Store] on a pgx connection pool. All operations are
// safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("postgres store: invalid table name %q", table)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, table); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// Migrate creates the object table and its prefix index.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if !validIdent(table) {
		return fmt.Errorf("postgres store: invalid table name %q", table)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(ddlObjects, table)); err != nil {
		return fmt.Errorf("postgres store: create table %s: %w", table, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Put implements [storage.Store].
func (s *Store) Put(ctx context.Context, key string, body []byte, opts storage.PutOptions) error {
	ct := opts.ContentType
	if ct == "" {
		ct = storage.DefaultContentType
	}
	if body == nil {
		body = []byte{}
	}
	q := `INSERT INTO ` + s.table + ` (key, body, content_type, modified_at)
	      VALUES ($1, $2, $3, now())`
	if !opts.IfNoneMatch {
		q += ` ON CONFLICT (key) DO UPDATE
		      SET body = EXCLUDED.body, content_type = EXCLUDED.content_type, modified_at = now()`
	}
	if _, err := s.pool.Exec(ctx, q, key, body, ct); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrConflict
		}
		return fmt.Errorf("postgres store: put %q: %w", key, err)
	}
	return nil
}

// Head implements [storage.Store].
func (s *Store) Head(ctx context.Context, key string) (storage.Object, error) {
	var o storage.Object
	err := s.pool.QueryRow(ctx,
		`SELECT key, octet_length(body), content_type, modified_at FROM `+s.table+` WHERE key = $1`, key,
	).Scan(&o.Key, &o.Size, &o.ContentType, &o.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Object{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Object{}, fmt.Errorf("postgres store: head %q: %w", key, err)
	}
	return o, nil
}

// Get implements [storage.Store].
func (s *Store) Get(ctx context.Context, key string) ([]byte, storage.Object, error) {
	var (
		o    storage.Object
		body []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT key, body, content_type, modified_at FROM `+s.table+` WHERE key = $1`, key,
	).Scan(&o.Key, &body, &o.ContentType, &o.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.Object{}, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Object{}, fmt.Errorf("postgres store: get %q: %w", key, err)
	}
	o.Size = int64(len(body))
	return body, o, nil
}

// List implements [storage.Store].
func (s *Store) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, octet_length(body), content_type, modified_at FROM `+s.table+`
		 WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %q: %w", prefix, err)
	}
	objs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Object, error) {
		var o storage.Object
		err := row.Scan(&o.Key, &o.Size, &o.ContentType, &o.Modified)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %q: %w", prefix, err)
	}
	return objs, nil
}

// Delete implements [storage.Store].
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

// likePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func validIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', 'a' <= c && c <= 'z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var _ storage.Store = (*Store)(nil)
