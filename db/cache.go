package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmgilman/go/errors"

	"github.com/MShaffar19/transitland-datastore/fetchinfo"
)

// CacheStore keeps fetch info records in Postgres so the API and separate
// worker processes share them
type CacheStore struct {
	db  *DB
	now func() time.Time
}

// Cache returns a cache store backed by the cache_entries table
func (db *DB) Cache() *CacheStore {
	return &CacheStore{db: db, now: time.Now}
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("value").
		From("cache_entries").
		Where(
			sb.Equal("key", key),
			sb.Or(sb.IsNull("expires_at"), sb.GreaterThan("expires_at", s.now())),
		)
	query, args := sb.Build()

	var value []byte
	err := s.db.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapWithContext(err, errors.CodeUnavailable, "cache read failed",
			map[string]interface{}{"key": key})
	}
	return value, true, nil
}

// Set replaces the value under key. A non-positive ttl never expires.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("cache_entries").
		Cols("key", "value", "expires_at").
		Values(key, value, expiresAt).
		SQL("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at")
	query, args := ib.Build()

	if _, err := s.db.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapWithContext(err, errors.CodeUnavailable, "cache write failed",
			map[string]interface{}{"key": key})
	}
	return nil
}

// Purge deletes expired entries
func (s *CacheStore) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	query, args := del.DeleteFrom("cache_entries").
		Where(del.LessEqualThan("expires_at", s.now())).
		Build()

	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "failed to purge cache entries", nil)
	}
	return res.RowsAffected()
}

var _ fetchinfo.CacheStore = (*CacheStore)(nil)
