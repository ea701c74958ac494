package db

import (
	"context"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"github.com/MShaffar19/transitland-datastore/models"
)

// CreateFeed inserts f and fills in its id and timestamps
func (db *DB) CreateFeed(ctx context.Context, f *models.Feed) error {
	if err := f.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("feeds").
		Cols("onestop_id", "name", "feed_format", "urls", "license", "feed_authorization").
		Values(f.OnestopId, nullString(f.Name), f.FeedFormat, f.Urls, f.License, f.Authorization).
		SQL("RETURNING id, created_at, updated_at")
	sql, args := ib.Build()

	err := db.db.QueryRowContext(ctx, sql, args...).Scan(&f.Id, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return mapError(err, "failed to create feed", map[string]interface{}{"onestop_id": f.OnestopId})
	}

	log.WithFields(log.Fields{
		"onestop_id": f.OnestopId,
		"id":         f.Id,
	}).Info("Created feed")
	return nil
}

// UpdateFeed replaces the editable fields of the feed with onestopId.
// Renaming a feed is done by setting a different f.OnestopId.
func (db *DB) UpdateFeed(ctx context.Context, onestopId string, f *models.Feed) error {
	if f.OnestopId == "" {
		f.OnestopId = onestopId
	}
	if err := f.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("feeds").
		Set(
			ub.Assign("onestop_id", f.OnestopId),
			ub.Assign("name", nullString(f.Name)),
			ub.Assign("feed_format", f.FeedFormat),
			ub.Assign("urls", f.Urls),
			ub.Assign("license", f.License),
			ub.Assign("feed_authorization", f.Authorization),
			"updated_at = now()",
		).
		Where(ub.Equal("onestop_id", onestopId)).
		SQL("RETURNING id, created_at, updated_at")
	sql, args := ub.Build()

	err := db.db.QueryRowContext(ctx, sql, args...).Scan(&f.Id, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return mapError(err, "failed to update feed", map[string]interface{}{"onestop_id": onestopId})
	}
	return nil
}

// DeleteFeed removes a feed and, by cascade, its versions and operator links
func (db *DB) DeleteFeed(ctx context.Context, onestopId string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithField("onestop_id", onestopId).Info("Deleting feed")
	res, err := db.db.ExecContext(ctx, "DELETE FROM feeds WHERE onestop_id = $1", onestopId)
	if err != nil {
		return mapError(err, "failed to delete feed", map[string]interface{}{"onestop_id": onestopId})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "failed to delete feed", map[string]interface{}{"onestop_id": onestopId})
	}
	if n == 0 {
		return notFound(onestopId)
	}
	return nil
}

// UpsertFeed creates f or updates the existing feed with the same onestop id.
// It reports whether a new row was inserted.
func (db *DB) UpsertFeed(ctx context.Context, f *models.Feed) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var inserted bool
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO feeds (onestop_id, name, feed_format, urls, license, feed_authorization)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (onestop_id) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, feeds.name),
			feed_format = EXCLUDED.feed_format,
			urls = EXCLUDED.urls,
			license = EXCLUDED.license,
			feed_authorization = EXCLUDED.feed_authorization,
			updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		f.OnestopId,
		nullString(f.Name),
		f.FeedFormat,
		f.Urls,
		f.License,
		f.Authorization,
	).Scan(&f.Id, &f.CreatedAt, &f.UpdatedAt, &inserted)
	if err != nil {
		return false, mapError(err, "failed to upsert feed", map[string]interface{}{"onestop_id": f.OnestopId})
	}
	return inserted, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
