package db

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/MShaffar19/transitland-datastore/feeds"
	"github.com/MShaffar19/transitland-datastore/models"
	"github.com/MShaffar19/transitland-datastore/query"
)

func scanFeed(row scanner) (models.Feed, error) {
	var f models.Feed
	var name sql.NullString
	err := row.Scan(
		&f.Id,
		&f.OnestopId,
		&name,
		&f.FeedFormat,
		&f.Urls,
		&f.License,
		&f.Authorization,
		&f.LastFetchedAt,
		&f.LastImportedAt,
		&f.LatestFetchExceptionLog,
		&f.ActiveFeedVersionId,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	f.Name = name.String
	return f, err
}

// queryFeeds runs a feed query built by b
func (db *DB) queryFeeds(ctx context.Context, b query.Builder, limit, offset int) ([]models.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql, args := b.Build(limit, offset)
	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Debug("Generated SQL query")

	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "failed to query feeds", nil)
	}
	defer rows.Close()

	var result []models.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan feed", nil)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read feeds", nil)
	}
	return result, nil
}

// ListFeeds returns up to PerPage+1 feeds matching q, so callers can tell
// whether a next page exists. Operators are attached to each feed.
func (db *DB) ListFeeds(ctx context.Context, q *feeds.IndexQuery) ([]models.Feed, error) {
	result, err := db.queryFeeds(ctx, q.Builder(), q.PerPage+1, q.Offset)
	if err != nil {
		return nil, err
	}
	if err := db.attachOperators(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetFeed returns one feed by onestop id with its operators
func (db *DB) GetFeed(ctx context.Context, onestopId string) (*models.Feed, error) {
	b := feeds.NewFeedQueryBuilder()
	b.AddFilter(&feeds.OnestopIdFilter{OnestopIds: []string{onestopId}})

	result, err := db.queryFeeds(ctx, b, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, notFound(onestopId)
	}
	if err := db.attachOperators(ctx, result); err != nil {
		return nil, err
	}
	return &result[0], nil
}

// AllFeeds returns every feed ordered by id
func (db *DB) AllFeeds(ctx context.Context) ([]models.Feed, error) {
	return db.queryFeeds(ctx, feeds.NewFeedQueryBuilder(), 0, 0)
}

func (db *DB) attachOperators(ctx context.Context, result []models.Feed) error {
	if len(result) == 0 {
		return nil
	}
	ids := make([]int64, len(result))
	for i, f := range result {
		ids[i] = f.Id
	}
	links, err := db.OperatorsInFeeds(ctx, ids)
	if err != nil {
		return err
	}
	feeds.AttachOperators(result, links)
	return nil
}

// OperatorsInFeeds returns the operator links of the given feeds
func (db *DB) OperatorsInFeeds(ctx context.Context, feedIds []int64) ([]models.OperatorInFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, `
		SELECT oif.feed_id, f.onestop_id, oif.operator_id, o.onestop_id, COALESCE(oif.gtfs_agency_id, '')
		FROM operators_in_feed oif
		JOIN feeds f ON f.id = oif.feed_id
		JOIN operators o ON o.id = oif.operator_id
		WHERE oif.feed_id = ANY($1)
		ORDER BY oif.feed_id, o.onestop_id`,
		pq.Array(feedIds),
	)
	if err != nil {
		return nil, mapError(err, "failed to query operators in feed", nil)
	}
	defer rows.Close()

	var links []models.OperatorInFeed
	for rows.Next() {
		var l models.OperatorInFeed
		if err := rows.Scan(&l.FeedId, &l.FeedOnestopId, &l.OperatorId, &l.OperatorOnestopId, &l.GtfsAgencyId); err != nil {
			return nil, mapError(err, "failed to scan operator in feed", nil)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read operators in feed", nil)
	}
	return links, nil
}

// FeedVersions returns a feed's versions, most recently fetched first
func (db *DB) FeedVersions(ctx context.Context, feedId int64) ([]models.FeedVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, feed_id, sha1, url, COALESCE(download_url, ''), fetched_at,
			earliest_calendar_date, latest_calendar_date, import_level
		FROM feed_versions
		WHERE feed_id = $1
		ORDER BY fetched_at DESC, id DESC`,
		feedId,
	)
	if err != nil {
		return nil, mapError(err, "failed to query feed versions", map[string]interface{}{"feed_id": feedId})
	}
	defer rows.Close()

	var versions []models.FeedVersion
	for rows.Next() {
		var v models.FeedVersion
		if err := rows.Scan(&v.Id, &v.FeedId, &v.Sha1, &v.Url, &v.DownloadUrl, &v.FetchedAt,
			&v.EarliestCalendarDate, &v.LatestCalendarDate, &v.ImportLevel); err != nil {
			return nil, mapError(err, "failed to scan feed version", nil)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read feed versions", nil)
	}
	return versions, nil
}
