package db

import (
	"context"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// PurgeJobs removes finished fetch jobs last updated before olderThan ago
func (db *DB) PurgeJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cutoff := time.Now().Add(-olderThan)
	deleteJobs := sb.PostgreSQL.NewDeleteBuilder()
	sql, args := deleteJobs.DeleteFrom("fetch_jobs").
		Where(
			deleteJobs.In("status", JobDone, JobFailed),
			deleteJobs.LessThan("updated_at", cutoff),
		).Build()

	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Info("Tidying fetch jobs")

	res, err := db.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "failed to purge fetch jobs", nil)
	}
	return res.RowsAffected()
}
