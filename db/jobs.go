package db

import (
	"context"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"github.com/MShaffar19/transitland-datastore/fetchinfo"
	"github.com/MShaffar19/transitland-datastore/worker"
)

// Job statuses stored in fetch_jobs
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// maxErrorLength truncates stored task errors
const maxErrorLength = 2048

// Enqueue stores task in fetch_jobs for a worker process to claim
func (db *DB) Enqueue(ctx context.Context, task fetchinfo.Task) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	enqueuedAt := task.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("fetch_jobs").
		Cols("id", "url", "cache_key", "status", "created_at", "updated_at").
		Values(task.Id, task.Url, task.CacheKey, JobQueued, enqueuedAt, enqueuedAt)
	sql, args := ib.Build()

	if _, err := db.db.ExecContext(ctx, sql, args...); err != nil {
		return mapError(err, "failed to enqueue fetch job", map[string]interface{}{"url": task.Url})
	}
	return nil
}

// Claim leases up to limit jobs. Queued jobs are claimed oldest first; a
// running job whose lease has expired is claimed again until it has been
// attempted maxAttempts times. Concurrent claimers never receive the same job.
func (db *DB) Claim(ctx context.Context, limit int) ([]worker.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, `
		UPDATE fetch_jobs SET
			status = $1,
			attempts = attempts + 1,
			locked_at = now(),
			updated_at = now()
		WHERE id IN (
			SELECT id FROM fetch_jobs
			WHERE status = $2
				OR (status = $1 AND locked_at < $3 AND attempts < $4)
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, url, cache_key, created_at, attempts`,
		JobRunning, JobQueued, time.Now().Add(-db.jobLease), db.maxAttempts, limit,
	)
	if err != nil {
		return nil, mapError(err, "failed to claim fetch jobs", nil)
	}
	defer rows.Close()

	var jobs []worker.Job
	for rows.Next() {
		var job worker.Job
		if err := rows.Scan(&job.Id, &job.Task.Url, &job.Task.CacheKey, &job.Task.EnqueuedAt, &job.Attempts); err != nil {
			return nil, mapError(err, "failed to scan fetch job", nil)
		}
		job.Task.Id = job.Id
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read fetch jobs", nil)
	}
	return jobs, nil
}

// Finish records the outcome of a claimed job
func (db *DB) Finish(ctx context.Context, id string, taskErr error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	status := JobDone
	var lastError interface{}
	if taskErr != nil {
		status = JobFailed
		lastError = truncateError(taskErr.Error())
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("fetch_jobs").
		Set(
			ub.Assign("status", status),
			ub.Assign("last_error", lastError),
			"locked_at = NULL",
			"updated_at = now()",
		).
		Where(ub.Equal("id", id))
	sql, args := ub.Build()

	if _, err := db.db.ExecContext(ctx, sql, args...); err != nil {
		return mapError(err, "failed to finish fetch job", map[string]interface{}{"job": id})
	}

	log.WithFields(log.Fields{
		"job":    id,
		"status": status,
	}).Debug("Finished fetch job")
	return nil
}

// Release hands a running job back to the queue without counting the attempt,
// for jobs interrupted by a worker shutting down
func (db *DB) Release(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("fetch_jobs").
		Set(
			ub.Assign("status", JobQueued),
			"attempts = GREATEST(attempts - 1, 0)",
			"locked_at = NULL",
			"updated_at = now()",
		).
		Where(
			ub.Equal("id", id),
			ub.Equal("status", JobRunning),
		)
	sql, args := ub.Build()

	if _, err := db.db.ExecContext(ctx, sql, args...); err != nil {
		return mapError(err, "failed to release fetch job", map[string]interface{}{"job": id})
	}

	log.WithField("job", id).Info("Released fetch job")
	return nil
}

// truncateError cuts msg to maxErrorLength bytes and drops any partial rune
// left at the cut, since Postgres rejects invalid UTF-8 text
func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return strings.ToValidUTF8(msg, "")
}

var _ fetchinfo.TaskQueue = (*DB)(nil)
var _ worker.JobSource = (*DB)(nil)
