package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// Defaults for the job queue
const (
	DefaultJobLease       = 10 * time.Minute
	DefaultJobMaxAttempts = 3
)

// queryTimeout bounds every statement issued by DB
const queryTimeout = 30 * time.Second

// DB handles all database operations with a shared connection pool
type DB struct {
	db          *sql.DB
	jobLease    time.Duration
	maxAttempts int
}

// Option configures a DB
type Option func(*DB)

// WithJobLease sets how long a claimed job stays leased before another
// worker may claim it again
func WithJobLease(lease time.Duration) Option {
	return func(db *DB) {
		if lease > 0 {
			db.jobLease = lease
		}
	}
}

// WithJobMaxAttempts caps how often an abandoned job is reclaimed
func WithJobMaxAttempts(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.maxAttempts = n
		}
	}
}

// NewDB opens a connection pool for a postgres:// URL
func NewDB(url string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(20)           // Allow multiple concurrent operations
	conn.SetMaxIdleConns(10)           // Keep some connections ready
	conn.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	conn.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	db := &DB{
		db:          conn,
		jobLease:    DefaultJobLease,
		maxAttempts: DefaultJobMaxAttempts,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "database unavailable")
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// uniqueViolation is the postgres error code for duplicate keys
const uniqueViolation = "23505"

// mapError converts driver errors into coded errors
func mapError(err error, message string, ctx map[string]interface{}) error {
	if err == nil {
		return nil
	}

	code := errors.CodeDatabase
	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		code = errors.CodeNotFound
	case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
		code = errors.CodeAlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		code = errors.CodeTimeout
	}

	if code == errors.CodeDatabase {
		log.WithFields(log.Fields{
			"error":   err,
			"context": ctx,
		}).Error(message)
	}

	return errors.WrapWithContext(err, code, message, ctx)
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func notFound(onestopId string) error {
	return errors.WithContextMap(errors.New(errors.CodeNotFound, "feed not found"),
		map[string]interface{}{"onestop_id": onestopId})
}
