package fetchinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// FetchFunc computes the result for a URL. The returned value is stored as
// JSON in the record's result field.
type FetchFunc func(ctx context.Context, url string) (interface{}, error)

// Performer is the worker side of the protocol: it runs the fetch for a task
// and replaces the placeholder with the terminal record.
type Performer struct {
	store      CacheStore
	fetch      FetchFunc
	expiration time.Duration
}

// NewPerformer returns a performer whose terminal writes live for a full
// expiration period, independent of how long the placeholder waited.
func NewPerformer(store CacheStore, fetch FetchFunc, expiration time.Duration) *Performer {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Performer{store: store, fetch: fetch, expiration: expiration}
}

// Perform fetches task.Url and writes exactly one record to task.CacheKey.
// A failed fetch is recorded as an error record and also returned, so job
// runners can account for it. Perform never reads the existing placeholder.
//
// A fetch that fails because ctx was cancelled writes nothing: the placeholder
// stays queued for whichever worker runs the task next.
func (p *Performer) Perform(ctx context.Context, task Task) error {
	start := time.Now()
	record, fetchErr := p.run(ctx, task.Url)
	if fetchErr != nil && ctx.Err() != nil {
		log.WithFields(log.Fields{
			"task": task.Id,
			"url":  task.Url,
		}).Warn("Fetch info task interrupted, leaving placeholder queued")
		return fmt.Errorf("fetch info task interrupted: %w", fetchErr)
	}

	b, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode fetch info record: %w", err)
	}
	if err := p.store.Set(ctx, task.CacheKey, b, p.expiration); err != nil {
		return fmt.Errorf("write fetch info record: %w", err)
	}
	recordsWritten.WithLabelValues(string(record.Status)).Inc()

	log.WithFields(log.Fields{
		"task":     task.Id,
		"url":      task.Url,
		"status":   record.Status,
		"duration": time.Since(start),
	}).Info("Fetch info task finished")

	return fetchErr
}

func (p *Performer) run(ctx context.Context, url string) (Record, error) {
	result, err := p.fetch(ctx, url)
	if err != nil {
		return Record{Status: StatusError, Url: url, ErrorDetail: err.Error()}, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		err = fmt.Errorf("encode fetch result: %w", err)
		return Record{Status: StatusError, Url: url, ErrorDetail: err.Error()}, err
	}

	return Record{Status: StatusComplete, Url: url, Result: raw}, nil
}
