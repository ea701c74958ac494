package fetchinfo

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	log "github.com/sirupsen/logrus"
)

// Coordinator answers fetch info requests from the cache and schedules a
// fetch for URLs that are not cached yet.
type Coordinator struct {
	store      CacheStore
	queue      TaskQueue
	expiration time.Duration
	now        func() time.Time
}

// NewCoordinator returns a coordinator writing placeholders that expire
// after expiration. A non-positive expiration falls back to DefaultExpiration.
func NewCoordinator(store CacheStore, queue TaskQueue, expiration time.Duration) *Coordinator {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Coordinator{
		store:      store,
		queue:      queue,
		expiration: expiration,
		now:        time.Now,
	}
}

// GetOrEnqueue returns the cached record for url, writing a queued
// placeholder and enqueueing one task when nothing is cached.
//
// The lookup is a plain read followed by a write, not an atomic
// get-or-compute: the worker overwrites the same key when it finishes, and a
// compute-if-absent primitive could clobber that write. Two requests racing on
// a cold key may both enqueue; the worker pool collapses the duplicate fetch.
//
// The returned status is the HTTP status the record should be rendered with:
// 500 for error records, 200 otherwise.
func (c *Coordinator) GetOrEnqueue(ctx context.Context, url string) (Record, int, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Record{}, http.StatusBadRequest, errors.New(errors.CodeInvalidInput, "invalid URL")
	}

	key := CacheKey(url)

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		return Record{}, http.StatusServiceUnavailable, errors.WrapWithContext(err, errors.CodeUnavailable,
			"fetch info cache unavailable", map[string]interface{}{"url": url})
	}

	var record Record
	if ok {
		cacheLookups.WithLabelValues("hit").Inc()
		record, err = decodeRecord(cached)
		if err != nil {
			return Record{}, http.StatusInternalServerError, errors.WrapWithContext(err, errors.CodeInternal,
				"corrupt fetch info record", map[string]interface{}{"key": key})
		}
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
		record, err = c.enqueue(ctx, url, key)
		if err != nil {
			return Record{}, statusFor(err), err
		}
	}

	if record.Status == StatusError {
		return record, http.StatusInternalServerError, nil
	}
	return record, http.StatusOK, nil
}

// enqueue writes the placeholder and then schedules the task. A failed
// enqueue leaves the placeholder in place until it expires.
func (c *Coordinator) enqueue(ctx context.Context, url, key string) (Record, error) {
	record := Record{Status: StatusQueued, Url: url}
	b, err := encodeRecord(record)
	if err != nil {
		return Record{}, errors.Wrap(err, errors.CodeInternal, "encode fetch info placeholder")
	}

	if err := c.store.Set(ctx, key, b, c.expiration); err != nil {
		return Record{}, errors.WrapWithContext(err, errors.CodeUnavailable,
			"fetch info cache unavailable", map[string]interface{}{"url": url})
	}
	recordsWritten.WithLabelValues(string(StatusQueued)).Inc()

	task := Task{
		Id:         uuid.New().String(),
		Url:        url,
		CacheKey:   key,
		EnqueuedAt: c.now(),
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		enqueueFailures.Inc()
		log.WithFields(log.Fields{
			"url":   url,
			"key":   key,
			"error": err,
		}).Error("Failed to enqueue fetch info task, placeholder stays queued until expiry")
		return record, nil
	}

	log.WithFields(log.Fields{
		"url":  url,
		"task": task.Id,
	}).Info("Enqueued fetch info task")

	return record, nil
}

// statusFor is the HTTP status hint for a coordinator error
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
