// Package fetchinfo coordinates cached, asynchronously computed information
// about upstream feed URLs.
//
// A request for a URL that is not cached writes a queued placeholder and
// hands a Task to a TaskQueue. A worker later replaces the placeholder with a
// complete or error record. Every write is a full record replace with a TTL,
// so a stuck placeholder heals itself when it expires.
package fetchinfo

import (
	"context"
	"encoding/json"
	"time"
)

// KeyPrefix namespaces fetch info entries in the shared cache
const KeyPrefix = "feeds/fetch_info/"

// DefaultExpiration is how long a record lives in the cache
const DefaultExpiration = 4 * time.Hour

// Status of a fetch info record
type Status string

const (
	StatusQueued   Status = "queued"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Record is the value stored under a fetch info cache key
type Record struct {
	Status      Status          `json:"status"`
	Url         string          `json:"url"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
}

// Task is handed to the worker for a single URL
type Task struct {
	Id         string    `json:"id"`
	Url        string    `json:"url"`
	CacheKey   string    `json:"cache_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// CacheStore is the shared key-value store holding records.
// Get reports ok=false for absent or expired keys; an error means the store
// could not answer.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TaskQueue dispatches tasks to workers without waiting for them
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// CacheKey derives the cache key for a URL
func CacheKey(url string) string {
	return KeyPrefix + url
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(b []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(b, &r)
	return r, err
}
