package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Config for the upstream client
type Config struct {
	Timeout     time.Duration
	MaxSize     int64
	UserAgent   string
	MaxAttempts int
}

// Client downloads feeds from upstream URLs and inspects them
type Client struct {
	httpClient  *http.Client
	maxSize     int64
	userAgent   string
	maxAttempts int

	// initial retry interval, shortened in tests
	retryInterval time.Duration
}

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	StatusCode int
	Url        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.Url)
}

func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		maxSize:       cfg.MaxSize,
		userAgent:     cfg.UserAgent,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: time.Second,
	}
}

// Inspect downloads url and describes its contents. Network errors, 5xx and
// 429 responses are retried with exponential backoff; other failures are
// returned immediately.
func (c *Client) Inspect(ctx context.Context, url string) (*Info, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	var body *download
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		body, err = c.get(ctx, url)
		if err != nil {
			log.WithFields(log.Fields{
				"url":     url,
				"attempt": attempt,
				"error":   err,
			}).Warn("Feed download failed")
		}
		return err
	}, policy)
	if err != nil {
		return nil, err
	}

	return inspect(url, body)
}

type download struct {
	data        []byte
	contentType string
}

func (c *Client) get(ctx context.Context, url string) (*download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Url: url}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	if c.maxSize > 0 && resp.ContentLength > c.maxSize {
		return nil, backoff.Permanent(fmt.Errorf("file too large: %d bytes (limit %d)", resp.ContentLength, c.maxSize))
	}

	reader := io.Reader(resp.Body)
	if c.maxSize > 0 {
		reader = io.LimitReader(resp.Body, c.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if c.maxSize > 0 && int64(len(data)) > c.maxSize {
		return nil, backoff.Permanent(fmt.Errorf("file too large: exceeds %d bytes limit", c.maxSize))
	}

	return &download{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
