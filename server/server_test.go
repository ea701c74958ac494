package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MShaffar19/transitland-datastore/cache"
	"github.com/MShaffar19/transitland-datastore/feeds"
	"github.com/MShaffar19/transitland-datastore/fetchinfo"
	"github.com/MShaffar19/transitland-datastore/models"
	"github.com/MShaffar19/transitland-datastore/server"
)

const token = "s3cret"

type fakeStore struct {
	mu       sync.Mutex
	nextId   int64
	feeds    map[string]*models.Feed
	links    []models.OperatorInFeed
	versions map[int64][]models.FeedVersion
}

func newFakeStore() *fakeStore {
	return &fakeStore{feeds: map[string]*models.Feed{}, versions: map[int64][]models.FeedVersion{}}
}

func (s *fakeStore) add(f models.Feed) *models.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	f.Id = s.nextId
	s.feeds[f.OnestopId] = &f
	return &f
}

func (s *fakeStore) sorted() []models.Feed {
	out := make([]models.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (s *fakeStore) ListFeeds(ctx context.Context, q *feeds.IndexQuery) ([]models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted()
	if q.Offset >= len(all) {
		return nil, nil
	}
	all = all[q.Offset:]
	if len(all) > q.PerPage+1 {
		all = all[:q.PerPage+1]
	}
	return all, nil
}

func (s *fakeStore) GetFeed(ctx context.Context, onestopId string) (*models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[onestopId]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "feed not found")
	}
	copied := *f
	return &copied, nil
}

func (s *fakeStore) AllFeeds(ctx context.Context) ([]models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(), nil
}

func (s *fakeStore) OperatorsInFeeds(ctx context.Context, feedIds []int64) ([]models.OperatorInFeed, error) {
	return s.links, nil
}

func (s *fakeStore) FeedVersions(ctx context.Context, feedId int64) ([]models.FeedVersion, error) {
	return s.versions[feedId], nil
}

func (s *fakeStore) CreateFeed(ctx context.Context, f *models.Feed) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if _, err := s.GetFeed(ctx, f.OnestopId); err == nil {
		return errors.New(errors.CodeAlreadyExists, "feed exists")
	}
	*f = *s.add(*f)
	return nil
}

func (s *fakeStore) UpdateFeed(ctx context.Context, onestopId string, f *models.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.feeds[onestopId]
	if !ok {
		return errors.New(errors.CodeNotFound, "feed not found")
	}
	f.Id = existing.Id
	f.OnestopId = onestopId
	s.feeds[onestopId] = f
	return nil
}

func (s *fakeStore) DeleteFeed(ctx context.Context, onestopId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[onestopId]; !ok {
		return errors.New(errors.CodeNotFound, "feed not found")
	}
	delete(s.feeds, onestopId)
	return nil
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []fetchinfo.Task
}

func (q *recordingQueue) Enqueue(ctx context.Context, task fetchinfo.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type fixture struct {
	app   *fiber.App
	store *fakeStore
	cache *cache.MemoryStore
	queue *recordingQueue
}

func newFixture(t *testing.T, mutate ...func(*server.ServerConfig)) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(),
		cache: cache.NewMemoryStore(),
		queue: &recordingQueue{},
	}
	t.Cleanup(func() { f.cache.Close() })

	cfg := &server.ServerConfig{
		Store:     f.store,
		FetchInfo: fetchinfo.NewCoordinator(f.cache, f.queue, time.Hour),
		ApiToken:  token,
	}
	for _, m := range mutate {
		m(cfg)
	}
	f.app = server.Server(cfg)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errors.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Code
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "GET", "/healthz", "")
	assert.Equal(t, 200, resp.StatusCode)

	f = newFixture(t, func(c *server.ServerConfig) {
		c.Ready = func(ctx context.Context) error { return fmt.Errorf("connection refused") }
	})
	resp, body := f.do(t, "GET", "/healthz", "")
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, body))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/metrics", "")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestFetchInfo(t *testing.T) {
	f := newFixture(t)
	target := "/api/v1/feeds/fetch_info?url=https://example.com/gtfs.zip"

	resp, body := f.do(t, "GET", target, "")
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"status":"queued","url":"https://example.com/gtfs.zip"}`, string(body))
	assert.Equal(t, 1, f.queue.Len())

	resp, _ = f.do(t, "GET", target, "")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, f.queue.Len())

	performer := fetchinfo.NewPerformer(f.cache, func(ctx context.Context, url string) (interface{}, error) {
		return nil, fmt.Errorf("upstream returned 404")
	}, time.Hour)
	require.Error(t, performer.Perform(context.Background(), f.queue.tasks[0]))

	resp, body = f.do(t, "GET", target, "")
	assert.Equal(t, 500, resp.StatusCode)
	assert.JSONEq(t, `{"status":"error","url":"https://example.com/gtfs.zip","error_detail":"upstream returned 404"}`, string(body))
}

func TestFetchInfoRequiresUrl(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/api/v1/feeds/fetch_info?url=%20", "")
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, body))
	assert.Zero(t, f.queue.Len())
}

func TestFetchInfoCacheUnavailable(t *testing.T) {
	f := newFixture(t)
	f.cache.Close()
	resp, body := f.do(t, "GET", "/api/v1/feeds/fetch_info?url=https://example.com/gtfs.zip", "")
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, body))
	assert.Zero(t, f.queue.Len())
}

func TestIndex(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.store.add(models.Feed{OnestopId: fmt.Sprintf("f-%d", i), FeedFormat: models.FeedFormatGTFS})
	}

	resp, body := f.do(t, "GET", "/api/v1/feeds?per_page=2", "")
	require.Equal(t, 200, resp.StatusCode)

	var page models.FeedsResponse
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Feeds, 2)
	assert.Equal(t, 2, page.Meta.PerPage)
	require.NotNil(t, page.Meta.Next)
	assert.Contains(t, *page.Meta.Next, "offset=2")

	resp, body = f.do(t, "GET", "/api/v1/feeds?per_page=2&offset=2", "")
	require.Equal(t, 200, resp.StatusCode)
	page = models.FeedsResponse{}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Feeds, 1)
	assert.Nil(t, page.Meta.Next)
}

func TestIndexRejectsInvalidParams(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/api/v1/feeds?sort_key=popularity", "")
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, body))
}

func TestShow(t *testing.T) {
	f := newFixture(t)
	f.store.add(models.Feed{OnestopId: "f-muni", Name: "Muni", FeedFormat: models.FeedFormatGTFS})

	resp, body := f.do(t, "GET", "/api/v1/feeds/f-muni", "")
	require.Equal(t, 200, resp.StatusCode)
	var feed models.Feed
	require.NoError(t, json.Unmarshal(body, &feed))
	assert.Equal(t, "Muni", feed.Name)

	resp, body = f.do(t, "GET", "/api/v1/feeds/f-missing", "")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}

func TestDownloadLatestFeedVersion(t *testing.T) {
	f := newFixture(t)
	withVersion := f.store.add(models.Feed{OnestopId: "f-ok"})
	restricted := f.store.add(models.Feed{OnestopId: "f-restricted"})
	f.store.add(models.Feed{OnestopId: "f-empty"})

	now := time.Now()
	f.store.versions[withVersion.Id] = []models.FeedVersion{
		{Sha1: "new", FetchedAt: now, DownloadUrl: "https://cdn.example.com/new.zip"},
		{Sha1: "old", FetchedAt: now.Add(-time.Hour), DownloadUrl: "https://cdn.example.com/old.zip"},
	}
	f.store.versions[restricted.Id] = []models.FeedVersion{{Sha1: "x", FetchedAt: now}}

	resp, _ := f.do(t, "GET", "/api/v1/feeds/f-ok/download_latest_feed_version", "")
	assert.Equal(t, 302, resp.StatusCode)
	assert.Equal(t, "https://cdn.example.com/new.zip", resp.Header.Get("Location"))

	for _, id := range []string{"f-restricted", "f-empty"} {
		resp, body := f.do(t, "GET", "/api/v1/feeds/"+id+"/download_latest_feed_version", "")
		assert.Equal(t, 404, resp.StatusCode, id)
		assert.Contains(t, string(body), "license prevents redistribution")
	}
}

func TestFeedVersionUpdateStatistics(t *testing.T) {
	f := newFixture(t)
	feed := f.store.add(models.Feed{OnestopId: "f-stats"})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.versions[feed.Id] = []models.FeedVersion{
		{Sha1: "b", FetchedAt: base.Add(48 * time.Hour)},
		{Sha1: "a", FetchedAt: base},
	}

	resp, body := f.do(t, "GET", "/api/v1/feeds/f-stats/feed_version_update_statistics", "")
	require.Equal(t, 200, resp.StatusCode)
	var stats models.FeedVersionUpdateStatistics
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.FeedVersionsTotal)
	require.NotNil(t, stats.FetchedAtFrequency)
	assert.InDelta(t, 2.0, *stats.FetchedAtFrequency, 0.001)
}

func TestDMFR(t *testing.T) {
	f := newFixture(t, func(c *server.ServerConfig) { c.DMFRCacheExpiration = time.Minute })
	muni := f.store.add(models.Feed{OnestopId: "f-muni", FeedFormat: models.FeedFormatGTFS})
	f.store.links = []models.OperatorInFeed{
		{FeedId: muni.Id, FeedOnestopId: "f-muni", OperatorId: 1, OperatorOnestopId: "o-muni"},
	}

	resp, body := f.do(t, "GET", "/api/v1/feeds/dmfr", "")
	require.Equal(t, 200, resp.StatusCode)

	var doc models.DMFR
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, feeds.DMFRSchema, doc.Schema)
	require.Len(t, doc.Feeds, 1)
	assert.Equal(t, "o-muni", doc.Feeds[0].FeedNamespaceId)

	resp, _ = f.do(t, "GET", "/api/v1/feeds/dmfr", "")
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))
}

func TestWritesRequireToken(t *testing.T) {
	body := `{"onestop_id":"f-new","feed_format":"gtfs","urls":{"static_current":"https://example.com/new.zip"}}`

	tests := []struct {
		name    string
		cfg     func(*server.ServerConfig)
		headers []string
		status  int
	}{
		{"missing token", nil, nil, 401},
		{"wrong token", nil, []string{"Authorization", "Bearer nope"}, 401},
		{"empty configured token", func(c *server.ServerConfig) { c.ApiToken = "" }, []string{"Authorization", "Bearer "}, 401},
		{"valid token", nil, []string{"Authorization", "Bearer " + token}, 201},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*server.ServerConfig)
			if tt.cfg != nil {
				mutate = append(mutate, tt.cfg)
			}
			f := newFixture(t, mutate...)
			resp, _ := f.do(t, "POST", "/api/v1/feeds", body, tt.headers...)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestFeedWrites(t *testing.T) {
	f := newFixture(t)
	auth := []string{"Authorization", "Bearer " + token}

	resp, _ := f.do(t, "POST", "/api/v1/feeds", `{"onestop_id":"f-new"}`, auth...)
	require.Equal(t, 201, resp.StatusCode)

	resp, body := f.do(t, "POST", "/api/v1/feeds", `{"onestop_id":"f-new"}`, auth...)
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "ALREADY_EXISTS", errorCode(t, body))

	resp, body = f.do(t, "POST", "/api/v1/feeds", `{"feed_format":"gbfs"}`, auth...)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, body))

	resp, _ = f.do(t, "PUT", "/api/v1/feeds/f-new", `{"name":"Renamed"}`, auth...)
	require.Equal(t, 200, resp.StatusCode)
	got, err := f.store.GetFeed(context.Background(), "f-new")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	resp, _ = f.do(t, "DELETE", "/api/v1/feeds/f-new", "", auth...)
	assert.Equal(t, 204, resp.StatusCode)

	resp, _ = f.do(t, "DELETE", "/api/v1/feeds/f-new", "", auth...)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/nope", "")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}
