package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestClient(maxSize int64, attempts int) *Client {
	c := NewClient(Config{Timeout: 5 * time.Second, MaxSize: maxSize, UserAgent: "transitland-test", MaxAttempts: attempts})
	c.retryInterval = time.Millisecond
	return c
}

func TestInspectGTFSZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"BART,Bay Area Rapid Transit,https://www.bart.gov,America/Los_Angeles\n" +
			",,,\n",
		"stops.txt": "stop_id,stop_name\n",
	})

	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/zip")
		w.Write(data)
	}))
	defer srv.Close()

	info, err := newTestClient(1<<20, 1).Inspect(context.Background(), srv.URL+"/gtfs.zip")
	require.NoError(t, err)

	assert.Equal(t, "transitland-test", userAgent)
	assert.Equal(t, srv.URL+"/gtfs.zip", info.Url)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, sha1Hex(data), info.Sha1)
	assert.Len(t, info.Sha1, 40)
	assert.Equal(t, "gtfs", info.Spec)
	assert.Equal(t, []string{"agency.txt", "stops.txt"}, info.Files)
	assert.Equal(t, []SuggestedOperator{{
		AgencyId: "BART",
		Name:     "Bay Area Rapid Transit",
		Url:      "https://www.bart.gov",
		Timezone: "America/Los_Angeles",
	}}, info.Operators)
}

func TestInspectNestedGTFS(t *testing.T) {
	data := buildZip(t, map[string]string{
		"feed/agency.txt": "agency_name\nMetro\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	info, err := newTestClient(0, 1).Inspect(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "gtfs", info.Spec)
	require.Len(t, info.Operators, 1)
	assert.Equal(t, "Metro", info.Operators[0].Name)
}

func TestInspectRealtime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf; charset=binary")
		w.Write([]byte{0x0a, 0x0d})
	}))
	defer srv.Close()

	info, err := newTestClient(0, 1).Inspect(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "gtfs-rt", info.Spec)
	assert.Empty(t, info.Files)
}

func TestInspectTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	_, err := newTestClient(1024, 3).Inspect(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestInspectRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("plain"))
	}))
	defer srv.Close()

	info, err := newTestClient(0, 3).Inspect(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(5), info.Size)
	assert.Empty(t, info.Spec)
}

func TestInspectDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(0, 5).Inspect(context.Background(), srv.URL)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInspectGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(0, 2).Inspect(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
