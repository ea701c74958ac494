package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/MShaffar19/transitland-datastore/cache"
	"github.com/MShaffar19/transitland-datastore/config"
	"github.com/MShaffar19/transitland-datastore/models"
)

// runWithConfig runs a command with the serve flags and returns the loaded config
func runWithConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var loaded *config.Config
	app := RootApp()
	app.Commands = []*cli.Command{{
		Name:  "check",
		Flags: serveCmd().Flags,
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			loaded = cfg
			return err
		},
	}}
	err := app.Run(append([]string{"transitland-datastore"}, args...))
	return loaded, err
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
listen = ":8080"

[cache]
expiration = "2h"

[queue]
workers = 2
`), 0o644))

	cfg, err := runWithConfig(t, "--config", path, "check", "--workers", "6")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 2*time.Hour, cfg.Cache.Expiration.Duration)
	assert.Equal(t, 6, cfg.Queue.Workers)
	// flag defaults do not clobber file values
	assert.Equal(t, 1000, cfg.Queue.Size)
}

func TestLoadConfigValidates(t *testing.T) {
	_, err := runWithConfig(t, "check", "--cache-backend", "redis")
	assert.Error(t, err)
}

func TestOpenCacheMemoryDropsExpiredEntries(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.CleanupInterval.Duration = 10 * time.Millisecond

	store, closeStore, err := openCache(cfg, nil)
	require.NoError(t, err)
	defer closeStore()

	memory, ok := store.(*cache.MemoryStore)
	require.True(t, ok)

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("feeds/fetch_info/https://example.com/%d.zip", i), []byte("{}"), time.Millisecond))
	}

	assert.Eventually(t, func() bool { return memory.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConfigureLogging(t *testing.T) {
	assert.NoError(t, configureLogging("debug", "json"))
	assert.NoError(t, configureLogging("info", "text"))
	assert.Error(t, configureLogging("loud", "text"))
	assert.Error(t, configureLogging("info", "xml"))
}

func TestReadDMFR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.dmfr.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"$schema": "https://dmfr.transit.land/json-schema/dmfr.schema-v0.1.0.json",
		"feeds": [
			{"spec": "gtfs", "id": "f-9q9-bart", "urls": {"static_current": "https://example.com/bart.zip"}, "license": {"spdx_identifier": "CC0-1.0"}},
			{"spec": "gtfs-rt", "id": "f-9q9-bart~rt", "urls": {"realtime_trip_updates": "https://example.com/tu.pb"}, "authorization": {"type": "header", "param_name": "key"}}
		],
		"license_spdx_identifier": "CC0-1.0"
	}`), 0o644))

	doc, err := readDMFR(path)
	require.NoError(t, err)
	require.Len(t, doc.Feeds, 2)

	feed := feedFromDMFR(doc.Feeds[0])
	assert.Equal(t, "f-9q9-bart", feed.OnestopId)
	assert.Equal(t, models.FeedFormatGTFS, feed.FeedFormat)
	assert.Equal(t, "https://example.com/bart.zip", feed.Urls.StaticCurrent)
	assert.Equal(t, "CC0-1.0", feed.License.SpdxIdentifier)

	rt := feedFromDMFR(doc.Feeds[1])
	require.NotNil(t, rt.Authorization)
	assert.Equal(t, "key", rt.Authorization.ParamName)

	_, err = readDMFR(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
