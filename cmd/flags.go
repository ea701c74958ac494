/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/MShaffar19/transitland-datastore/cache"
	"github.com/MShaffar19/transitland-datastore/config"
	"github.com/MShaffar19/transitland-datastore/db"
	"github.com/MShaffar19/transitland-datastore/fetch"
	"github.com/MShaffar19/transitland-datastore/fetchinfo"
)

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-host",
			Usage:   "PostgreSQL host",
			EnvVars: []string{"TRANSITLAND_DB_HOST"},
			Value:   "localhost",
		},
		&cli.IntFlag{
			Name:    "db-port",
			Usage:   "PostgreSQL port",
			EnvVars: []string{"TRANSITLAND_DB_PORT"},
			Value:   5432,
		},
		&cli.StringFlag{
			Name:    "db-user",
			Usage:   "PostgreSQL user",
			EnvVars: []string{"TRANSITLAND_DB_USER"},
			Value:   "transitland",
		},
		&cli.StringFlag{
			Name:    "db-password",
			Usage:   "PostgreSQL password",
			EnvVars: []string{"TRANSITLAND_DB_PASSWORD"},
			Value:   "transitland",
		},
		&cli.StringFlag{
			Name:    "db-name",
			Usage:   "PostgreSQL database name",
			EnvVars: []string{"TRANSITLAND_DB_NAME"},
			Value:   "transitland",
		},
		&cli.StringFlag{
			Name:    "db-sslmode",
			Usage:   "PostgreSQL sslmode",
			EnvVars: []string{"TRANSITLAND_DB_SSLMODE"},
			Value:   "disable",
		},
	}
}

func cacheFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "cache-backend",
			Usage:   "Fetch info cache: memory, leveldb or postgres",
			EnvVars: []string{"TRANSITLAND_CACHE_BACKEND"},
			Value:   config.CacheMemory,
		},
		&cli.StringFlag{
			Name:    "cache-path",
			Usage:   "LevelDB directory for the leveldb cache backend",
			EnvVars: []string{"TRANSITLAND_CACHE_PATH"},
			Value:   "cache.db",
		},
		&cli.DurationFlag{
			Name:    "cache-expiration",
			Usage:   "How long fetch info records are kept",
			EnvVars: []string{"TRANSITLAND_CACHE_EXPIRATION", "CACHE_EXPIRATION"},
			Value:   fetchinfo.DefaultExpiration,
		},
		&cli.DurationFlag{
			Name:    "cache-cleanup-interval",
			Usage:   "How often the memory cache backend drops expired records",
			EnvVars: []string{"TRANSITLAND_CACHE_CLEANUP_INTERVAL"},
			Value:   10 * time.Minute,
		},
	}
}

func queueFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "queue-backend",
			Usage:   "Where fetch info tasks run: inprocess or postgres",
			EnvVars: []string{"TRANSITLAND_QUEUE_BACKEND"},
			Value:   config.QueueInProcess,
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of concurrent fetch workers",
			EnvVars: []string{"TRANSITLAND_WORKERS"},
			Value:   4,
		},
		&cli.IntFlag{
			Name:    "queue-size",
			Usage:   "Capacity of the in-process task queue",
			EnvVars: []string{"TRANSITLAND_QUEUE_SIZE"},
			Value:   1000,
		},
	}
}

func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "fetch-timeout",
			Usage:   "Timeout for downloading a feed",
			EnvVars: []string{"TRANSITLAND_FETCH_TIMEOUT"},
			Value:   60 * time.Second,
		},
		&cli.Int64Flag{
			Name:    "fetch-max-size",
			Usage:   "Largest feed download in bytes",
			EnvVars: []string{"TRANSITLAND_FETCH_MAX_SIZE"},
			Value:   512 * 1024 * 1024,
		},
	}
}

// loadConfig reads the config file and applies flags the user set explicitly
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag  string
		apply func()
	}{
		{"listen", func() { cfg.Server.Listen = ctx.String("listen") }},
		{"api-token", func() { cfg.Server.ApiToken = ctx.String("api-token") }},
		{"cors-origins", func() { cfg.Server.CorsOrigins = ctx.String("cors-origins") }},
		{"dmfr-cache-expiration", func() {
			cfg.Server.DMFRCacheExpiration.Duration = ctx.Duration("dmfr-cache-expiration")
		}},
		{"db-host", func() { cfg.Database.Host = ctx.String("db-host") }},
		{"db-port", func() { cfg.Database.Port = ctx.Int("db-port") }},
		{"db-user", func() { cfg.Database.User = ctx.String("db-user") }},
		{"db-password", func() { cfg.Database.Password = ctx.String("db-password") }},
		{"db-name", func() { cfg.Database.Name = ctx.String("db-name") }},
		{"db-sslmode", func() { cfg.Database.SSLMode = ctx.String("db-sslmode") }},
		{"cache-backend", func() { cfg.Cache.Backend = ctx.String("cache-backend") }},
		{"cache-path", func() { cfg.Cache.Path = ctx.String("cache-path") }},
		{"cache-expiration", func() { cfg.Cache.Expiration.Duration = ctx.Duration("cache-expiration") }},
		{"cache-cleanup-interval", func() {
			cfg.Cache.CleanupInterval.Duration = ctx.Duration("cache-cleanup-interval")
		}},
		{"queue-backend", func() { cfg.Queue.Backend = ctx.String("queue-backend") }},
		{"workers", func() { cfg.Queue.Workers = ctx.Int("workers") }},
		{"queue-size", func() { cfg.Queue.Size = ctx.Int("queue-size") }},
		{"poll-interval", func() { cfg.Queue.PollInterval.Duration = ctx.Duration("poll-interval") }},
		{"retention", func() { cfg.Queue.Retention.Duration = ctx.Duration("retention") }},
		{"fetch-timeout", func() { cfg.Fetch.Timeout.Duration = ctx.Duration("fetch-timeout") }},
		{"fetch-max-size", func() { cfg.Fetch.MaxSize = ctx.Int64("fetch-max-size") }},
	}
	for _, o := range overrides {
		if ctx.IsSet(o.flag) {
			o.apply()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDB(cfg *config.Config) (*db.DB, error) {
	log.WithFields(log.Fields{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
		"name": cfg.Database.Name,
	}).Info("Database configured")

	return db.NewDB(cfg.Database.URL(),
		db.WithJobLease(cfg.Queue.JobLease.Duration),
		db.WithJobMaxAttempts(cfg.Queue.MaxAttempts),
	)
}

// openCache returns the configured cache store and a function closing it
func openCache(cfg *config.Config, database *db.DB) (fetchinfo.CacheStore, func() error, error) {
	log.WithField("backend", cfg.Cache.Backend).Info("Cache configured")

	switch cfg.Cache.Backend {
	case config.CacheMemory:
		store := cache.NewMemoryStore(cache.WithCleanupInterval(cfg.Cache.CleanupInterval.Duration))
		return store, store.Close, nil
	case config.CacheLevelDB:
		store, err := cache.OpenLevelDB(cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.CachePostgres:
		return database.Cache(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// newPerformer wires the fetch client into a fetch info performer
func newPerformer(cfg *config.Config, store fetchinfo.CacheStore) *fetchinfo.Performer {
	client := fetch.NewClient(fetch.Config{
		Timeout:     cfg.Fetch.Timeout.Duration,
		MaxSize:     cfg.Fetch.MaxSize,
		UserAgent:   cfg.Fetch.UserAgent,
		MaxAttempts: cfg.Fetch.MaxAttempts,
	})

	return fetchinfo.NewPerformer(store, func(ctx context.Context, url string) (interface{}, error) {
		info, err := client.Inspect(ctx, url)
		if err != nil {
			return nil, err
		}
		return info, nil
	}, cfg.Cache.Expiration.Duration)
}
