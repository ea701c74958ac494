/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/MShaffar19/transitland-datastore/config"
	"github.com/MShaffar19/transitland-datastore/fetchinfo"
	"github.com/MShaffar19/transitland-datastore/server"
	"github.com/MShaffar19/transitland-datastore/worker"
)

// serveCmd represents the serve command
func serveCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Usage:   "Address to listen on",
			EnvVars: []string{"TRANSITLAND_LISTEN"},
			Value:   ":3000",
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "Bearer token for creating, updating and deleting feeds",
			EnvVars: []string{"TRANSITLAND_API_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "cors-origins",
			Usage:   "Comma separated list of allowed CORS origins",
			EnvVars: []string{"TRANSITLAND_CORS_ORIGINS"},
			Value:   "*",
		},
		&cli.DurationFlag{
			Name:    "dmfr-cache-expiration",
			Usage:   "How long DMFR responses are cached in memory, 0 to disable",
			EnvVars: []string{"TRANSITLAND_DMFR_CACHE_EXPIRATION"},
			Value:   time.Minute,
		},
	}
	flags = append(flags, databaseFlags()...)
	flags = append(flags, cacheFlags()...)
	flags = append(flags, queueFlags()...)
	flags = append(flags, fetchFlags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the feed registry API",
		Description: `Starts the HTTP API on the specified or default address.

With the inprocess queue backend fetch info tasks run in a worker pool inside
this process. With the postgres backend they are stored in the fetch_jobs
table for the worker command to pick up.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			store, closeStore, err := openCache(cfg, database)
			if err != nil {
				return err
			}
			defer closeStore()

			// Graceful shutdown
			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var queue fetchinfo.TaskQueue = database
			var pool *worker.Pool
			if cfg.Queue.Backend == config.QueueInProcess {
				performer := newPerformer(cfg, store)
				pool = worker.NewPool(context.Background(), cfg.Queue.Workers, cfg.Queue.Size, performer.Perform)
				pool.Start()
				queue = pool
			}

			app := server.Server(&server.ServerConfig{
				Store:               database,
				FetchInfo:           fetchinfo.NewCoordinator(store, queue, cfg.Cache.Expiration.Duration),
				ApiToken:            cfg.Server.ApiToken,
				CorsOrigins:         cfg.Server.CorsOrigins,
				DMFRCacheExpiration: cfg.Server.DMFRCacheExpiration.Duration,
				Ready:               database.Ping,
			})

			if cfg.Server.ApiToken == "" {
				log.Warn("No API token configured, feed writes are disabled")
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("listen", cfg.Server.Listen).Info("Starting server")
				errCh <- app.Listen(cfg.Server.Listen)
			}()

			select {
			case err = <-errCh:
			case <-runCtx.Done():
				log.Info("Gracefully shutting down")
				err = app.ShutdownWithTimeout(60 * time.Second)
			}

			if pool != nil {
				pool.Shutdown()
			}

			log.Info("Done!")
			return err
		},
	}
}
