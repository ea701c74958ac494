/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmgilman/go/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/MShaffar19/transitland-datastore/config"
	"github.com/MShaffar19/transitland-datastore/worker"
)

func workerCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Longest wait between polls of an empty job queue",
			EnvVars: []string{"TRANSITLAND_POLL_INTERVAL"},
			Value:   5 * time.Second,
		},
	}
	flags = append(flags, databaseFlags()...)
	flags = append(flags, cacheFlags()...)
	flags = append(flags, queueFlags()...)
	flags = append(flags, fetchFlags()...)

	return &cli.Command{
		Name:  "worker",
		Usage: "Run fetch info jobs from the database queue",
		Description: `Claims fetch info jobs enqueued by serve with the postgres queue
backend, downloads and inspects each feed and writes the result to the
shared cache.

Jobs abandoned by a crashed worker are claimed again once their lease
expires.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != config.QueuePostgres {
				return errors.New(errors.CodeInvalidConfig, "the worker command needs queue.backend postgres")
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

			performer := newPerformer(cfg, store)
			poller := worker.NewPoller(database, performer.Perform, worker.PollerConfig{
				Concurrency:  cfg.Queue.Workers,
				BatchSize:    cfg.Queue.Workers,
				PollInterval: cfg.Queue.PollInterval.Duration,
			})

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = poller.Run(runCtx)
			log.Info("Worker stopped")
			return err
		},
	}
}
