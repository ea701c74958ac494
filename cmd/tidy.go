/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/MShaffar19/transitland-datastore/cache"
	"github.com/MShaffar19/transitland-datastore/config"
)

func tidyCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:    "retention",
			Usage:   "Keep finished fetch jobs for this long",
			EnvVars: []string{"TRANSITLAND_JOB_RETENTION"},
			Value:   7 * 24 * time.Hour,
		},
	}
	flags = append(flags, databaseFlags()...)
	flags = append(flags, cacheFlags()...)

	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the cache and job queue",
		Description: `Removes expired fetch info records and finished fetch jobs.

Expired records are never served, they only take up space. The memory cache
backend drops them every cache cleanup interval and is skipped.`,
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

			switch cfg.Cache.Backend {
			case config.CacheLevelDB:
				store, err := cache.OpenLevelDB(cfg.Cache.Path)
				if err != nil {
					return err
				}
				purged, err := store.Purge()
				store.Close()
				if err != nil {
					return err
				}
				log.WithField("purged", purged).Info("Tidied leveldb cache")
			case config.CachePostgres:
				purged, err := database.Cache().Purge(ctx.Context)
				if err != nil {
					return err
				}
				log.WithField("purged", purged).Info("Tidied postgres cache")
			}

			purged, err := database.PurgeJobs(ctx.Context, cfg.Queue.Retention.Duration)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"purged":    purged,
				"retention": cfg.Queue.Retention.Duration,
			}).Info("Tidied fetch jobs")
			return nil
		},
	}
}
