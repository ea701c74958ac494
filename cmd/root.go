/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "transitland-datastore",
		Usage: "A registry of public transit data feeds",
		Description: `A registry of GTFS and GTFS Realtime feeds with an HTTP API.

		Feeds are stored in PostgreSQL and can be listed, filtered and exported
		as a DMFR document. The fetch_info endpoint inspects an upstream feed URL
		in the background and caches what it found.

		Flags can generally be set via environment variables, e.g.:

		--listen => TRANSITLAND_LISTEN=:8080
		--db-host => TRANSITLAND_DB_HOST=postgres
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML or YAML config file",
				EnvVars: []string{"TRANSITLAND_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn or error",
				EnvVars: []string{"TRANSITLAND_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: text or json",
				EnvVars: []string{"TRANSITLAND_LOG_FORMAT"},
				Value:   "text",
			},
		},
		Before: func(ctx *cli.Context) error {
			return configureLogging(ctx.String("log-level"), ctx.String("log-format"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			workerCmd(),
			migrateCmd(),
			rollbackCmd(),
			importCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func configureLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
