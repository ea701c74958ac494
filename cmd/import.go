/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"os"

	"github.com/jmgilman/go/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/MShaffar19/transitland-datastore/models"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load feeds from a DMFR file",
		ArgsUsage: "<file.dmfr.json>",
		Description: `Creates or updates a feed for every record in a DMFR document.

Existing feeds are matched by onestop id. Feeds missing from the file are
left untouched.`,
		Flags: databaseFlags(),
		Action: func(ctx *cli.Context) error {
			path := ctx.Args().First()
			if path == "" {
				return errors.New(errors.CodeInvalidInput, "a DMFR file is required")
			}

			doc, err := readDMFR(path)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			var created, updated int
			for _, f := range doc.Feeds {
				feed := feedFromDMFR(f)
				inserted, err := database.UpsertFeed(ctx.Context, &feed)
				if err != nil {
					return err
				}
				if inserted {
					created++
				} else {
					updated++
				}
			}

			log.WithFields(log.Fields{
				"file":    path,
				"created": created,
				"updated": updated,
			}).Info("Imported DMFR")
			return nil
		},
	}
}

func readDMFR(path string) (*models.DMFR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithContext(errors.Wrap(err, errors.CodeNotFound, "cannot read DMFR file"), "path", path)
	}

	var doc models.DMFR
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WithContext(errors.Wrap(err, errors.CodeInvalidInput, "malformed DMFR file"), "path", path)
	}
	return &doc, nil
}

func feedFromDMFR(f models.DMFRFeed) models.Feed {
	return models.Feed{
		OnestopId:     f.Id,
		FeedFormat:    f.Spec,
		Urls:          f.Urls,
		License:       f.License,
		Authorization: f.Authorization,
	}
}
