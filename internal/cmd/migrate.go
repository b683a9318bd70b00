package main

import (
	"github.com/urfave/cli/v2"

	"newsbot/internal/storage"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Creates the schema or brings it up to date. The run command does this too on start.`,
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c, false)
			if err != nil {
				return err
			}

			db, err := storage.Open(c.Context, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.WithField("driver", db.DriverName()).Info("database is up to date")

			return nil
		},
	}
}
