// Command migrate creates the keyspace and tables, or drops the tables with
// --drop.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/mahaj/guildchat/pkg/config"
	"github.com/mahaj/guildchat/pkg/db"
	"github.com/mahaj/guildchat/pkg/logging"
)

func main() {
	var (
		drop        bool
		replication int
	)
	cmd := &cli.Command{
		Name:  "migrate",
		Usage: "Apply the ScyllaDB schema",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "drop", Usage: "drop every table instead of creating them", Destination: &drop},
			&cli.IntFlag{Name: "replication", Value: 1, Usage: "keyspace replication factor", Destination: &replication},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel, "migrate")

			if err := db.EnsureKeyspace(logger, cfg.ScyllaHosts, cfg.ScyllaKeyspace, replication); err != nil {
				return err
			}
			session, err := db.NewSession(logger, cfg.ScyllaHosts, cfg.ScyllaKeyspace)
			if err != nil {
				return err
			}
			defer session.Close()

			if drop {
				return db.Drop(logger, session)
			}
			if err := db.Migrate(logger, session); err != nil {
				return err
			}
			logger.Info().Int("tables", len(db.Tables)).Msg("schema up to date")
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("migration failed")
	}
}
