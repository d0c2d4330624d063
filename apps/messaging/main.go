package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/config"
	"github.com/mahaj/guildchat/pkg/db"
	"github.com/mahaj/guildchat/pkg/logging"
	"github.com/mahaj/guildchat/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "messaging")

	if !cfg.KafkaEnabled() {
		logger.Fatal().Msg("KAFKA_BROKERS is required")
	}
	if cfg.Store != "scylla" {
		logger.Fatal().Str("store", cfg.Store).Msg("messaging service needs the scylla store")
	}

	// Same DDL as scripts/migrate, so a fresh cluster works without it.
	if err := db.EnsureKeyspace(logger, cfg.ScyllaHosts, cfg.ScyllaKeyspace, 1); err != nil {
		logger.Fatal().Err(err).Msg("failed to create keyspace")
	}
	session, err := db.NewSession(logger, cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()
	if err := db.Migrate(logger, session); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	directory := store.NewDirectory(store.NewScyllaDirectory(session))
	recorder := store.NewInboxRecorder(directory, store.NewScyllaInbox(session))
	relay := relayFor(cfg, NewConsumer(recorder, logger), logger)
	defer relay.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("topic", cfg.KafkaTopic).Str("group", cfg.KafkaGroup).Msg("starting Kafka consumer")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped with error")
	}
	logger.Info().Msg("messaging service stopped")
}
