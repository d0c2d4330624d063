package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/config"
	"github.com/mahaj/guildchat/pkg/db"
	"github.com/mahaj/guildchat/pkg/logging"
	"github.com/mahaj/guildchat/pkg/presence"
	"github.com/mahaj/guildchat/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "gateway")

	if !cfg.KafkaEnabled() {
		logger.Fatal().Msg("KAFKA_BROKERS is required; without Kafka the API serves websockets itself")
	}

	var backend store.DirectoryBackend
	switch cfg.Store {
	case "memory":
		backend = store.NewMemoryDirectory()
		logger.Warn().Msg("using in-memory directory, authorization sees no shared data")
	default:
		session, err := db.NewSession(logger, cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
		}
		defer session.Close()
		backend = store.NewScyllaDirectory(session)
	}

	var tracker presence.Tracker = presence.NewMemory()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		tracker = presence.NewRedis(rdb)
	}

	hub, err := newHub(cfg, tracker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid hub settings")
	}
	relay := newRelay(cfg, hub, logger)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)

	srv := &http.Server{
		Addr:        cfg.GatewayAddr,
		Handler:     newRouter(hub, issuer, store.NewDirectory(backend), logger),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.GatewayAddr).Str("topic", cfg.KafkaTopic).Msg("gateway service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down gateway...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		hub.Close()
		_ = relay.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("gateway stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("gateway stopped")
}
