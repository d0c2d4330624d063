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

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/broker"
	"github.com/mahaj/guildchat/pkg/config"
	"github.com/mahaj/guildchat/pkg/db"
	"github.com/mahaj/guildchat/pkg/ingress"
	"github.com/mahaj/guildchat/pkg/logging"
	"github.com/mahaj/guildchat/pkg/pagination"
	"github.com/mahaj/guildchat/pkg/presence"
	"github.com/mahaj/guildchat/pkg/realtime"
	"github.com/mahaj/guildchat/pkg/snowflake"
	"github.com/mahaj/guildchat/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "api")

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize snowflake node")
	}

	var (
		messageBackend   store.MessageBackend
		directoryBackend store.DirectoryBackend
		inbox            store.Inbox
	)
	switch cfg.Store {
	case "memory":
		messageBackend = store.NewMemoryMessages()
		directoryBackend = store.NewMemoryDirectory()
		inbox = store.NewMemoryInbox()
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		session, err := db.NewSession(logger, cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
		}
		defer session.Close()
		messageBackend = store.NewScyllaMessages(session)
		directoryBackend = store.NewScyllaDirectory(session)
		inbox = store.NewScyllaInbox(session)
	}

	var tracker presence.Tracker = presence.NewMemory()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		tracker = presence.NewRedis(rdb)
	}

	directory := store.NewDirectory(directoryBackend)
	messages := store.NewMessages(messageBackend, directory, node)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)

	a := &app{
		log:       logger,
		issuer:    issuer,
		directory: directory,
		pages:     pagination.NewService(messages, logger),
		inbox:     inbox,
		presence:  tracker,
	}

	// With Kafka, gateways and the messaging service consume the stream.
	// Without it this process serves sockets and keeps the inbox itself.
	var pub ingress.Publisher
	if cfg.KafkaEnabled() {
		kafkaPub := broker.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPub.Close()
		pub = kafkaPub
	} else {
		policy, err := realtime.ParseOverflowPolicy(cfg.OverflowPolicy)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid overflow policy")
		}
		hub := realtime.NewHub(logger,
			realtime.WithQueueSize(cfg.SendQueueSize),
			realtime.WithOverflowPolicy(policy),
			realtime.WithPresence(tracker))
		defer hub.Close()
		a.ws = realtime.NewHandler(hub, issuer, directory, logger)
		pub = broker.Fanout{hub, store.NewInboxRecorder(directory, inbox)}
		logger.Info().Msg("kafka disabled, serving websockets in-process")
	}
	a.ingress = ingress.New(messages, directory, pub, logger,
		ingress.WithRetry(cfg.PublishRetries, 50*time.Millisecond, time.Second))

	srv := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      newRouter(a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.APIAddr).Str("env", cfg.Env).Str("store", cfg.Store).Msg("API service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}
