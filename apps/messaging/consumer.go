package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/broker"
	"github.com/mahaj/guildchat/pkg/config"
	"github.com/mahaj/guildchat/pkg/model"
)

// Consumer keeps the direct message inbox in step with the event stream.
type Consumer struct {
	sink broker.Sink
	log  zerolog.Logger
}

func NewConsumer(sink broker.Sink, log zerolog.Logger) *Consumer {
	return &Consumer{sink: sink, log: log.With().Str("component", "consumer").Logger()}
}

// Publish implements broker.Sink. Channel messages and edits need no
// bookkeeping here; the recorder ignores them.
func (c *Consumer) Publish(ctx context.Context, ev model.Event) error {
	if err := c.sink.Publish(ctx, ev); err != nil {
		return err
	}
	if ev.Kind == model.EventCreated && ev.Room().Kind == model.RoomConversation {
		c.log.Debug().Str("conversation", ev.Room().ID).Str("id", ev.Message.ID.String()).Msg("inbox updated")
	}
	return nil
}

// relayFor shares one consumer group across messaging instances so each
// event touches the inbox once.
func relayFor(cfg *config.Config, c *Consumer, log zerolog.Logger) *broker.Relay {
	return broker.NewRelay(broker.RelayConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroup,
	}, c, log)
}
