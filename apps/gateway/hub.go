package main

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/broker"
	"github.com/mahaj/guildchat/pkg/config"
	"github.com/mahaj/guildchat/pkg/presence"
	"github.com/mahaj/guildchat/pkg/realtime"
)

// newHub builds the local fan-out hub from configuration.
func newHub(cfg *config.Config, tracker presence.Tracker, log zerolog.Logger) (*realtime.Hub, error) {
	policy, err := realtime.ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	return realtime.NewHub(log,
		realtime.WithQueueSize(cfg.SendQueueSize),
		realtime.WithOverflowPolicy(policy),
		realtime.WithPresence(tracker),
	), nil
}

// newRelay feeds the hub from Kafka. Every gateway gets its own consumer
// group starting at the newest offset, so each one sees every event.
func newRelay(cfg *config.Config, hub *realtime.Hub, log zerolog.Logger) *broker.Relay {
	return broker.NewRelay(broker.RelayConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: "gateway-" + uuid.NewString(),
		Latest:  true,
	}, hub, log)
}
