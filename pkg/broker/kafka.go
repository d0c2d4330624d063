package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/guildchat/pkg/model"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", ev.Key(), err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }

// RelayConfig selects the consumer group. Gateways each use a unique group
// starting at the newest offset so every gateway sees every event; the
// messaging service shares one group so each event is handled once.
type RelayConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Latest  bool
}

// recordReader is the part of *kafka.Reader the relay uses.
type recordReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// sinkAttempts bounds how often one record is offered to the sink before
// it is committed anyway.
const sinkAttempts = 3

// Relay reads events from Kafka and hands each one to a Sink. Offsets are
// committed only after the sink accepted the record, so a crash replays
// it (at-least-once).
type Relay struct {
	reader  recordReader
	sink    Sink
	log     zerolog.Logger
	backoff time.Duration
}

func NewRelay(cfg RelayConfig, sink Sink, log zerolog.Logger) *Relay {
	start := kafka.FirstOffset
	if cfg.Latest {
		start = kafka.LastOffset
	}
	return &Relay{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			StartOffset: start,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     250 * time.Millisecond,
		}),
		sink:    sink,
		log:     log.With().Str("component", "relay").Str("group", cfg.GroupID).Logger(),
		backoff: time.Second,
	}
}

// Run blocks until ctx is cancelled. A record the sink keeps rejecting is
// logged and committed after sinkAttempts tries so one bad event cannot
// stall its partition.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().Msg("relay started")
	for {
		m, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return ctx.Err()
			}
			r.log.Error().Err(err).Msg("error reading message, retrying in 1s")
			if !r.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := r.handle(ctx, m); err != nil {
			return err
		}
		if err := r.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Int64("offset", m.Offset).Msg("commit failed")
		}
	}
}

// handle delivers one record. It only fails when ctx is cancelled before
// the sink accepted it, in which case the record stays uncommitted.
func (r *Relay) handle(ctx context.Context, m kafka.Message) error {
	ev, err := Decode(m)
	if err != nil {
		r.log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping undecodable record")
		return nil
	}
	for attempt := 1; ; attempt++ {
		err := r.sink.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := r.log.Error().Err(err).Str("event", ev.Key()).Str("id", ev.Message.ID.String()).Int("attempt", attempt)
		if attempt == sinkAttempts {
			log.Msg("sink rejected event, skipping")
			return nil
		}
		log.Msg("sink rejected event, retrying")
		if !r.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (r *Relay) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.backoff):
		return true
	}
}

func (r *Relay) Close() error { return r.reader.Close() }
