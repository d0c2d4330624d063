// Package broker carries message events between processes over Kafka.
// The API publishes, gateways relay into their hub, and the messaging
// service relays into the inbox.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/guildchat/pkg/model"
)

// Sink consumes events. *realtime.Hub is one.
type Sink interface {
	Publish(ctx context.Context, ev model.Event) error
}

type SinkFunc func(ctx context.Context, ev model.Event) error

func (f SinkFunc) Publish(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type envelope struct {
	EventKey string        `json:"eventKey"`
	Message  model.Message `json:"message"`
}

// Encode keys the record by room so one room's events stay on one
// partition, in order.
func Encode(ev model.Event) (kafka.Message, error) {
	value, err := json.Marshal(envelope{EventKey: ev.Key(), Message: ev.Message})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Room().Key()),
		Value: value,
		Time:  time.Now(),
	}, nil
}

func Decode(m kafka.Message) (model.Event, error) {
	var env envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := env.Message.Room.Validate(); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	kind, ok := model.KindFromKey(env.Message.Room, env.EventKey)
	if !ok {
		return model.Event{}, fmt.Errorf("decode event: unknown key %q: %w", env.EventKey, model.ErrValidation)
	}
	return model.Event{Kind: kind, Message: env.Message}, nil
}
