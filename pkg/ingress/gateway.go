// Package ingress accepts message writes: it authorizes the caller,
// persists through the message log and then publishes the stored message.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/metrics"
	"github.com/mahaj/guildchat/pkg/model"
	"github.com/mahaj/guildchat/pkg/store"
)

// Stage is where a request is in its lifecycle: Received, Authorized,
// Persisted, Published, Acknowledged, or Rejected from Received or
// Authorized.
type Stage string

const (
	StageReceived     Stage = "received"
	StageAuthorized   Stage = "authorized"
	StagePersisted    Stage = "persisted"
	StagePublished    Stage = "published"
	StageAcknowledged Stage = "acknowledged"
	StageRejected     Stage = "rejected"
)

type MessageLog interface {
	Draft(room model.Room, memberID, content, fileURL string) (model.Message, error)
	Insert(ctx context.Context, msg model.Message) error
	Get(ctx context.Context, id model.MessageID) (*model.Message, error)
	MarkUpdated(ctx context.Context, id model.MessageID, change store.Change) (*model.Message, error)
}

type Members interface {
	Participant(ctx context.Context, room model.Room, profileID string) (*model.Member, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

type CreateRequest struct {
	Room    model.Room
	Content string
	FileURL string
}

const publishTimeout = 5 * time.Second

type Option func(*Gateway)

// WithRetry sets how often transient store failures are retried.
func WithRetry(attempts int, base, ceiling time.Duration) Option {
	return func(g *Gateway) {
		if attempts > 0 {
			g.retry = retryPolicy{attempts: attempts, base: base, ceiling: ceiling}
		}
	}
}

// WithObserver is called on every stage transition.
func WithObserver(fn func(Stage, model.Room)) Option {
	return func(g *Gateway) { g.observe = fn }
}

type Gateway struct {
	messages MessageLog
	members  Members
	pub      Publisher
	log      zerolog.Logger
	retry    retryPolicy
	locks    *keyedMutex
	observe  func(Stage, model.Room)
}

func New(messages MessageLog, members Members, pub Publisher, log zerolog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		messages: messages,
		members:  members,
		pub:      pub,
		log:      log.With().Str("component", "ingress").Logger(),
		retry:    retryPolicy{attempts: 3, base: 50 * time.Millisecond, ceiling: time.Second},
		locks:    newKeyedMutex(),
		observe:  func(Stage, model.Room) {},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create persists a new message from profileID and broadcasts it. The
// message is returned once persisted, whether or not the broadcast worked.
func (g *Gateway) Create(ctx context.Context, profileID string, req CreateRequest) (*model.Message, error) {
	room := req.Room
	g.observe(StageReceived, room)

	if err := room.Validate(); err != nil {
		return nil, g.reject(room, err)
	}
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.FileURL) == "" {
		return nil, g.reject(room, fmt.Errorf("content or attachment required: %w", model.ErrValidation))
	}

	member, err := g.members.Participant(ctx, room, profileID)
	if err != nil {
		return nil, g.reject(room, err)
	}
	g.observe(StageAuthorized, room)

	unlock := g.locks.Lock(room.Key())
	defer unlock()

	// One draft for every attempt: a write that landed but timed out is
	// retried under the same id, not stored twice.
	msg, err := g.messages.Draft(room, member.ID, req.Content, req.FileURL)
	if err != nil {
		return nil, g.reject(room, err)
	}
	if err := g.retry.do(ctx, func() error { return g.messages.Insert(ctx, msg) }); err != nil {
		return nil, g.reject(room, err)
	}
	g.observe(StagePersisted, room)
	metrics.MessagesCreated.WithLabelValues(string(room.Kind)).Inc()

	g.publish(ctx, model.Created(msg))
	g.observe(StageAcknowledged, room)
	return &msg, nil
}

// Edit replaces the content of a message. Only its author may edit it.
func (g *Gateway) Edit(ctx context.Context, profileID string, id model.MessageID, content string) (*model.Message, error) {
	return g.update(ctx, profileID, id, store.Change{Content: content}, func(msg *model.Message, m *model.Member) bool {
		return msg.MemberID == m.ID
	})
}

// Delete tombstones a message. Authors may delete their own messages;
// moderators and admins may delete any message in their server's channels.
func (g *Gateway) Delete(ctx context.Context, profileID string, id model.MessageID) (*model.Message, error) {
	return g.update(ctx, profileID, id, store.Change{Tombstone: true}, func(msg *model.Message, m *model.Member) bool {
		if msg.MemberID == m.ID {
			return true
		}
		return msg.Room.Kind == model.RoomChannel && m.Role.AtLeast(model.RoleModerator)
	})
}

func (g *Gateway) update(ctx context.Context, profileID string, id model.MessageID, change store.Change, allowed func(*model.Message, *model.Member) bool) (*model.Message, error) {
	var current *model.Message
	err := g.retry.do(ctx, func() error {
		var err error
		current, err = g.messages.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, g.reject(model.Room{}, err)
	}
	room := current.Room
	g.observe(StageReceived, room)

	member, err := g.members.Participant(ctx, room, profileID)
	if err != nil {
		return nil, g.reject(room, err)
	}
	if !allowed(current, member) {
		return nil, g.reject(room, fmt.Errorf("member %s may not change message %s: %w", member.ID, id, model.ErrForbidden))
	}
	g.observe(StageAuthorized, room)

	unlock := g.locks.Lock(room.Key())
	defer unlock()

	var msg *model.Message
	err = g.retry.do(ctx, func() error {
		var err error
		msg, err = g.messages.MarkUpdated(ctx, id, change)
		return err
	})
	if err != nil {
		return nil, g.reject(room, err)
	}
	g.observe(StagePersisted, room)

	g.publish(ctx, model.Updated(*msg))
	g.observe(StageAcknowledged, room)
	return msg, nil
}

// publish runs under the room lock so events leave in persistence order.
// It outlives a cancelled request.
func (g *Gateway) publish(ctx context.Context, ev model.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := g.pub.Publish(ctx, ev); err != nil {
		metrics.PublishFailures.Inc()
		g.log.Warn().Err(err).
			Str("event", ev.Key()).
			Str("id", ev.Message.ID.String()).
			Msg("broadcast failed, message remains available via history")
		return
	}
	g.observe(StagePublished, ev.Room())
}

func (g *Gateway) reject(room model.Room, err error) error {
	reason := rejectReason(err)
	metrics.MessagesRejected.WithLabelValues(reason).Inc()
	g.observe(StageRejected, room)

	level := zerolog.DebugLevel
	if reason == "transient" || reason == "internal" {
		level = zerolog.ErrorLevel
	}
	g.log.WithLevel(level).Err(err).Str("room", room.Key()).Str("reason", reason).Msg("message write rejected")
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrTransient):
		return "transient"
	}
	return "internal"
}
