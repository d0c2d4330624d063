// Package realtime fans persisted message events out to the live
// connections subscribed to each room.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/metrics"
	"github.com/mahaj/guildchat/pkg/model"
)

var (
	ErrHubClosed    = errors.New("hub closed")
	ErrNotConnected = errors.New("subscriber not connected")
)

// Presence records which profiles are watching a room.
type Presence interface {
	Join(ctx context.Context, room model.Room, profileID string) error
	Leave(ctx context.Context, room model.Room, profileID string) error
}

const presenceTimeout = 2 * time.Second

type Option func(*Hub)

func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(h *Hub) { h.policy = p }
}

func WithPresence(p Presence) Option {
	return func(h *Hub) { h.presence = p }
}

// group is one room's subscriber set. Membership changes happen under the
// hub's write lock; publishes hold the hub's read lock plus the group lock,
// which keeps events of one room in publish order for every subscriber.
type group struct {
	mu   sync.Mutex
	room model.Room
	subs map[*Subscriber]struct{}
}

// Hub is the registry of live connections and their room subscriptions.
// Construct one per process and Close it at shutdown.
type Hub struct {
	log       zerolog.Logger
	queueSize int
	policy    OverflowPolicy
	presence  Presence

	mu     sync.RWMutex
	rooms  map[string]*group
	conns  map[*Subscriber]map[string]model.Room
	closed bool
}

func NewHub(log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:       log.With().Str("component", "hub").Logger(),
		queueSize: 256,
		policy:    DropOldest,
		rooms:     make(map[string]*group),
		conns:     make(map[*Subscriber]map[string]model.Room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a new connection for profileID.
func (h *Hub) Connect(profileID string) (*Subscriber, error) {
	sub := newSubscriber(uuid.NewString(), profileID, h.queueSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.conns[sub] = make(map[string]model.Room)
	metrics.ActiveConnections.Inc()

	h.log.Debug().Str("conn", sub.ID).Str("profile", profileID).Msg("connection registered")
	return sub, nil
}

// Subscribe adds sub to room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(sub *Subscriber, room model.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	key := room.Key()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	joined, ok := h.conns[sub]
	if !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}
	if _, dup := joined[key]; dup {
		h.mu.Unlock()
		return nil
	}
	g, ok := h.rooms[key]
	if !ok {
		g = &group{room: room, subs: make(map[*Subscriber]struct{})}
		h.rooms[key] = g
	}
	g.subs[sub] = struct{}{}
	joined[key] = room
	h.mu.Unlock()

	h.log.Debug().Str("conn", sub.ID).Str("room", key).Msg("subscribed")
	h.presenceJoin(sub, room)
	return nil
}

// Unsubscribe removes sub from room.
func (h *Hub) Unsubscribe(sub *Subscriber, room model.Room) {
	key := room.Key()

	h.mu.Lock()
	joined, ok := h.conns[sub]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := joined[key]; !ok {
		h.mu.Unlock()
		return
	}
	delete(joined, key)
	h.leaveGroupLocked(sub, key)
	h.mu.Unlock()

	h.presenceLeave(sub, room)
}

// Disconnect revokes every subscription of sub at once and closes its
// event channel. It is safe to call more than once.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.mu.Lock()
	joined, ok := h.conns[sub]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, sub)
	for key := range joined {
		h.leaveGroupLocked(sub, key)
	}
	h.mu.Unlock()

	sub.close()
	metrics.ActiveConnections.Dec()
	for _, room := range joined {
		h.presenceLeave(sub, room)
	}
	h.log.Debug().Str("conn", sub.ID).Int("rooms", len(joined)).Msg("connection unregistered")
}

func (h *Hub) leaveGroupLocked(sub *Subscriber, key string) {
	g, ok := h.rooms[key]
	if !ok {
		return
	}
	delete(g.subs, sub)
	if len(g.subs) == 0 {
		delete(h.rooms, key)
	}
}

// Publish delivers ev to every connection currently subscribed to the
// event's room without blocking on any of them. Delivery failures are
// handled per the overflow policy and logged, never returned.
func (h *Hub) Publish(_ context.Context, ev model.Event) error {
	key := ev.Room().Key()

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	g, ok := h.rooms[key]
	if !ok {
		h.mu.RUnlock()
		return nil
	}

	var overflowed []*Subscriber
	g.mu.Lock()
	for sub := range g.subs {
		if !sub.enqueue(ev, h.policy) {
			overflowed = append(overflowed, sub)
		}
	}
	fanout := len(g.subs)
	g.mu.Unlock()
	h.mu.RUnlock()

	metrics.EventsPublished.Inc()
	h.log.Debug().Str("room", key).Str("event", ev.Key()).Int("subscribers", fanout).Msg("event published")

	for _, sub := range overflowed {
		h.log.Warn().Str("conn", sub.ID).Str("room", key).Msg("subscriber queue full, disconnecting")
		h.Disconnect(sub)
	}
	return nil
}

// Rooms lists the rooms sub is subscribed to.
func (h *Hub) Rooms(sub *Subscriber) []model.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.Room, 0, len(h.conns[sub]))
	for _, r := range h.conns[sub] {
		out = append(out, r)
	}
	return out
}

// Subscribers counts the connections subscribed to room.
func (h *Hub) Subscribers(room model.Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if g, ok := h.rooms[room.Key()]; ok {
		return len(g.subs)
	}
	return 0
}

// Close disconnects everyone and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := h.conns
	h.conns = make(map[*Subscriber]map[string]model.Room)
	h.rooms = make(map[string]*group)
	h.mu.Unlock()

	for sub, joined := range conns {
		sub.close()
		metrics.ActiveConnections.Dec()
		for _, room := range joined {
			h.presenceLeave(sub, room)
		}
	}
	h.log.Info().Int("connections", len(conns)).Msg("hub closed")
}

// presenceJoin records sub in room unless sub already left it. A Leave that
// raced ahead of this call finds nothing recorded and is skipped, so the
// count never outlives the subscription.
func (h *Hub) presenceJoin(sub *Subscriber, room model.Room) {
	if h.presence == nil {
		return
	}
	key := room.Key()
	sub.presenceMu.Lock()
	defer sub.presenceMu.Unlock()

	h.mu.RLock()
	_, still := h.conns[sub][key]
	h.mu.RUnlock()
	if !still || sub.present[key] {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Join(ctx, room, sub.ProfileID); err != nil {
		h.log.Warn().Err(err).Str("room", key).Str("profile", sub.ProfileID).Msg("failed to record presence")
		return
	}
	sub.present[key] = true
}

func (h *Hub) presenceLeave(sub *Subscriber, room model.Room) {
	if h.presence == nil {
		return
	}
	key := room.Key()
	sub.presenceMu.Lock()
	defer sub.presenceMu.Unlock()
	if !sub.present[key] {
		return
	}
	delete(sub.present, key)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Leave(ctx, room, sub.ProfileID); err != nil {
		h.log.Warn().Err(err).Str("room", key).Str("profile", sub.ProfileID).Msg("failed to clear presence")
	}
}
