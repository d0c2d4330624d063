package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mahaj/guildchat/pkg/metrics"
	"github.com/mahaj/guildchat/pkg/model"
)

// OverflowPolicy decides what happens when a subscriber's queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued event to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect drops the subscriber entirely.
	Disconnect
)

func (p OverflowPolicy) String() string {
	if p == Disconnect {
		return "disconnect"
	}
	return "drop-oldest"
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop-oldest", "":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

// Subscriber is one live connection registered with a Hub. Events for the
// rooms it joined arrive on Events in per-room publish order; the channel
// is closed when the subscriber is disconnected.
type Subscriber struct {
	ID        string
	ProfileID string

	mu      sync.Mutex // guards send and closed
	send    chan model.Event
	closed  bool
	dropped atomic.Int64

	presenceMu sync.Mutex // serializes presence writes for this connection
	present    map[string]bool
}

func newSubscriber(id, profileID string, size int) *Subscriber {
	return &Subscriber{
		ID:        id,
		ProfileID: profileID,
		send:      make(chan model.Event, size),
		present:   make(map[string]bool),
	}
}

func (s *Subscriber) Events() <-chan model.Event { return s.send }

// Dropped counts events discarded because the queue was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// enqueue never blocks. It returns false when policy is Disconnect and
// the queue is full.
func (s *Subscriber) enqueue(ev model.Event, policy OverflowPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.send <- ev:
		return true
	default:
	}

	s.dropped.Add(1)
	metrics.EventsDropped.WithLabelValues(policy.String()).Inc()
	if policy == Disconnect {
		return false
	}

	// Only enqueue sends, so popping one guarantees room for ev.
	select {
	case <-s.send:
	default:
	}
	s.send <- ev
	return true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
