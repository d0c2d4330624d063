package model

import (
	"fmt"
	"strings"
)

type RoomKind string

const (
	RoomChannel      RoomKind = "channel"
	RoomConversation RoomKind = "conversation"
)

// Room is the destination of a message: exactly one of a server channel or
// a direct conversation between two members.
type Room struct {
	Kind RoomKind `json:"kind"`
	ID   string   `json:"id"`
}

func ChannelRoom(id string) Room      { return Room{Kind: RoomChannel, ID: id} }
func ConversationRoom(id string) Room { return Room{Kind: RoomConversation, ID: id} }

// Key is the stable partition key for the room, e.g. "channel:<id>".
func (r Room) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r Room) String() string { return r.Key() }

func (r Room) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r Room) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("room id missing: %w", ErrValidation)
	}
	switch r.Kind {
	case RoomChannel, RoomConversation:
		return nil
	default:
		return fmt.Errorf("unknown room kind %q: %w", r.Kind, ErrValidation)
	}
}

// ParseRoom parses the output of Room.Key.
func ParseRoom(key string) (Room, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Room{}, fmt.Errorf("malformed room key %q: %w", key, ErrValidation)
	}
	r := Room{Kind: RoomKind(kind), ID: id}
	if err := r.Validate(); err != nil {
		return Room{}, err
	}
	return r, nil
}
