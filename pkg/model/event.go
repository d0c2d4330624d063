package model

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event is a change to a room's message log, pushed to live subscribers.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message Message   `json:"message"`
}

func Created(m Message) Event { return Event{Kind: EventCreated, Message: m} }
func Updated(m Message) Event { return Event{Kind: EventUpdated, Message: m} }

func (e Event) Room() Room { return e.Message.Room }

// Key is the event key clients listen on.
func (e Event) Key() string {
	if e.Kind == EventUpdated {
		return UpdateKey(e.Message.Room)
	}
	return AddKey(e.Message.Room)
}

func AddKey(r Room) string    { return "chat:" + r.ID + ":messages" }
func UpdateKey(r Room) string { return AddKey(r) + ":update" }

// KindFromKey recovers the event kind from a pushed event key.
func KindFromKey(r Room, key string) (EventKind, bool) {
	switch key {
	case AddKey(r):
		return EventCreated, true
	case UpdateKey(r):
		return EventUpdated, true
	}
	return "", false
}
