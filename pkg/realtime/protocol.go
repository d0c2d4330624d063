package realtime

import "github.com/mahaj/guildchat/pkg/model"

// Client actions.
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
)

// Server frame types.
const (
	FrameEvent  = "event"
	FrameJoined = "joined"
	FrameLeft   = "left"
	FrameError  = "error"
)

// Command is what a client sends over the socket.
type Command struct {
	Action string     `json:"action"`
	Room   model.Room `json:"room"`
}

// Frame is what the server sends. Event frames carry the event key and the
// message; the others acknowledge or reject a Command.
type Frame struct {
	Type     string         `json:"type"`
	EventKey string         `json:"eventKey,omitempty"`
	Message  *model.Message `json:"message,omitempty"`
	Room     *model.Room    `json:"room,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func EventFrame(ev model.Event) Frame {
	msg := ev.Message
	return Frame{Type: FrameEvent, EventKey: ev.Key(), Message: &msg}
}

// Event recovers the event from a frame of type FrameEvent.
func (f Frame) Event() (model.Event, bool) {
	if f.Type != FrameEvent || f.Message == nil {
		return model.Event{}, false
	}
	kind, ok := model.KindFromKey(f.Message.Room, f.EventKey)
	if !ok {
		return model.Event{}, false
	}
	return model.Event{Kind: kind, Message: *f.Message}, true
}
