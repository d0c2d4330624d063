package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	authorizeTimeout = 5 * time.Second
)

// Authorizer decides whether a profile may watch a room.
type Authorizer interface {
	CanJoin(ctx context.Context, profileID string, room model.Room) error
}

// Handler upgrades authenticated requests to websockets and bridges them
// to a Hub. Rooms named by repeated ?room=<kind>:<id> parameters are
// joined before the first frame is sent.
type Handler struct {
	hub      *Hub
	identity auth.Resolver
	access   Authorizer
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, identity auth.Resolver, access Authorizer, log zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		identity: identity,
		access:   access,
		log:      log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	profile, err := h.identity.Resolve(r)
	if err != nil {
		h.log.Debug().Err(err).Msg("rejecting unauthenticated socket")
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var initial []model.Room
	for _, key := range r.URL.Query()["room"] {
		room, err := model.ParseRoom(key)
		if err != nil {
			httpx.Fail(w, err)
			return
		}
		if err := h.authorize(r.Context(), profile.ID, room); err != nil {
			httpx.Fail(w, err)
			return
		}
		initial = append(initial, room)
	}

	sub, err := h.hub.Connect(profile.ID)
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Disconnect(sub)
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	c := &client{
		handler: h,
		conn:    conn,
		sub:     sub,
		profile: profile,
		control: make(chan Frame, 16),
		done:    make(chan struct{}),
		log:     h.log.With().Str("conn", sub.ID).Str("profile", profile.ID).Logger(),
	}
	go c.writePump()
	for _, room := range initial {
		c.join(room)
	}
	c.readPump()
}

func (h *Handler) authorize(ctx context.Context, profileID string, room model.Room) error {
	ctx, cancel := context.WithTimeout(ctx, authorizeTimeout)
	defer cancel()
	return h.access.CanJoin(ctx, profileID, room)
}

// client is a middleman between the websocket connection and the hub.
type client struct {
	handler *Handler
	conn    *websocket.Conn
	sub     *Subscriber
	profile model.Profile
	log     zerolog.Logger

	// Acks and errors for commands; events come from sub.
	control chan Frame
	// Closed when writePump exits.
	done chan struct{}
}

// readPump handles join and leave commands until the peer goes away.
func (c *client) readPump() {
	defer func() {
		c.handler.hub.Disconnect(c.sub)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("socket closed unexpectedly")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(Frame{Type: FrameError, Error: "malformed command"})
			continue
		}
		if err := cmd.Room.Validate(); err != nil {
			c.reply(Frame{Type: FrameError, Error: err.Error()})
			continue
		}
		switch cmd.Action {
		case ActionJoin:
			if err := c.handler.authorize(context.Background(), c.profile.ID, cmd.Room); err != nil {
				c.log.Debug().Err(err).Str("room", cmd.Room.Key()).Msg("join refused")
				room := cmd.Room
				c.reply(Frame{Type: FrameError, Room: &room, Error: httpx.Message(err)})
				continue
			}
			c.join(cmd.Room)
		case ActionLeave:
			c.handler.hub.Unsubscribe(c.sub, cmd.Room)
			room := cmd.Room
			c.reply(Frame{Type: FrameLeft, Room: &room})
		default:
			c.reply(Frame{Type: FrameError, Error: "unknown action"})
		}
	}
}

func (c *client) join(room model.Room) {
	if err := c.handler.hub.Subscribe(c.sub, room); err != nil {
		c.reply(Frame{Type: FrameError, Room: &room, Error: err.Error()})
		return
	}
	c.reply(Frame{Type: FrameJoined, Room: &room})
}

func (c *client) reply(f Frame) {
	select {
	case c.control <- f:
	case <-c.done:
	}
}

// writePump pumps events and replies to the websocket connection, one
// frame per event.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()
	events := c.sub.Events()
	for {
		select {
		case ev, ok := <-events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped this subscriber.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(EventFrame(ev)); err != nil {
				c.log.Debug().Err(err).Msg("event write failed")
				return
			}
		case f := <-c.control:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
