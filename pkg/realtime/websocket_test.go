package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/model"
)

type roomACL map[string]bool

func (a roomACL) CanJoin(_ context.Context, _ string, room model.Room) error {
	if a[room.Key()] {
		return nil
	}
	return model.ErrUnauthorized
}

type wsFixture struct {
	hub    *Hub
	server *httptest.Server
	token  string
}

func newWSFixture(t *testing.T) wsFixture {
	t.Helper()
	issuer := auth.NewIssuer("test-secret", time.Hour)
	token, err := issuer.GenerateToken(model.Profile{ID: "p1", Name: "Ada"})
	require.NoError(t, err)

	hub := NewHub(zerolog.Nop())
	acl := roomACL{"channel:c1": true, "channel:c2": true}
	srv := httptest.NewServer(NewHandler(hub, issuer, acl, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return wsFixture{hub: hub, server: srv, token: token}
}

func (f wsFixture) dial(t *testing.T, q url.Values) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?" + q.Encode()
	return websocket.DefaultDialer.Dial(u, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := f.dial(t, url.Values{})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RejectsForbiddenInitialRoom(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := f.dial(t, url.Values{"token": {f.token}, "room": {"channel:secret"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_InitialRoomReceivesEvents(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, url.Values{"token": {f.token}, "room": {"channel:c1"}})
	require.NoError(t, err)
	defer conn.Close()

	joined := readFrame(t, conn)
	assert.Equal(t, FrameJoined, joined.Type)
	require.NotNil(t, joined.Room)
	assert.Equal(t, model.ChannelRoom("c1"), *joined.Room)

	room := model.ChannelRoom("c1")
	msg := model.Message{ID: 42, Room: room, MemberID: "m1", Content: "hi"}
	require.NoError(t, f.hub.Publish(context.Background(), model.Created(msg)))
	require.NoError(t, f.hub.Publish(context.Background(), model.Updated(msg)))

	first := readFrame(t, conn)
	assert.Equal(t, FrameEvent, first.Type)
	assert.Equal(t, "chat:c1:messages", first.EventKey)
	ev, ok := first.Event()
	require.True(t, ok)
	assert.Equal(t, model.MessageID(42), ev.Message.ID)

	second := readFrame(t, conn)
	assert.Equal(t, "chat:c1:messages:update", second.EventKey)
	ev, ok = second.Event()
	require.True(t, ok)
	assert.Equal(t, model.EventUpdated, ev.Kind)
}

func TestHandler_JoinAndLeaveCommands(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, url.Values{"token": {f.token}})
	require.NoError(t, err)
	defer conn.Close()

	room := model.ChannelRoom("c2")
	require.NoError(t, conn.WriteJSON(Command{Action: ActionJoin, Room: room}))
	assert.Equal(t, FrameJoined, readFrame(t, conn).Type)
	assert.Equal(t, 1, f.hub.Subscribers(room))

	require.NoError(t, conn.WriteJSON(Command{Action: ActionJoin, Room: model.ChannelRoom("secret")}))
	refused := readFrame(t, conn)
	assert.Equal(t, FrameError, refused.Type)
	assert.Contains(t, refused.Error, "unauthorized")

	require.NoError(t, conn.WriteJSON(Command{Action: ActionLeave, Room: room}))
	assert.Equal(t, FrameLeft, readFrame(t, conn).Type)
	assert.Zero(t, f.hub.Subscribers(room))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, FrameError, readFrame(t, conn).Type)
}

func TestHandler_CloseRevokesSubscriptions(t *testing.T) {
	f := newWSFixture(t)
	conn, _, err := f.dial(t, url.Values{"token": {f.token}, "room": {"channel:c1", "channel:c2"}})
	require.NoError(t, err)
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.hub.Subscribers(model.ChannelRoom("c1")) == 0 &&
			f.hub.Subscribers(model.ChannelRoom("c2")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFrame_EventRejectsUnknownKey(t *testing.T) {
	msg := model.Message{ID: 1, Room: model.ChannelRoom("c1")}
	_, ok := Frame{Type: FrameEvent, EventKey: "chat:other:messages", Message: &msg}.Event()
	assert.False(t, ok)
	_, ok = Frame{Type: FrameJoined}.Event()
	assert.False(t, ok)
}
