package syncview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
	"github.com/mahaj/guildchat/pkg/realtime"
)

// HTTPFetcher reads history pages from the API.
type HTTPFetcher struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, room model.Room, cursor string) (model.Page, error) {
	path, param := "/messages", "channelId"
	if room.Kind == model.RoomConversation {
		path, param = "/direct-messages", "conversationId"
	}
	q := url.Values{param: {room.ID}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(f.BaseURL, "/")+path+"?"+q.Encode(), nil)
	if err != nil {
		return model.Page{}, err
	}
	req.Header.Set("Authorization", "Bearer "+f.Token)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.Page{}, fmt.Errorf("fetch page: %w: %w", err, model.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return model.Page{}, httpx.ErrorForStatus(resp.StatusCode, "fetch page: "+body.Error)
	}

	var page model.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return model.Page{}, fmt.Errorf("decode page: %w: %w", err, model.ErrTransient)
	}
	if page.Items == nil {
		page.Items = []model.Message{}
	}
	return page, nil
}

// WSSource subscribes to a room over the gateway websocket.
type WSSource struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func (s *WSSource) Stream(ctx context.Context, room model.Room, ready func(), deliver func(model.Event)) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	q := url.Values{"token": {s.Token}, "room": {room.Key()}}
	conn, resp, err := dialer.DialContext(ctx, s.URL+"?"+q.Encode(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return httpx.ErrorForStatus(resp.StatusCode, "websocket dial")
		}
		return fmt.Errorf("websocket dial: %w: %w", err, model.ErrTransient)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var f realtime.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		switch f.Type {
		case realtime.FrameJoined:
			if f.Room != nil && *f.Room == room {
				ready()
			}
		case realtime.FrameEvent:
			if ev, ok := f.Event(); ok {
				deliver(ev)
			}
		case realtime.FrameError:
			if f.Room != nil && *f.Room == room {
				return fmt.Errorf("join %s refused: %s: %w", room, f.Error, model.ErrUnauthorized)
			}
		}
	}
}
