package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

type loginResponse struct {
	Token   string        `json:"token"`
	Profile model.Profile `json:"profile"`
}

// apiClient covers the write side of the API; reads go through syncview.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func login(ctx context.Context, base, profileID, name string) (*apiClient, error) {
	c := &apiClient{base: base, http: http.DefaultClient}
	var resp loginResponse
	if err := c.call(ctx, http.MethodPost, "/login", map[string]string{"profileId": profileID, "name": name}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return c, nil
}

func (c *apiClient) send(ctx context.Context, room model.Room, content string) (*model.Message, error) {
	path := "/messages?channelId=" + url.QueryEscape(room.ID)
	if room.Kind == model.RoomConversation {
		path = "/direct-messages?conversationId=" + url.QueryEscape(room.ID)
	}
	var msg model.Message
	if err := c.call(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, err, model.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = string(data)
		}
		return httpx.ErrorForStatus(resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
