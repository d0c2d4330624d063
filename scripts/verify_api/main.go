// Command verify_api exercises a running API: it creates a server, posts
// messages to its general channel and walks the history back page by page.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
	"github.com/mahaj/guildchat/pkg/syncview"
)

func main() {
	var (
		api   string
		count int
	)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cmd := &cli.Command{
		Name:  "verify_api",
		Usage: "Smoke test message history against a running API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8081", Sources: cli.EnvVars("CHAT_API"), Destination: &api},
			&cli.IntFlag{Name: "count", Value: 25, Usage: "messages to post", Destination: &count},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return verify(ctx, log, api, count)
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("verification failed")
	}
}

func verify(ctx context.Context, log zerolog.Logger, api string, count int) error {
	profile := "verify-" + uuid.NewString()[:8]

	var session struct {
		Token string `json:"token"`
	}
	if err := call(ctx, api, "", http.MethodPost, "/login", map[string]string{"profileId": profile}, &session); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.Info().Str("profile", profile).Msg("logged in")

	var srv model.Server
	if err := call(ctx, api, session.Token, http.MethodPost, "/servers", map[string]string{"name": "verify"}, &srv); err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	var channels []model.Channel
	if err := call(ctx, api, session.Token, http.MethodGet, "/servers/"+srv.ID+"/channels", nil, &channels); err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(channels) == 0 {
		return fmt.Errorf("server %s has no channels", srv.ID)
	}
	room := channels[0].Room()

	for i := 0; i < count; i++ {
		body := map[string]string{"content": fmt.Sprintf("message %d", i)}
		if err := call(ctx, api, session.Token, http.MethodPost, "/messages?channelId="+room.ID, body, nil); err != nil {
			return fmt.Errorf("post message %d: %w", i, err)
		}
	}
	log.Info().Int("count", count).Str("room", room.Key()).Msg("messages posted")

	fetcher := &syncview.HTTPFetcher{BaseURL: api, Token: session.Token}
	var (
		cursor string
		pages  int
		seen   = make(map[model.MessageID]bool)
		last   model.MessageID
	)
	for {
		page, err := fetcher.Fetch(ctx, room, cursor)
		if err != nil {
			return fmt.Errorf("page %d: %w", pages, err)
		}
		pages++
		for _, m := range page.Items {
			if seen[m.ID] {
				return fmt.Errorf("message %s returned twice", m.ID)
			}
			if last != 0 && m.ID >= last {
				return fmt.Errorf("message %s out of order after %s", m.ID, last)
			}
			seen[m.ID] = true
			last = m.ID
		}
		log.Info().Int("page", pages).Int("items", len(page.Items)).Msg("page fetched")
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	if len(seen) != count {
		return fmt.Errorf("walked %d messages, posted %d", len(seen), count)
	}
	log.Info().Int("pages", pages).Msg("history verified")
	return nil
}

func call(ctx context.Context, base, token, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return httpx.ErrorForStatus(resp.StatusCode, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
