package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

type LoginRequest struct {
	ProfileID string `json:"profileId"`
	Name      string `json:"name"`
}

type LoginResponse struct {
	Token   string        `json:"token"`
	Profile model.Profile `json:"profile"`
}

// login issues a session token. Identity is asserted by the caller; an
// upstream identity provider is expected in front of this in production.
func (a *app) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	profile := model.Profile{ID: req.ProfileID, Name: req.Name}
	token, err := a.issuer.GenerateToken(profile)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, LoginResponse{Token: token, Profile: profile})
}

func (a *app) channelHistory(w http.ResponseWriter, r *http.Request) {
	a.history(w, r, model.ChannelRoom(r.URL.Query().Get("channelId")))
}

func (a *app) conversationHistory(w http.ResponseWriter, r *http.Request) {
	a.history(w, r, model.ConversationRoom(r.URL.Query().Get("conversationId")))
}

// history serves one page of room, newest first, starting after ?cursor.
func (a *app) history(w http.ResponseWriter, r *http.Request, room model.Room) {
	if err := room.Validate(); err != nil {
		httpx.Fail(w, err)
		return
	}
	profile := profileOf(r)
	if err := a.directory.CanJoin(r.Context(), profile.ID, room); err != nil {
		httpx.Fail(w, err)
		return
	}
	page, err := a.pages.Fetch(r.Context(), room, r.URL.Query().Get("cursor"))
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func profileOf(r *http.Request) model.Profile {
	p, _ := auth.ProfileFrom(r.Context())
	return p
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", model.ErrValidation)
	}
	return nil
}
