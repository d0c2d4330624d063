package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

type createServerRequest struct {
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

type createChannelRequest struct {
	Name string            `json:"name"`
	Type model.ChannelType `json:"type"`
}

type updateRoleRequest struct {
	Role model.MemberRole `json:"role"`
}

type joinResponse struct {
	Server *model.Server `json:"server"`
	Member *model.Member `json:"member"`
}

func (a *app) createServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := decode(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	srv, err := a.directory.CreateServer(r.Context(), profileOf(r).ID, req.Name, req.ImageURL)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, srv)
}

func (a *app) getServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if err := a.requireMember(r.Context(), serverID, profileOf(r).ID); err != nil {
		httpx.Fail(w, err)
		return
	}
	srv, err := a.directory.Server(r.Context(), serverID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, srv)
}

func (a *app) leaveServer(w http.ResponseWriter, r *http.Request) {
	if err := a.directory.LeaveServer(r.Context(), profileOf(r).ID, chi.URLParam(r, "id")); err != nil {
		httpx.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) listChannels(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if err := a.requireMember(r.Context(), serverID, profileOf(r).ID); err != nil {
		httpx.Fail(w, err)
		return
	}
	channels, err := a.directory.Channels(r.Context(), serverID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, channels)
}

func (a *app) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decode(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	if req.Type == "" {
		req.Type = model.ChannelText
	}
	ch, err := a.directory.CreateChannel(r.Context(), profileOf(r).ID, chi.URLParam(r, "id"), req.Name, req.Type)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ch)
}

func (a *app) listMembers(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if err := a.requireMember(r.Context(), serverID, profileOf(r).ID); err != nil {
		httpx.Fail(w, err)
		return
	}
	members, err := a.directory.Members(r.Context(), serverID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (a *app) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decode(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	m, err := a.directory.UpdateRole(r.Context(), profileOf(r).ID, chi.URLParam(r, "id"), chi.URLParam(r, "memberId"), req.Role)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (a *app) joinByInvite(w http.ResponseWriter, r *http.Request) {
	srv, m, err := a.directory.JoinByInvite(r.Context(), profileOf(r).ID, chi.URLParam(r, "code"))
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, joinResponse{Server: srv, Member: m})
}

// requireMember hides servers the caller does not belong to.
func (a *app) requireMember(ctx context.Context, serverID, profileID string) error {
	_, err := a.memberIn(ctx, serverID, profileID)
	return err
}

func (a *app) memberIn(ctx context.Context, serverID, profileID string) (*model.Member, error) {
	m, err := a.directory.MemberByProfile(ctx, serverID, profileID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("not a member of server %s: %w", serverID, model.ErrForbidden)
	}
	return m, err
}
