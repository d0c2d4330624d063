package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

type conversationRequest struct {
	ServerID string `json:"serverId"`
	MemberID string `json:"memberId"`
}

// getOrCreateConversation opens a direct conversation between the caller's
// membership in serverId and memberId.
func (a *app) getOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decode(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	me, err := a.memberIn(r.Context(), req.ServerID, profileOf(r).ID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	conv, err := a.directory.GetOrCreateConversation(r.Context(), me.ID, req.MemberID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, conv)
}

// listInbox returns the direct message list of ?memberId, most recent first.
func (a *app) listInbox(w http.ResponseWriter, r *http.Request) {
	memberID := r.URL.Query().Get("memberId")
	if err := a.ownMember(r.Context(), memberID, profileOf(r).ID); err != nil {
		httpx.Fail(w, err)
		return
	}
	entries, err := a.inbox.List(r.Context(), memberID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	if entries == nil {
		entries = []model.InboxEntry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

// ownMember checks that memberID is one of profileID's memberships.
func (a *app) ownMember(ctx context.Context, memberID, profileID string) error {
	if memberID == "" {
		return fmt.Errorf("memberId required: %w", model.ErrValidation)
	}
	m, err := a.directory.Member(ctx, memberID)
	if err != nil {
		return err
	}
	if m.ProfileID != profileID {
		return fmt.Errorf("member %s belongs to another profile: %w", memberID, model.ErrForbidden)
	}
	return nil
}
