package main

import (
	"fmt"
	"net/http"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

type ReadRequest struct {
	MemberID       string `json:"memberId"`
	ConversationID string `json:"conversationId"`
}

// markRead resets the caller's unread count for a conversation.
func (a *app) markRead(w http.ResponseWriter, r *http.Request) {
	var req ReadRequest
	if err := decode(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	if err := a.ownMember(r.Context(), req.MemberID, profileOf(r).ID); err != nil {
		httpx.Fail(w, err)
		return
	}
	conv, err := a.directory.Conversation(r.Context(), req.ConversationID)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	if !conv.Has(req.MemberID) {
		httpx.Fail(w, fmt.Errorf("not a participant: %w", model.ErrForbidden))
		return
	}
	if err := a.inbox.MarkRead(r.Context(), req.MemberID, conv.ID); err != nil {
		httpx.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
