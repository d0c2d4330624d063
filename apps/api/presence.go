package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

// roomUsers lists the profiles with a live socket in the room.
func (a *app) roomUsers(w http.ResponseWriter, r *http.Request) {
	room, err := model.ParseRoom(chi.URLParam(r, "room"))
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	if err := a.directory.CanJoin(r.Context(), profileOf(r).ID, room); err != nil {
		httpx.Fail(w, err)
		return
	}

	users, err := a.presence.Members(r.Context(), room)
	if err != nil {
		a.log.Error().Err(err).Str("room", room.Key()).Msg("failed to fetch presence")
		httpx.Error(w, http.StatusInternalServerError, "failed to fetch presence")
		return
	}
	if users == nil {
		users = []string{}
	}
	httpx.JSON(w, http.StatusOK, users)
}
