package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/ingress"
	"github.com/mahaj/guildchat/pkg/model"
)

type messageBody struct {
	Content string `json:"content"`
	FileURL string `json:"fileUrl"`
}

func (a *app) createChannelMessage(w http.ResponseWriter, r *http.Request) {
	a.createMessage(w, r, model.ChannelRoom(r.URL.Query().Get("channelId")))
}

func (a *app) createDirectMessage(w http.ResponseWriter, r *http.Request) {
	a.createMessage(w, r, model.ConversationRoom(r.URL.Query().Get("conversationId")))
}

func (a *app) createMessage(w http.ResponseWriter, r *http.Request, room model.Room) {
	var body messageBody
	if err := decode(r, &body); err != nil {
		httpx.Fail(w, err)
		return
	}
	msg, err := a.ingress.Create(r.Context(), profileOf(r).ID, ingress.CreateRequest{
		Room:    room,
		Content: body.Content,
		FileURL: body.FileURL,
	})
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

func (a *app) editMessage(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseMessageID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	var body messageBody
	if err := decode(r, &body); err != nil {
		httpx.Fail(w, err)
		return
	}
	msg, err := a.ingress.Edit(r.Context(), profileOf(r).ID, id, body.Content)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, msg)
}

func (a *app) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseMessageID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	msg, err := a.ingress.Delete(r.Context(), profileOf(r).ID, id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, msg)
}
