package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/ingress"
	"github.com/mahaj/guildchat/pkg/pagination"
	"github.com/mahaj/guildchat/pkg/presence"
	"github.com/mahaj/guildchat/pkg/store"
)

// app holds the dependencies shared by the handlers.
type app struct {
	log       zerolog.Logger
	issuer    *auth.Issuer
	directory *store.Directory
	pages     *pagination.Service
	ingress   *ingress.Gateway
	inbox     store.Inbox
	presence  presence.Tracker

	// ws is set when this process serves websockets itself.
	ws http.Handler
}

func newRouter(a *app) *chi.Mux {
	r := chi.NewRouter()

	r.Use(httpx.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(httpx.Logger(a.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/login", a.login)
	if a.ws != nil {
		r.Handle("/ws", a.ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Require(a.issuer))

		r.Get("/messages", a.channelHistory)
		r.Post("/messages", a.createChannelMessage)
		r.Patch("/messages/{id}", a.editMessage)
		r.Delete("/messages/{id}", a.deleteMessage)
		r.Get("/direct-messages", a.conversationHistory)
		r.Post("/direct-messages", a.createDirectMessage)

		r.Post("/servers", a.createServer)
		r.Get("/servers/{id}", a.getServer)
		r.Post("/servers/{id}/leave", a.leaveServer)
		r.Get("/servers/{id}/channels", a.listChannels)
		r.Post("/servers/{id}/channels", a.createChannel)
		r.Get("/servers/{id}/members", a.listMembers)
		r.Patch("/servers/{id}/members/{memberId}", a.updateRole)
		r.Post("/invite/{code}", a.joinByInvite)

		r.Post("/conversations", a.getOrCreateConversation)
		r.Get("/conversations", a.listInbox)
		r.Post("/conversations/read", a.markRead)

		r.Get("/rooms/{room}/users", a.roomUsers)
	})

	return r
}
