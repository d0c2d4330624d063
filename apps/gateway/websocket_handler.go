package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mahaj/guildchat/pkg/auth"
	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/realtime"
)

func newRouter(hub *realtime.Hub, issuer *auth.Issuer, access realtime.Authorizer, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httpx.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(httpx.Logger(log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/ws", realtime.NewHandler(hub, issuer, access, log))
	return r
}
