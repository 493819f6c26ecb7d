// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package api exposes the portability operations over HTTP. Triggers
// return immediately with an operation ID; progress is polled.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/config"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/metrics"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/operations"
)

// Server wires the router over the operations manager.
type Server struct {
	manager  *operations.Manager
	cfg      config.ServerConfig
	restore  config.RestoreConfig
	validate *validator.Validate
	router   chi.Router
}

// NewServer builds the router with the standard middleware chain. The
// restore config supplies defaults for request fields the caller omits.
func NewServer(manager *operations.Manager, cfg config.ServerConfig, restore config.RestoreConfig) *Server {
	s := &Server{
		manager:  manager,
		cfg:      cfg,
		restore:  restore,
		validate: validator.New(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}
	r.Use(countRequests)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/portability", func(r chi.Router) {
		r.Post("/backup", s.handleStartBackup)
		r.Post("/restore", s.handleStartRestore)
		r.Post("/purge", s.handleStartPurge)
		r.Get("/progress/{kind}", s.handleProgress)
		r.Get("/entities", s.handleListEntities)
		r.Get("/backups", s.handleListBackups)
		r.Get("/reports/{kind}", s.handleLastReport)
	})

	return r
}

// countRequests feeds the per-route request counter.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status()/100) + "xx"
		metrics.HTTPRequests.WithLabelValues(route, status).Inc()
	})
}
