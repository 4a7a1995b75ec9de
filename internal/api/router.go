// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package api serves the administrative HTTP API: run history and manual
// runs, feedback submission, block administration, the taste profile,
// strategy statistics, runtime boost tags, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/xpfeed/internal/config"
)

// NewRouter builds the chi router for h.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	mw := DefaultMiddlewareConfig()
	if len(cfg.CORSOrigins) > 0 {
		mw.CORSAllowedOrigins = cfg.CORSOrigins
	}
	if cfg.RateLimitReqs > 0 {
		mw.RateLimitRequests = cfg.RateLimitReqs
	}
	if cfg.RateLimitWindow > 0 {
		mw.RateLimitWindow = cfg.RateLimitWindow
	}
	return newRouter(h, mw)
}

func newRouter(h *Handler, mw *MiddlewareConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(PrometheusMetrics)
		r.Use(chimiddleware.Compress(5, "application/json"))

		r.Get("/health", h.Health)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.TriggerRun)
		})

		r.Post("/feedback", h.SubmitFeedback)

		r.Route("/blocks", func(r chi.Router) {
			r.Get("/", h.ListBlocks)
			r.Post("/confirm", h.ConfirmBlock)
			r.Post("/dismiss", h.DismissBlock)
		})

		r.Get("/profile", h.Profile)
		r.Get("/strategies", h.Strategies)
		r.Get("/stats", h.Stats)

		r.Route("/boost-tags", func(r chi.Router) {
			r.Get("/", h.ListBoosts)
			r.Put("/", h.PutBoost)
			r.Delete("/{tag}", h.DeleteBoost)
		})
	})

	return r
}

// NewServer wraps the router in an http.Server with the configured timeouts.
func NewServer(h *Handler, cfg config.ServerConfig, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * time.Minute,
	}
}
