// Package api exposes the watcher's read-mostly HTTP surface: captured
// request queries, basket resolution, settings, stats, and the live
// update feed.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/x402_agent/internal/pipeline"
	"github.com/dgnsrekt/x402_agent/internal/relay"
	"github.com/dgnsrekt/x402_agent/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TabCounter reports how many browser tabs the watcher is attached to.
// Implemented by the CDP client.
type TabCounter interface {
	TabCount() int
}

// Deps are the collaborators the API surface reads from. The API never
// writes to the store directly; deletions go through it but every
// capture-path mutation belongs to the reconciler.
type Deps struct {
	Store      *store.Store
	Reconciler *pipeline.Reconciler
	Broker     *relay.Broker
	Tabs       TabCounter
}

func NewServer(deps Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("x402 Watcher API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	router.Get("/api/v1/events/ws", serveEvents(deps.Broker))

	registerRequestHandlers(api, deps)
	registerSettingsHandlers(api, deps)
	registerStatsHandlers(api, deps)

	return router
}
