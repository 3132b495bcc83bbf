// ABOUTME: Gateway orchestrator wiring the HTTP server, hub and job manager
// ABOUTME: Owns route registration, startup and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/daybreak-ai/daybreak/internal/auth"
	"github.com/daybreak-ai/daybreak/internal/chat"
	"github.com/daybreak-ai/daybreak/internal/config"
	"github.com/daybreak-ai/daybreak/internal/provider"
	"github.com/daybreak-ai/daybreak/internal/store"
)

// titleGenerator is the slice of the provider client used for session
// titles. Tests substitute a fake.
type titleGenerator interface {
	GenerateTitle(ctx context.Context, cfg provider.Config, firstMessage string) (string, error)
}

// Gateway serves the chat API: session management over REST and streaming
// chat over websockets.
type Gateway struct {
	config     *config.Config
	store      store.Store
	hub        *chat.Hub
	manager    *chat.Manager
	titles     titleGenerator
	verifier   auth.TokenVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// New wires a Gateway from its collaborators.
func New(cfg *config.Config, st store.Store, hub *chat.Hub, manager *chat.Manager, titles titleGenerator, verifier auth.TokenVerifier) *Gateway {
	g := &Gateway{
		config:   cfg,
		store:    st,
		hub:      hub,
		manager:  manager,
		titles:   titles,
		verifier: verifier,
		logger:   slog.Default().With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// routes builds the HTTP handler tree. API routes require a bearer token;
// the websocket authenticates per message; health is open.
func (g *Gateway) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/sessions", g.handleCreateSession)
	api.HandleFunc("GET /api/sessions", g.handleListSessions)
	api.HandleFunc("DELETE /api/sessions/{id}", g.handleDeleteSession)
	api.HandleFunc("PUT /api/sessions/{id}/title", g.handleRenameSession)
	api.HandleFunc("POST /api/sessions/{id}/generate-title", g.handleGenerateTitle)
	api.HandleFunc("GET /api/sessions/{id}/messages", g.handleListMessages)
	api.HandleFunc("GET /api/sessions/{id}/status", g.handleSessionStatus)
	api.HandleFunc("POST /api/sessions/{id}/stop", g.handleStopSession)

	mux := http.NewServeMux()
	mux.Handle("/api/", auth.Middleware(g.verifier)(api))
	mux.HandleFunc("GET /chat/ws/{session_id}", g.handleChatWS)
	mux.HandleFunc("GET /health", g.handleHealth)
	return mux
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (g *Gateway) Start() error {
	g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
	if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	return g.httpServer.Shutdown(ctx)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
