// Package api provides HTTP handlers for the teamline service.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nordby/teamline/config"
	"github.com/nordby/teamline/domain"
	"github.com/nordby/teamline/hub"
	"github.com/nordby/teamline/source"
	"github.com/nordby/teamline/store"
	"github.com/nordby/teamline/stream"
)

// Runner opens live event streams for new runs.
type Runner interface {
	Open(ctx context.Context, req *domain.RunRequest) (source.EventSource, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req *domain.RunRequest) (source.EventSource, error)

func (f RunnerFunc) Open(ctx context.Context, req *domain.RunRequest) (source.EventSource, error) {
	return f(ctx, req)
}

// Handler handles HTTP requests.
type Handler struct {
	store     store.Store
	runner    Runner
	processor *stream.Processor
	hub       *hub.Hub
	config    *config.Config
	upgrader  websocket.Upgrader

	// active tracks the one cancellable run per session.
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, runner Runner, processor *stream.Processor, h *hub.Hub, cfg *config.Config) *Handler {
	return &Handler{
		store:     st,
		runner:    runner,
		processor: processor,
		hub:       h,
		config:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		active: make(map[string]context.CancelFunc),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions/:session_id/runs", h.StartRun)
	e.POST("/v1/sessions/:session_id/cancel", h.CancelRun)
	e.GET("/v1/sessions/:session_id/transcript", h.GetSessionTranscript)
	e.GET("/v1/sessions/:session_id/ws", h.AttachSession)
	e.GET("/v1/sessions", h.ListSessions)

	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// registerActive records the cancel function for a session's active run.
// It returns false if a run is already active in the session.
func (h *Handler) registerActive(sessionID string, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[sessionID]; ok {
		return false
	}
	h.active[sessionID] = cancel
	return true
}

func (h *Handler) unregisterActive(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, sessionID)
}

// takeActive removes and returns the cancel function for a session's
// active run, if any.
func (h *Handler) takeActive(sessionID string) context.CancelFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	cancel := h.active[sessionID]
	delete(h.active, sessionID)
	return cancel
}
