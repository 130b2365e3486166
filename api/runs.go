package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nordby/teamline/domain"
	"github.com/nordby/teamline/sink"
)

// StartRun starts a run in a session and streams its transcript as SSE.
// POST /v1/sessions/:session_id/runs
func (h *Handler) StartRun(c echo.Context) error {
	sessionID := c.Param("session_id")

	var req struct {
		Input  string `json:"input"`
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Input == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "input is required"})
	}
	userID := req.UserID
	if userID == "" {
		userID = "default_user"
	}

	reqCtx := c.Request().Context()
	session, err := h.store.GetOrCreateSession(reqCtx, sessionID, userID)
	if err != nil {
		log.Printf("ERROR: failed to get/create session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}

	// The run must outlive the HTTP request: if the client navigates
	// away mid-run, the sink detaches but the event log is still drained
	// to completion. Only the cancel endpoint cancels this context.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !h.registerActive(session.SessionID, cancel) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "a run is already active in this session"})
	}
	defer h.unregisterActive(session.SessionID)

	src, err := h.runner.Open(runCtx, &domain.RunRequest{
		SessionID: session.SessionID,
		UserID:    userID,
		Input:     req.Input,
	})
	if err != nil {
		log.Printf("ERROR: failed to open event source: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to reach agent runner"})
	}
	defer src.Close()

	ssink, err := sink.NewSSESink(c.Response(), reqCtx.Done())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
	}
	out := sink.NewMirror(ssink, func(v interface{}) {
		if err := h.hub.BroadcastJSON(session.SessionID, v); err != nil {
			log.Printf("WARN: failed to broadcast frame: %v", err)
		}
	})

	status, err := h.processor.Process(runCtx, src, out, session.SessionID)
	if err != nil {
		log.Printf("ERROR: run in session %s ended with error: %v", session.SessionID, err)
	}
	log.Printf("INFO: run in session %s finished: %s", session.SessionID, status)
	return nil
}

// CancelRun cancels the session's active run.
// POST /v1/sessions/:session_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	sessionID := c.Param("session_id")
	cancel := h.takeActive(sessionID)
	if cancel == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active run in session"})
	}
	cancel()
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

// GetRunEvents returns the raw event log for a run.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	afterTs, _ := strconv.ParseInt(c.QueryParam("after_ts"), 10, 64)
	kindsStr := c.QueryParam("kinds")
	var kinds []string
	if kindsStr != "" {
		kinds = strings.Split(kindsStr, ",")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	events, err := h.store.GetEvents(ctx, runID, afterTs, kinds, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get events: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get events"})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":      run,
		"events":   events,
		"has_more": hasMore,
	})
}
