package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nordby/teamline/domain"
	"github.com/nordby/teamline/replay"
)

// GetSessionTranscript returns the reconstructed transcript for a session.
// GET /v1/sessions/:session_id/transcript
func (h *Handler) GetSessionTranscript(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	entries, err := replay.Reconstruct(ctx, h.store, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to reconstruct transcript: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to reconstruct transcript"})
	}
	if entries == nil {
		entries = []domain.TranscriptEntry{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"entries":    entries,
	})
}

// ListSessions lists sessions, most recently updated first.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.QueryParam("user_id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	sessions, err := h.store.ListSessions(ctx, userID, limit)
	if err != nil {
		log.Printf("ERROR: failed to list sessions: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// AttachSession upgrades to a websocket mirroring the session's live
// frames. Attached clients are read-only observers; a reconnect after a
// run finished should fetch the transcript endpoint instead.
// GET /v1/sessions/:session_id/ws
func (h *Handler) AttachSession(c echo.Context) error {
	sessionID := c.Param("session_id")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade websocket: %v", err)
		return err
	}
	h.hub.Attach(ws, sessionID)
	return nil
}
