package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ChatRequest names a session in a request body.
type ChatRequest struct {
	ChatUUID string `json:"chatUuid"`
}

// CreateChat starts a new session for the caller.
// POST /api/create-chat
func (h *Handler) CreateChat(c echo.Context) error {
	session, err := h.service.CreateSession(c.Request().Context(), identity(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"chatUuid": session.SessionID})
}

// ValidateChat checks that the caller may use a session.
// POST /api/validate-chat
func (h *Handler) ValidateChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.ChatUUID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid chat UUID"})
	}
	if _, err := h.service.AuthorizeSession(c.Request().Context(), identity(c), req.ChatUUID); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetChatSessionInfo returns timing and status flags of a session.
// GET /api/chat-session-info/:chatUuid
func (h *Handler) GetChatSessionInfo(c echo.Context) error {
	info, err := h.service.SessionInfo(c.Request().Context(), identity(c), c.Param("chatUuid"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// StartSummary ends the session and triggers its summary process.
// POST /api/start-summary
func (h *Handler) StartSummary(c echo.Context) error {
	ctx := c.Request().Context()

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ChatUUID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "chatUuid is required"})
	}

	if _, err := h.service.AuthorizeSession(ctx, identity(c), req.ChatUUID); err != nil {
		return errorResponse(c, err)
	}
	started, err := h.service.StartSummary(ctx, req.ChatUUID)
	if err != nil {
		return errorResponse(c, err)
	}

	message := "Summary process started"
	if !started {
		message = "Summary process already started"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"started": started,
		"message": message,
	})
}

// GetSessionStatus returns the status flags of a session.
// GET /api/session-status/:chatUuid
func (h *Handler) GetSessionStatus(c echo.Context) error {
	status, err := h.service.Status(c.Request().Context(), identity(c), c.Param("chatUuid"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// ListUserSessions lists the caller's sessions ordered by start time.
// GET /api/user-sessions
func (h *Handler) ListUserSessions(c echo.Context) error {
	sessions, err := h.service.UserSessions(c.Request().Context(), identity(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// GetLatestSessionInfo returns the summary artifacts of a session.
// GET /api/latest-session-info/:chatUuid
func (h *Handler) GetLatestSessionInfo(c echo.Context) error {
	artifacts, err := h.service.LatestArtifacts(c.Request().Context(), identity(c), c.Param("chatUuid"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, artifacts)
}
