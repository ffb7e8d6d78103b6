// Package api provides the REST handlers of the session service.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/hub"
	"github.com/xiaot623/prism/internal/service"
)

const identityKey = "identity"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, h *hub.Hub) *Handler {
	return &Handler{
		service: service,
		hub:     h,
	}
}

// RegisterRoutes registers the authenticated API routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	// Sessions
	g.POST("/create-chat", h.CreateChat)
	g.POST("/validate-chat", h.ValidateChat)
	g.GET("/chat-session-info/:chatUuid", h.GetChatSessionInfo)
	g.POST("/start-summary", h.StartSummary)
	g.GET("/session-status/:chatUuid", h.GetSessionStatus)
	g.GET("/user-sessions", h.ListUserSessions)
	g.GET("/latest-session-info/:chatUuid", h.GetLatestSessionInfo)

	// Profile
	g.GET("/latest-psych-profile", h.GetLatestProfile)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": h.hub.GetConnectionCount(),
		"rooms":       h.hub.GetRoomCount(),
	})
}

// Authenticate checks the bearer token and API key and stores the caller identity.
func Authenticate(verifier *auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := verifier.Authenticate(auth.CredentialsFromRequest(c.Request()))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": domain.ErrAuthentication.Error()})
			}
			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

func identity(c echo.Context) auth.Identity {
	id, _ := c.Get(identityKey).(auth.Identity)
	return id
}

// errorResponse maps a service error to its HTTP status.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrProfileNotFound), errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		return c.JSON(status, map[string]string{"error": "internal error"})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
