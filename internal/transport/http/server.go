// Package http provides the HTTP server for the prism session service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/hub"
	"github.com/xiaot623/prism/internal/metrics"
	"github.com/xiaot623/prism/internal/service"
	"github.com/xiaot623/prism/internal/transport/http/api"
	"github.com/xiaot623/prism/internal/ws"
)

// NewServer creates and configures the HTTP server.
// It serves the REST API, the WebSocket endpoint, health and metrics.
func NewServer(cfg *config.Config, svc *service.Service, h *hub.Hub, verifier *auth.Verifier, m *metrics.Metrics, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	apiHandler := api.NewHandler(svc, h)

	e.GET("/health", apiHandler.Health)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/ws", wsServer.HandleWebSocket)

	// REST routes
	g := e.Group("/api")
	if cfg.RateLimit > 0 {
		g.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	g.Use(api.Authenticate(verifier))
	apiHandler.RegisterRoutes(g)

	return e
}
