package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/brightdesk/brightdesk-api/internal/config"
	"github.com/brightdesk/brightdesk-api/internal/handler"
	"github.com/brightdesk/brightdesk-api/internal/middleware"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	DirectoryHandler    *handler.DirectoryHandler
	PresenceHandler     *handler.PresenceHandler
	NotificationHandler *handler.NotificationHandler
	AdminMonitorHandler *handler.AdminMonitorHandler
	UserHandler         *handler.UserHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat)
	}

	if deps.DirectoryHandler != nil {
		chats := api.Group("/chats", jwtMiddleware)
		// Direct-chat creation is cheap but user-triggered; cap bursts.
		chats.Use("/direct", middleware.RateLimit("chats-direct", 20, time.Minute))
		deps.DirectoryHandler.Register(chats)
	}

	if deps.PresenceHandler != nil {
		presence := api.Group("/presence", jwtMiddleware)
		presence.Use("/heartbeat", middleware.RateLimit("presence-heartbeat", 120, time.Minute))
		deps.PresenceHandler.Register(presence)
	}

	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	if deps.AdminMonitorHandler != nil {
		monitor := api.Group("/admin/monitor", jwtMiddleware, middleware.RequireRole(models.RoleAdmin))
		deps.AdminMonitorHandler.Register(monitor)
	}

	if deps.UserHandler != nil {
		users := api.Group("/users", jwtMiddleware)
		deps.UserHandler.Register(users)
	}
}
