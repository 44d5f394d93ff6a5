package server

import (
	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/Anvoria/keyrelay/internal/domain/auth"
	"github.com/Anvoria/keyrelay/internal/domain/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// SetupRoutes mounts the session API under /v1/session, the health check and
// the Prometheus endpoint. With auth enabled the session routes require a
// bearer token and the JWKS is published at /.well-known/jwks.json.
func SetupRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) {
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	api := app.Group("/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})

	sessions := api.Group("/session")
	if deps.KeyStore != nil {
		keyStore := deps.KeyStore
		app.Get("/.well-known/jwks.json", func(c *fiber.Ctx) error {
			return c.JSON(keyStore.JWKS())
		})
		sessions.Use(auth.Middleware(keyStore, cfg.Auth.Issuer, cfg.Auth.Audience))
	}

	h := session.NewHandler(deps.Sessions)
	sessions.Post("/verify", auth.RequireScope(auth.ScopeRead), h.Verify)
	sessions.Post("/register", auth.RequireScope(auth.ScopeWrite), h.Register)
	sessions.Post("/revoke", auth.RequireScope(auth.ScopeWrite), h.Revoke)
	sessions.Post("/relay", auth.RequireScope(auth.ScopeRelay), h.Relay)
	sessions.Post("/relay/prepare", auth.RequireScope(auth.ScopeRelay), h.PrepareRelay)
	sessions.Get("/", auth.RequireScope(auth.ScopeRead), h.ListSessions)
	sessions.Get("/:sessionPublicKey", auth.RequireScope(auth.ScopeRead), h.GetSession)
}
