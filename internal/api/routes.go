package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirogate/kirogate/internal/auth"
	"github.com/kirogate/kirogate/internal/rate"
)

// RegisterRoutes wires the full gateway surface onto the fiber app.
// oauthH, adminH and assets may be nil when the matching feature is
// disabled by configuration.
func RegisterRoutes(
	app *fiber.App,
	h *Handler,
	oauthH *OAuthHandler,
	adminH *AdminHandler,
	assets *StaticProxy,
	keys *auth.KeyVerifier,
	limiter *rate.Manager,
) {
	app.Get("/", h.Root)
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/metrics/prometheus", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/v1", RateLimit(limiter))
	v1.Get("/models", keys.RequireKey(), h.ListModels)
	v1.Post("/chat/completions", keys.RequireKey(), h.ChatCompletions)
	v1.Post("/messages", keys.RequireKeyCompat(), h.Messages)

	if oauthH != nil {
		app.Get("/oauth/login", oauthH.Login)
		app.Get("/oauth/callback", oauthH.Callback)
	}

	if adminH != nil {
		app.Post("/admin/login", adminH.Login)
		app.Post("/admin/logout", adminH.Logout)

		protected := app.Group("/admin", adminH.Admin.RequireAdmin())
		protected.Get("/users", adminH.ListUsers)
		protected.Post("/users/:id/ban", adminH.BanUser)
		protected.Post("/users/:id/unban", adminH.UnbanUser)
		protected.Get("/usage", adminH.Usage)
		protected.Post("/rotate-key", adminH.RotateKey)
	}

	if assets != nil {
		app.Get("/assets/*", assets.Serve)
	}
}
