package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"notifier_server/adapter/in/http"
	"notifier_server/config"
	"notifier_server/infra/middleware"
	"notifier_server/pkg/logger"
)

const (
	webhookBodyLimit = 4 * 1024 * 1024
	apiBodyLimit     = 64 * 1024
)

// NewAPI builds the HTTP app over deps.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		// go-json for every c.JSON / BodyParser
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    webhookBodyLimit,
		ServerHeader: "",
	})

	app.Use(middleware.Recover())         // 1. Panic recovery
	app.Use(middleware.RequestID())       // 2. Request ID
	app.Use(middleware.SecurityHeaders()) // 3. Security headers
	app.Use(middleware.RequestLogger())   // 4. Request logging

	http.NewHealthHandler(deps.Redis, deps.OAuthService.Store()).Register(app)

	// Provider-facing. No auth: the handshake and clientState are the checks.
	webhookHandler := http.NewWebhookHandler(deps.Dispatcher, deps.OAuthService)
	webhookHandler.Register(app)

	oauthHandler := http.NewOAuthHandler(deps.OAuthService, deps.OAuthService, deps.SubscriptionManager, cfg.WebhookURL)
	if deps.LoginLimiter != nil {
		oauthHandler.Register(app, deps.LoginLimiter.Handler())
	} else {
		oauthHandler.Register(app)
	}

	if cfg.AdminAPIKey == "" {
		logger.Info("ADMIN_API_KEY not set, management API disabled")
		return app
	}
	api := app.Group("/api/v1",
		middleware.APIKey(middleware.APIKeyConfig{ValidAPIKey: cfg.AdminAPIKey}),
		middleware.MaxBodySize(apiBodyLimit),
	)
	http.NewSubscriptionHandler(deps.SubscriptionManager, deps.OAuthService, cfg.WebhookURL, cfg.RenewalWindow).Register(api)

	stats := http.NewStatsHandler()
	stats.AddSource("webhook", func() any { return webhookHandler.GetMetrics() })
	stats.AddSource("graph_breaker", func() any { return deps.GraphBreaker.State() })
	stats.AddSource("graph_calls", func() any {
		calls := make(map[string]any)
		for op, s := range deps.GraphCalls.Snapshot() {
			calls[op] = s.ToMap()
		}
		return calls
	})
	if deps.FetchQueue != nil {
		stats.AddSource("fetch_queue", func() any { return deps.FetchQueue.Stats() })
	}
	stats.Register(api)
	logger.Info("Management API enabled under /api/v1")

	return app
}
