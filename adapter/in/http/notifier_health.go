package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// CredentialChecker reports whether a signed-in credential is held.
type CredentialChecker interface {
	HasCredential() bool
}

type HealthHandler struct {
	redis       *redis.Client
	credentials CredentialChecker
}

func NewHealthHandler(redisClient *redis.Client, credentials CredentialChecker) *HealthHandler {
	return &HealthHandler{
		redis:       redisClient,
		credentials: credentials,
	}
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready fails only on a broken Redis. A missing credential is reported but
// the webhook endpoints still have to answer handshakes.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	switch {
	case h.credentials == nil:
		checks["credential"] = "not configured"
	case h.credentials.HasCredential():
		checks["credential"] = "connected"
	default:
		checks["credential"] = "not connected"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
