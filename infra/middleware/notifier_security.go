package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Server", "")
		return c.Next()
	}
}

// APIKeyConfig holds the configuration for API key authentication
type APIKeyConfig struct {
	HeaderName  string
	ValidAPIKey string
}

// APIKey rejects requests whose key header does not match. An empty
// configured key rejects everything.
func APIKey(cfg APIKeyConfig) fiber.Handler {
	header := cfg.HeaderName
	if header == "" {
		header = "X-API-Key"
	}
	valid := []byte(cfg.ValidAPIKey)

	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Get(header))
		if key == "" {
			return apperr.Unauthorized("missing API key")
		}
		if len(valid) == 0 || subtle.ConstantTimeCompare([]byte(key), valid) != 1 {
			logger.WithField("ip", c.IP()).Warn("[APIKey] invalid key on %s %s", c.Method(), c.Path())
			return apperr.Unauthorized("invalid API key")
		}
		return c.Next()
	}
}

// MaxBodySize limits request body size for specific endpoints
func MaxBodySize(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error":    "request body too large",
				"code":     "PAYLOAD_TOO_LARGE",
				"max_size": maxBytes,
			})
		}
		return c.Next()
	}
}
