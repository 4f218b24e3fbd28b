package http

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"notifier_server/core/domain"
	"notifier_server/core/port/in"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

// WebhookMetrics counts webhook deliveries since start.
type WebhookMetrics struct {
	Handshakes int64 `json:"handshakes"`
	Deliveries int64 `json:"deliveries"`
	Malformed  int64 `json:"malformed"`
	Failures   int64 `json:"failures"`
}

// WebhookHandler receives provider notifications. The notification endpoint
// always acknowledges with 202; the lifecycle endpoint answers 500 when
// handling fails.
type WebhookHandler struct {
	notifications in.NotificationService
	clients       out.ClientProvider
	metrics       WebhookMetrics
}

func NewWebhookHandler(notifications in.NotificationService, clients out.ClientProvider) *WebhookHandler {
	return &WebhookHandler{
		notifications: notifications,
		clients:       clients,
	}
}

func (h *WebhookHandler) Register(app fiber.Router) {
	app.Get("/webhook", h.Notify)
	app.Post("/webhook", h.Notify)
	app.Get("/webhook/lifecycle", h.Lifecycle)
	app.Post("/webhook/lifecycle", h.Lifecycle)
}

func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Handshakes: atomic.LoadInt64(&h.metrics.Handshakes),
		Deliveries: atomic.LoadInt64(&h.metrics.Deliveries),
		Malformed:  atomic.LoadInt64(&h.metrics.Malformed),
		Failures:   atomic.LoadInt64(&h.metrics.Failures),
	}
}

// Notify handles the subscription handshake and change notifications.
func (h *WebhookHandler) Notify(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		return h.handshake(c, token)
	}

	payload, err := parsePayload(c.Body())
	if err != nil {
		atomic.AddInt64(&h.metrics.Malformed, 1)
		logger.WithError(err).Warn("[Webhook.Notify] discarding malformed payload (%d bytes)", len(c.Body()))
		return accepted(c)
	}

	atomic.AddInt64(&h.metrics.Deliveries, 1)
	report := h.notifications.HandleNotifications(c.UserContext(), h.clients, payload)
	logDispatch("[Webhook.Notify]", report)
	return accepted(c)
}

// Lifecycle handles the handshake and lifecycle events on the dedicated
// lifecycle address.
func (h *WebhookHandler) Lifecycle(c *fiber.Ctx) (err error) {
	if token := c.Query("validationToken"); token != "" {
		return h.handshake(c, token)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]any{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			}).Error("[Webhook.Lifecycle] panic while handling lifecycle events")
			err = h.lifecycleFailure(c, fmt.Errorf("%v", r))
		}
	}()

	payload, perr := parsePayload(c.Body())
	if perr != nil {
		atomic.AddInt64(&h.metrics.Malformed, 1)
		logger.WithError(perr).Warn("[Webhook.Lifecycle] malformed payload")
		return h.lifecycleFailure(c, perr)
	}

	atomic.AddInt64(&h.metrics.Deliveries, 1)
	report, herr := h.notifications.HandleLifecycle(c.UserContext(), h.clients, payload)
	if herr != nil {
		logger.WithError(herr).Error("[Webhook.Lifecycle] handling failed")
		return h.lifecycleFailure(c, herr)
	}
	logDispatch("[Webhook.Lifecycle]", report)
	return accepted(c)
}

func (h *WebhookHandler) handshake(c *fiber.Ctx, token string) error {
	atomic.AddInt64(&h.metrics.Handshakes, 1)
	logger.Info("[Webhook] answering validation handshake on %s", c.Path())
	return TextResponse(c, fiber.StatusOK, token)
}

func (h *WebhookHandler) lifecycleFailure(c *fiber.Ctx, err error) error {
	atomic.AddInt64(&h.metrics.Failures, 1)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

// accepted answers 202 with an empty body. fiber's SendStatus would write
// the status text.
func accepted(c *fiber.Ctx) error {
	c.Status(fiber.StatusAccepted)
	return nil
}

func parsePayload(body []byte) (*domain.NotificationPayload, error) {
	if len(body) == 0 {
		return nil, apperr.ValidationError("empty notification payload")
	}
	var payload domain.NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.ValidationError("malformed notification payload").WithError(err)
	}
	return &payload, nil
}

func logDispatch(prefix string, report *domain.DispatchReport) {
	if report == nil {
		return
	}
	logger.WithFields(map[string]any{
		"received":  report.Received,
		"discarded": report.Discarded,
		"ignored":   report.Ignored,
		"duplicate": report.Duplicate,
		"fetched":   report.Fetched,
		"created":   report.Created,
		"renewed":   report.Renewed,
		"failed":    report.Failed,
	}).Info("%s processed %d entries", prefix, report.Received)
}
