package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"notifier_server/core/port/in"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

// SubscriptionHandler is the operator API over the subscription manager.
type SubscriptionHandler struct {
	subscriptions in.SubscriptionService
	clients       out.ClientProvider
	webhookURL    string
	renewWindow   time.Duration
}

func NewSubscriptionHandler(subscriptions in.SubscriptionService, clients out.ClientProvider, webhookURL string, renewWindow time.Duration) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		clients:       clients,
		webhookURL:    webhookURL,
		renewWindow:   renewWindow,
	}
}

func (h *SubscriptionHandler) Register(router fiber.Router) {
	subs := router.Group("/subscriptions")
	subs.Get("/", h.List)
	subs.Post("/", h.Create)
	subs.Post("/renew-expiring", h.RenewExpiring)
	subs.Post("/:id/renew", h.Renew)
	subs.Delete("/:id", h.Delete)
}

type createSubscriptionRequest struct {
	NotificationURL string `json:"notificationUrl"`
}

func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	subs, err := h.subscriptions.List(c.UserContext())
	if err != nil {
		logger.WithError(err).Error("[SubscriptionAPI.List] registry read failed")
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.StatusOK, fiber.Map{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Create subscribes the inbox. The body may override the notification URL.
func (h *SubscriptionHandler) Create(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return AppErrorResponse(c, apperr.ValidationError("invalid request body"))
		}
	}
	callbackURL := strings.TrimSpace(req.NotificationURL)
	if callbackURL == "" {
		callbackURL = h.webhookURL
	}

	client, err := h.clients.Client(c.UserContext())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	sub, err := h.subscriptions.Create(c.UserContext(), client, callbackURL)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.StatusCreated, sub)
}

func (h *SubscriptionHandler) Renew(c *fiber.Ctx) error {
	client, err := h.clients.Client(c.UserContext())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	sub, err := h.subscriptions.Renew(c.UserContext(), client, c.Params("id"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	client, err := h.clients.Client(c.UserContext())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.subscriptions.Delete(c.UserContext(), client, id); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.StatusOK, fiber.Map{"deleted": id})
}

// RenewExpiring runs one renewal sweep now. ?window= overrides the
// configured window (Go duration syntax).
func (h *SubscriptionHandler) RenewExpiring(c *fiber.Ctx) error {
	window := h.renewWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return AppErrorResponse(c, apperr.ValidationError("window must be a positive duration"))
		}
		window = d
	}

	client, err := h.clients.Client(c.UserContext())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	report, err := h.subscriptions.RenewExpiring(c.UserContext(), client, window)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.StatusOK, report)
}
