package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"notifier_server/core/port/in"
	"notifier_server/core/port/out"
	"notifier_server/pkg/logger"
)

// OAuthHandler serves the browser side of sign-in: the login redirect and
// the callback that connects the account and subscribes to the inbox.
type OAuthHandler struct {
	oauthService  in.OAuthService
	clients       out.ClientProvider
	subscriptions in.SubscriptionService
	webhookURL    string
}

func NewOAuthHandler(oauthService in.OAuthService, clients out.ClientProvider, subscriptions in.SubscriptionService, webhookURL string) *OAuthHandler {
	return &OAuthHandler{
		oauthService:  oauthService,
		clients:       clients,
		subscriptions: subscriptions,
		webhookURL:    webhookURL,
	}
}

// Register mounts the login and callback routes behind mw.
func (h *OAuthHandler) Register(app fiber.Router, mw ...fiber.Handler) {
	app.Get("/", append(mw[:len(mw):len(mw)], h.Login)...)
	app.Get("/callback", append(mw[:len(mw):len(mw)], h.Callback)...)
}

// Login redirects to the identity provider.
func (h *OAuthHandler) Login(c *fiber.Ctx) error {
	state, err := h.oauthService.NewState(c.UserContext())
	if err != nil {
		logger.WithError(err).Error("[OAuth Login] failed to issue state")
		return TextResponse(c, fiber.StatusInternalServerError, fmt.Sprintf("Failed to start sign-in: %v", err))
	}
	return c.Redirect(h.oauthService.AuthURL(state), fiber.StatusFound)
}

// Callback finishes sign-in and creates the inbox subscription.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if providerErr := c.Query("error"); providerErr != "" {
		desc := c.Query("error_description")
		logger.Warn("[OAuth Callback] provider returned error %s: %s", providerErr, desc)
		msg := "Authorization failed. " + providerErr
		if desc != "" {
			msg += ": " + desc
		}
		return TextResponse(c, fiber.StatusBadRequest, msg)
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		logger.Warn("[OAuth Callback] no code in callback")
		return TextResponse(c, fiber.StatusBadRequest, "Authorization failed. No code provided.")
	}

	// Login always issues a state, so a callback without one was not started here.
	state := c.Query("state")
	if state == "" {
		logger.Warn("[OAuth Callback] no state in callback")
		return TextResponse(c, fiber.StatusBadRequest, "Authorization failed. Invalid state.")
	}
	if err := h.oauthService.VerifyState(ctx, state); err != nil {
		logger.WithError(err).Warn("[OAuth Callback] state rejected")
		return TextResponse(c, fiber.StatusBadRequest, "Authorization failed. Invalid state.")
	}

	if err := h.oauthService.Connect(ctx, code); err != nil {
		return TextResponse(c, fiber.StatusUnauthorized, fmt.Sprintf("Failed to authenticate: %v", err))
	}

	client, err := h.clients.Client(ctx)
	if err != nil {
		logger.WithError(err).Error("[OAuth Callback] no mail client after sign-in")
		return TextResponse(c, fiber.StatusUnauthorized, fmt.Sprintf("Failed to authenticate: %v", err))
	}

	sub, err := h.subscriptions.Create(ctx, client, h.webhookURL)
	if err != nil {
		return TextResponse(c, fiber.StatusBadGateway, fmt.Sprintf("Failed to create subscription: %v", err))
	}

	logger.Info("[OAuth Callback] subscription %s created", sub.ID)
	return TextResponse(c, fiber.StatusOK, fmt.Sprintf("Subscription created: %s (expires %s)",
		sub.ID, sub.ExpirationDateTime.UTC().Format(time.RFC3339)))
}
