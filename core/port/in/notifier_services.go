package in

import (
	"context"
	"time"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
)

// OAuthService runs the authorization-code flow against the identity provider.
type OAuthService interface {
	// NewState issues a signed CSRF state value for the authorization URL.
	NewState(ctx context.Context) (string, error)
	// VerifyState checks a state value returned on the callback.
	VerifyState(ctx context.Context, state string) error
	// AuthURL builds the provider authorization URL.
	AuthURL(state string) string
	// Connect exchanges code for a credential and makes it current.
	Connect(ctx context.Context, code string) error
}

// SubscriptionService creates and renews push subscriptions.
type SubscriptionService interface {
	Create(ctx context.Context, client out.MailClient, callbackURL string) (*domain.Subscription, error)
	Renew(ctx context.Context, client out.MailClient, subscriptionID string) (*domain.Subscription, error)
	Delete(ctx context.Context, client out.MailClient, subscriptionID string) error
	RenewExpiring(ctx context.Context, client out.MailClient, window time.Duration) (*domain.RenewalReport, error)
	List(ctx context.Context) ([]*domain.Subscription, error)
}

// NotificationService validates and routes webhook deliveries. The mail
// client is resolved from clients only when an entry needs one.
type NotificationService interface {
	HandleNotifications(ctx context.Context, clients out.ClientProvider, payload *domain.NotificationPayload) *domain.DispatchReport
	HandleLifecycle(ctx context.Context, clients out.ClientProvider, payload *domain.NotificationPayload) (*domain.DispatchReport, error)
}
