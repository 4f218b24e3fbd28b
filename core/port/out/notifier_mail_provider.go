package out

import (
	"context"
	"time"

	"notifier_server/core/domain"
)

// MailClient defines the outbound port for the mail provider API. It is
// bound to one authenticated user.
type MailClient interface {
	// Subscription operations
	CreateSubscription(ctx context.Context, req *domain.SubscriptionRequest) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, expiration time.Time) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) error

	// Message operations
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
}

// ClientProvider hands out a MailClient for the current credential. It
// returns an AuthError when no credential is available.
type ClientProvider interface {
	Client(ctx context.Context) (MailClient, error)
}

// ClientProviderFunc adapts a function to ClientProvider.
type ClientProviderFunc func(ctx context.Context) (MailClient, error)

func (f ClientProviderFunc) Client(ctx context.Context) (MailClient, error) {
	return f(ctx)
}

// SubscriptionRegistry remembers subscriptions long enough to renew them.
type SubscriptionRegistry interface {
	Save(ctx context.Context, sub *domain.Subscription) error
	Get(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
	List(ctx context.Context) ([]*domain.Subscription, error)
	Delete(ctx context.Context, subscriptionID string) error
}

// DedupStore suppresses redelivered notifications. Seen marks key and
// returns true when it was already marked inside the TTL. Release drops the
// mark so a later delivery is processed again.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MessageSink receives fetched message details.
type MessageSink interface {
	Deliver(ctx context.Context, msg *domain.Message) error
}

// StateStore makes OAuth state nonces single-use.
type StateStore interface {
	Remember(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume reports whether nonce was outstanding and removes it.
	Consume(ctx context.Context, nonce string) (bool, error)
}
