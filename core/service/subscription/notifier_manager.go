package subscription

import (
	"context"
	"net/http"
	"strings"
	"time"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

// Config holds the values every subscription request carries.
type Config struct {
	ClientState          string
	LifecycleCallbackURL string
}

// Manager creates and renews push subscriptions. Provider failures are
// returned as values; nothing here panics or exits.
type Manager struct {
	cfg      Config
	registry out.SubscriptionRegistry
	now      func() time.Time
}

// NewManager creates a subscription manager. registry may be nil.
func NewManager(cfg Config, registry out.SubscriptionRegistry) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: registry,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) expiry() time.Time {
	return m.now().UTC().Add(domain.SubscriptionLifetime)
}

// Create registers a new inbox subscription that delivers to callbackURL.
func (m *Manager) Create(ctx context.Context, client out.MailClient, callbackURL string) (*domain.Subscription, error) {
	if client == nil {
		return nil, apperr.AuthError("no mail client available", nil)
	}
	if strings.TrimSpace(callbackURL) == "" {
		return nil, apperr.ValidationError("callback url is required")
	}

	req := &domain.SubscriptionRequest{
		ChangeType:               domain.ChangeTypeCreated,
		NotificationURL:          callbackURL,
		LifecycleNotificationURL: m.cfg.LifecycleCallbackURL,
		Resource:                 domain.InboxMessagesResource,
		ExpirationDateTime:       m.expiry(),
		ClientState:              m.cfg.ClientState,
	}

	sub, err := client.CreateSubscription(ctx, req)
	if err != nil {
		logger.WithError(err).Error("[SubscriptionManager.Create] failed for %s", callbackURL)
		return nil, asProviderError("create subscription", err)
	}

	// Graph does not echo clientState back on create.
	if sub.ClientState == "" {
		sub.ClientState = req.ClientState
	}
	m.remember(ctx, sub)

	logger.Info("[SubscriptionManager.Create] subscription %s expires %s", sub.ID, sub.ExpirationDateTime.Format(time.RFC3339))
	return sub, nil
}

// Renew moves the expiry of an existing subscription to now plus the
// subscription lifetime. The previous expiry is never used as a base.
func (m *Manager) Renew(ctx context.Context, client out.MailClient, subscriptionID string) (*domain.Subscription, error) {
	if client == nil {
		return nil, apperr.AuthError("no mail client available", nil)
	}
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, apperr.ValidationError("subscription id is required")
	}

	sub, err := client.UpdateSubscription(ctx, subscriptionID, m.expiry())
	if err != nil {
		logger.WithError(err).Error("[SubscriptionManager.Renew] failed for %s", subscriptionID)
		if apperr.ProviderStatus(err) == http.StatusNotFound {
			m.forget(ctx, subscriptionID)
		}
		return nil, asProviderError("renew subscription", err)
	}

	if m.registry != nil {
		// PATCH responses are partial; fill the gaps from what we know.
		if prev, _ := m.registry.Get(ctx, subscriptionID); prev != nil {
			mergeSubscription(sub, prev)
		}
	}
	m.remember(ctx, sub)

	logger.Info("[SubscriptionManager.Renew] subscription %s now expires %s", sub.ID, sub.ExpirationDateTime.Format(time.RFC3339))
	return sub, nil
}

// Delete removes a subscription at the provider and forgets it locally.
// A subscription the provider no longer knows is treated as deleted.
func (m *Manager) Delete(ctx context.Context, client out.MailClient, subscriptionID string) error {
	if client == nil {
		return apperr.AuthError("no mail client available", nil)
	}
	if strings.TrimSpace(subscriptionID) == "" {
		return apperr.ValidationError("subscription id is required")
	}

	if err := client.DeleteSubscription(ctx, subscriptionID); err != nil && apperr.ProviderStatus(err) != http.StatusNotFound {
		return asProviderError("delete subscription", err)
	}
	m.forget(ctx, subscriptionID)
	return nil
}

// List returns every registered subscription.
func (m *Manager) List(ctx context.Context) ([]*domain.Subscription, error) {
	if m.registry == nil {
		return []*domain.Subscription{}, nil
	}
	return m.registry.List(ctx)
}

// RenewExpiring renews registered subscriptions that expire within window.
// A subscription the provider reports as gone is recreated with its
// original notification URL. Other failures wait for the next sweep.
func (m *Manager) RenewExpiring(ctx context.Context, client out.MailClient, window time.Duration) (*domain.RenewalReport, error) {
	report := &domain.RenewalReport{}
	if m.registry == nil {
		return report, nil
	}

	subs, err := m.registry.List(ctx)
	if err != nil {
		return report, err
	}

	now := m.now()
	for _, sub := range subs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		if !sub.NeedsRenewal(now, window) {
			continue
		}

		_, err := m.Renew(ctx, client, sub.ID)
		if err == nil {
			report.Renewed++
			continue
		}

		if apperr.ProviderStatus(err) == http.StatusNotFound {
			m.forget(ctx, sub.ID)
			if _, err := m.Create(ctx, client, sub.NotificationURL); err != nil {
				report.Failed++
				continue
			}
			report.Recreated++
			continue
		}

		report.Failed++
	}

	if report.Renewed+report.Recreated+report.Failed > 0 {
		logger.Info("[SubscriptionManager.RenewExpiring] checked=%d renewed=%d recreated=%d failed=%d",
			report.Checked, report.Renewed, report.Recreated, report.Failed)
	}
	return report, nil
}

func (m *Manager) remember(ctx context.Context, sub *domain.Subscription) {
	if m.registry == nil || sub == nil || sub.ID == "" {
		return
	}
	if err := m.registry.Save(ctx, sub); err != nil {
		logger.WithError(err).Warn("[SubscriptionManager] failed to record subscription %s", sub.ID)
	}
}

func (m *Manager) forget(ctx context.Context, subscriptionID string) {
	if m.registry == nil {
		return
	}
	if err := m.registry.Delete(ctx, subscriptionID); err != nil {
		logger.WithError(err).Warn("[SubscriptionManager] failed to drop subscription %s", subscriptionID)
	}
}

func mergeSubscription(dst, prev *domain.Subscription) {
	if dst.Resource == "" {
		dst.Resource = prev.Resource
	}
	if dst.ChangeType == "" {
		dst.ChangeType = prev.ChangeType
	}
	if dst.NotificationURL == "" {
		dst.NotificationURL = prev.NotificationURL
	}
	if dst.LifecycleNotificationURL == "" {
		dst.LifecycleNotificationURL = prev.LifecycleNotificationURL
	}
	if dst.ClientState == "" {
		dst.ClientState = prev.ClientState
	}
}

// asProviderError keeps AppErrors from the mail client intact and wraps
// anything else as a provider failure.
func asProviderError(operation string, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.ProviderError(operation, 0, err)
}
