package domain

import (
	"time"
)

const (
	// InboxMessagesResource is the only resource watched.
	InboxMessagesResource = "me/mailFolders('inbox')/messages"

	// ChangeTypeCreated is the only change type subscribed to and processed.
	ChangeTypeCreated = "created"

	// SubscriptionLifetime is the provider cap for delegated mail
	// subscriptions. Every create and renew sets expiry to now + this.
	SubscriptionLifetime = 3 * 24 * time.Hour
)

// Subscription is a provider-side registration that triggers webhook
// delivery for new inbox messages.
type Subscription struct {
	ID                       string    `json:"id"`
	Resource                 string    `json:"resource"`
	ChangeType               string    `json:"changeType"`
	NotificationURL          string    `json:"notificationUrl"`
	LifecycleNotificationURL string    `json:"lifecycleNotificationUrl,omitempty"`
	ClientState              string    `json:"clientState,omitempty"`
	ExpirationDateTime       time.Time `json:"expirationDateTime"`
}

// IsActive reports whether the subscription is still valid at now.
func (s *Subscription) IsActive(now time.Time) bool {
	return now.Before(s.ExpirationDateTime)
}

// NeedsRenewal reports whether the subscription expires within window of now.
func (s *Subscription) NeedsRenewal(now time.Time, window time.Duration) bool {
	return !now.Add(window).Before(s.ExpirationDateTime)
}

// SubscriptionRequest is the body sent to create a subscription.
type SubscriptionRequest struct {
	ChangeType               string    `json:"changeType"`
	NotificationURL          string    `json:"notificationUrl"`
	LifecycleNotificationURL string    `json:"lifecycleNotificationUrl,omitempty"`
	Resource                 string    `json:"resource"`
	ExpirationDateTime       time.Time `json:"expirationDateTime"`
	ClientState              string    `json:"clientState"`
}
