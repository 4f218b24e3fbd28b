package notification

import (
	"context"
	"crypto/subtle"
	"net/http"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

// MissedPolicy decides what a "missed" lifecycle event triggers.
type MissedPolicy string

const (
	MissedRenew    MissedPolicy = "renew"
	MissedRecreate MissedPolicy = "recreate"
)

// Subscriber is the part of the subscription manager the dispatcher drives.
type Subscriber interface {
	Create(ctx context.Context, client out.MailClient, callbackURL string) (*domain.Subscription, error)
	Renew(ctx context.Context, client out.MailClient, subscriptionID string) (*domain.Subscription, error)
}

// Fetcher retrieves a new message and hands it on.
type Fetcher interface {
	Fetch(ctx context.Context, client out.MailClient, messageID string) error
}

type Config struct {
	ClientState string
	// CallbackURL is used when a subscription has to be recreated.
	CallbackURL string

	NotificationMissed MissedPolicy
	LifecycleMissed    MissedPolicy
}

// Dispatcher validates webhook entries and routes them to a fetch or to a
// subscription action. Each entry is handled on its own; one bad entry never
// stops the rest.
type Dispatcher struct {
	cfg     Config
	subs    Subscriber
	fetcher Fetcher
	dedup   out.DedupStore
}

func NewDispatcher(cfg Config, subs Subscriber, fetcher Fetcher) *Dispatcher {
	if cfg.NotificationMissed == "" {
		cfg.NotificationMissed = MissedRecreate
	}
	if cfg.LifecycleMissed == "" {
		cfg.LifecycleMissed = MissedRenew
	}
	return &Dispatcher{cfg: cfg, subs: subs, fetcher: fetcher}
}

// SetDedupStore enables suppression of redelivered notifications.
func (d *Dispatcher) SetDedupStore(store out.DedupStore) {
	d.dedup = store
}

// lazyClient resolves the mail client at most once per delivery.
type lazyClient struct {
	clients out.ClientProvider
	client  out.MailClient
	err     error
	done    bool
}

func (l *lazyClient) get(ctx context.Context) (out.MailClient, error) {
	if !l.done {
		l.done = true
		if l.clients == nil {
			l.err = apperr.AuthError("no credential available", nil)
		} else {
			l.client, l.err = l.clients.Client(ctx)
		}
	}
	return l.client, l.err
}

// HandleNotifications processes a delivery to the notification endpoint.
// Failures are counted in the report and never returned.
func (d *Dispatcher) HandleNotifications(ctx context.Context, clients out.ClientProvider, payload *domain.NotificationPayload) *domain.DispatchReport {
	report := &domain.DispatchReport{}
	if payload == nil {
		return report
	}
	lc := &lazyClient{clients: clients}

	for i := range payload.Value {
		event := &payload.Value[i]
		report.Received++

		if !d.trusted(event) {
			logger.Warn("[Dispatcher] clientState mismatch on subscription %q, entry discarded", event.SubscriptionID)
			report.Discarded++
			continue
		}

		if event.IsLifecycle() {
			if event.LifecycleEvent != domain.LifecycleMissed {
				logger.Debug("[Dispatcher] ignoring lifecycle event %q", event.LifecycleEvent)
				report.Ignored++
				continue
			}
			// Endpoint A has no error path; failures are only counted.
			_ = d.onMissed(ctx, lc, event, d.cfg.NotificationMissed, report)
			continue
		}

		if event.ChangeType != domain.ChangeTypeCreated {
			logger.Debug("[Dispatcher] ignoring change type %q", event.ChangeType)
			report.Ignored++
			continue
		}

		messageID := event.MessageID()
		if messageID == "" {
			logger.Warn("[Dispatcher] no message id in notification for subscription %q", event.SubscriptionID)
			report.Discarded++
			continue
		}

		key := event.SubscriptionID + ":" + messageID
		if d.duplicate(ctx, key) {
			report.Duplicate++
			continue
		}

		client, err := lc.get(ctx)
		if err != nil {
			logger.WithError(err).Warn("[Dispatcher] cannot fetch message %s", messageID)
			d.release(ctx, key)
			report.Failed++
			continue
		}
		if err := d.fetcher.Fetch(ctx, client, messageID); err != nil {
			logger.WithError(err).Error("[Dispatcher] fetch failed for message %s", messageID)
			d.release(ctx, key)
			report.Failed++
			continue
		}
		report.Fetched++
	}

	logger.Info("[Dispatcher] notifications received=%d fetched=%d discarded=%d ignored=%d duplicate=%d created=%d renewed=%d failed=%d",
		report.Received, report.Fetched, report.Discarded, report.Ignored, report.Duplicate, report.Created, report.Renewed, report.Failed)
	return report
}

// HandleLifecycle processes a delivery to the lifecycle endpoint. Only
// lifecycle entries act. Provider failures are counted; an error is returned
// only when no mail client can be obtained for a required action.
func (d *Dispatcher) HandleLifecycle(ctx context.Context, clients out.ClientProvider, payload *domain.NotificationPayload) (*domain.DispatchReport, error) {
	report := &domain.DispatchReport{}
	if payload == nil {
		return report, apperr.ValidationError("empty lifecycle payload")
	}
	lc := &lazyClient{clients: clients}

	for i := range payload.Value {
		event := &payload.Value[i]
		report.Received++

		if !d.trusted(event) {
			logger.Warn("[Dispatcher] clientState mismatch on lifecycle event for %q, entry discarded", event.SubscriptionID)
			report.Discarded++
			continue
		}

		var err error
		switch event.LifecycleEvent {
		case domain.LifecycleMissed:
			err = d.onMissed(ctx, lc, event, d.cfg.LifecycleMissed, report)
		case domain.LifecycleDeleted, domain.LifecycleSubscriptionRemoved:
			err = d.recreate(ctx, lc, event, report)
		case domain.LifecycleReauthorizationRequired:
			err = d.renew(ctx, lc, event, report)
		default:
			logger.Debug("[Dispatcher] ignoring lifecycle entry %q", event.LifecycleEvent)
			report.Ignored++
			continue
		}
		if err != nil {
			return report, err
		}
	}

	logger.Info("[Dispatcher] lifecycle received=%d created=%d renewed=%d discarded=%d ignored=%d failed=%d",
		report.Received, report.Created, report.Renewed, report.Discarded, report.Ignored, report.Failed)
	return report, nil
}

func (d *Dispatcher) onMissed(ctx context.Context, lc *lazyClient, event *domain.NotificationEvent, policy MissedPolicy, report *domain.DispatchReport) error {
	if policy == MissedRenew && event.SubscriptionID != "" {
		return d.renew(ctx, lc, event, report)
	}
	return d.recreate(ctx, lc, event, report)
}

// renew and recreate return an error only when the client is unavailable.
func (d *Dispatcher) renew(ctx context.Context, lc *lazyClient, event *domain.NotificationEvent, report *domain.DispatchReport) error {
	if event.SubscriptionID == "" {
		return d.recreate(ctx, lc, event, report)
	}
	client, err := lc.get(ctx)
	if err != nil {
		report.Failed++
		return err
	}
	logger.Info("[Dispatcher] %s on %s, renewing", event.LifecycleEvent, event.SubscriptionID)
	if _, err := d.subs.Renew(ctx, client, event.SubscriptionID); err != nil {
		if apperr.ProviderStatus(err) == http.StatusNotFound {
			logger.Info("[Dispatcher] subscription %s is gone, recreating", event.SubscriptionID)
			return d.recreate(ctx, lc, event, report)
		}
		report.Failed++
		return nil
	}
	report.Renewed++
	return nil
}

func (d *Dispatcher) recreate(ctx context.Context, lc *lazyClient, event *domain.NotificationEvent, report *domain.DispatchReport) error {
	client, err := lc.get(ctx)
	if err != nil {
		report.Failed++
		return err
	}
	logger.Info("[Dispatcher] %s on %q, recreating subscription", event.LifecycleEvent, event.SubscriptionID)
	if _, err := d.subs.Create(ctx, client, d.cfg.CallbackURL); err != nil {
		report.Failed++
		return nil
	}
	report.Created++
	return nil
}

func (d *Dispatcher) trusted(event *domain.NotificationEvent) bool {
	if d.cfg.ClientState == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(event.ClientState), []byte(d.cfg.ClientState)) == 1
}

func (d *Dispatcher) duplicate(ctx context.Context, key string) bool {
	if d.dedup == nil {
		return false
	}
	seen, err := d.dedup.Seen(ctx, key)
	if err != nil {
		// Dedup is best effort; fall through to processing.
		logger.WithError(err).Warn("[Dispatcher] dedup check failed for %s", key)
		return false
	}
	if seen {
		logger.Debug("[Dispatcher] duplicate notification for %s", key)
	}
	return seen
}

// release lets a redelivery retry an entry whose fetch failed.
func (d *Dispatcher) release(ctx context.Context, key string) {
	if d.dedup == nil {
		return
	}
	if err := d.dedup.Release(ctx, key); err != nil {
		logger.WithError(err).Warn("[Dispatcher] dedup release failed for %s", key)
	}
}
