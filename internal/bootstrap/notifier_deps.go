package bootstrap

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"notifier_server/adapter/in/worker"
	"notifier_server/adapter/out/persistence"
	"notifier_server/adapter/out/provider/outlook"
	"notifier_server/config"
	"notifier_server/core/port/out"
	"notifier_server/core/service/auth"
	"notifier_server/core/service/notification"
	"notifier_server/core/service/subscription"
	"notifier_server/infra/database"
	"notifier_server/infra/middleware"
	"notifier_server/pkg/httputil"
	"notifier_server/pkg/logger"
	"notifier_server/pkg/metrics"
	"notifier_server/pkg/resilience"
)

// Dependencies holds every wired component.
type Dependencies struct {
	Redis *redis.Client

	GraphBreaker        *resilience.CircuitBreaker
	GraphCalls          *metrics.Registry
	OAuthService        *auth.OAuthService
	SubscriptionManager *subscription.Manager
	Dispatcher          *notification.Dispatcher

	// FetchQueue is nil in sync fetch mode.
	FetchQueue *worker.QueueFetcher
	// RenewalScheduler is nil when renewal is disabled.
	RenewalScheduler *worker.RenewalScheduler

	LoginLimiter *middleware.RateLimiter
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	if cfg.RenewalEnabled {
		if _, err := cron.ParseStandard(cfg.RenewalSchedule); err != nil {
			return nil, nil, fmt.Errorf("RENEWAL_SCHEDULE %q: %w", cfg.RenewalSchedule, err)
		}
	}

	deps := &Dependencies{}
	var cleanups []func()

	// Redis
	if cfg.RedisURL != "" {
		redisCfg := database.DefaultRedisConfig()
		redisCfg.PoolSize = cfg.RedisPoolSize
		redisClient, err := database.NewRedisWithConfig(cfg.RedisURL, redisCfg)
		if err != nil {
			logger.Warn("Redis connection failed, using in-memory stores: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			logger.Info("Redis connected")
		}
	}

	// Graph
	graphHTTP := httputil.NewOptimizedClient(httputil.OutlookClientConfig(cfg.GraphTimeout))
	deps.GraphBreaker = resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "graph",
		FailureThreshold: cfg.BreakerMaxFailures,
		HalfOpenRequests: 1,
		Interval:         60 * time.Second,
		Timeout:          cfg.BreakerOpenTimeout,
		IsFailure:        outlook.IsBreakerFailure,
	})
	deps.GraphCalls = metrics.NewRegistry(500)
	factory := func(ts oauth2.TokenSource) out.MailClient {
		return outlook.NewTokenClient(ts, graphHTTP, cfg.GraphBaseURL, deps.GraphBreaker).WithMetrics(deps.GraphCalls)
	}

	// OAuth
	deps.OAuthService = auth.NewOAuthService(auth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TenantID:     cfg.TenantID,
		RedirectURI:  cfg.RedirectURI,
		StateSecret:  cfg.StateSecret,
		HTTPClient:   graphHTTP,
	}, factory)

	// Subscriptions
	var registry out.SubscriptionRegistry
	if deps.Redis != nil {
		registry = persistence.NewRedisSubscriptionRegistry(deps.Redis)
		deps.OAuthService.SetStateStore(persistence.NewRedisOAuthStateStore(deps.Redis))
	} else {
		registry = persistence.NewMemorySubscriptionRegistry()
	}
	deps.SubscriptionManager = subscription.NewManager(subscription.Config{
		ClientState:          cfg.ClientState,
		LifecycleCallbackURL: cfg.LifecycleWebhookURL,
	}, registry)

	// Fetch
	sink := notification.NewLogSink()
	var fetcher notification.Fetcher
	if cfg.FetchMode == config.FetchModeQueue {
		deps.FetchQueue = worker.NewQueueFetcher(sink, worker.QueueConfig{
			Workers:     cfg.FetchWorkers,
			QueueSize:   cfg.FetchQueueSize,
			JobTimeout:  cfg.FetchTimeout,
			MaxAttempts: cfg.FetchMaxAttempts,
		}, logger.Zerolog("fetch_queue"))
		fetcher = deps.FetchQueue
	} else {
		fetcher = notification.NewSyncFetcher(sink)
	}

	// Dispatch
	deps.Dispatcher = notification.NewDispatcher(notification.Config{
		ClientState:        cfg.ClientState,
		CallbackURL:        cfg.WebhookURL,
		NotificationMissed: notification.MissedPolicy(cfg.NotificationMissedPolicy),
		LifecycleMissed:    notification.MissedPolicy(cfg.LifecycleMissedPolicy),
	}, deps.SubscriptionManager, fetcher)
	switch {
	case !cfg.DedupEnabled:
	case deps.Redis != nil:
		deps.Dispatcher.SetDedupStore(persistence.NewRedisDedupStore(deps.Redis, cfg.DedupTTL))
	case cfg.DedupCacheSize > 0:
		deps.Dispatcher.SetDedupStore(persistence.NewMemoryDedupStore(cfg.DedupCacheSize, cfg.DedupTTL))
	default:
		logger.Warn("Dedup enabled without Redis or DEDUP_CACHE_SIZE, notifications are not deduplicated")
	}

	// Renewal
	if cfg.RenewalEnabled {
		deps.RenewalScheduler = worker.NewRenewalScheduler(deps.SubscriptionManager, deps.OAuthService, worker.RenewalConfig{
			Schedule: cfg.RenewalSchedule,
			Window:   cfg.RenewalWindow,
		}, logger.Zerolog("renewal"))
	}

	deps.LoginLimiter = middleware.NewRateLimiter(cfg.LoginRateLimit, time.Minute)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}
