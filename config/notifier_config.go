package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Missed-notification policies.
const (
	MissedRenew    = "renew"
	MissedRecreate = "recreate"
)

// Fetch modes.
const (
	FetchModeSync  = "sync"
	FetchModeQueue = "queue"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8000"`
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// OAuth - Microsoft
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET,required"`
	TenantID     string `env:"TENANT_ID" envDefault:"common"`
	RedirectURI  string `env:"REDIRECT_URI,required"`
	StateSecret  string `env:"STATE_SECRET"`

	// Graph
	GraphBaseURL       string        `env:"GRAPH_API_BASE_URL" envDefault:"https://graph.microsoft.com/v1.0"`
	GraphTimeout       time.Duration `env:"GRAPH_TIMEOUT" envDefault:"30s"`
	BreakerMaxFailures uint32        `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`

	// Subscription
	WebhookURL          string `env:"WEBHOOK_URL,required"`
	LifecycleWebhookURL string `env:"LIFECYCLE_WEBHOOK_URL"`
	ClientState         string `env:"CLIENT_STATE,required"`

	// Missed lifecycle events: the notification endpoint recreates and the
	// lifecycle endpoint renews unless overridden.
	NotificationMissedPolicy string `env:"NOTIFICATION_MISSED_POLICY" envDefault:"recreate"`
	LifecycleMissedPolicy    string `env:"LIFECYCLE_MISSED_POLICY" envDefault:"renew"`

	// Renewal
	RenewalEnabled  bool          `env:"RENEWAL_ENABLED" envDefault:"true"`
	RenewalSchedule string        `env:"RENEWAL_SCHEDULE" envDefault:"@every 1h"`
	RenewalWindow   time.Duration `env:"RENEWAL_WINDOW" envDefault:"24h"`

	// Fetch
	FetchMode        string        `env:"FETCH_MODE" envDefault:"sync"`
	FetchWorkers     int           `env:"FETCH_WORKERS" envDefault:"4"`
	FetchQueueSize   int           `env:"FETCH_QUEUE_SIZE" envDefault:"100"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	FetchMaxAttempts int           `env:"FETCH_MAX_ATTEMPTS" envDefault:"1"`

	// Redis (optional: dedup, subscription registry, OAuth state)
	RedisURL      string `env:"REDIS_URL"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Dedup is off unless enabled. It uses Redis when configured, else an
	// in-process cache of DedupCacheSize entries.
	DedupEnabled   bool          `env:"DEDUP_ENABLED" envDefault:"false"`
	DedupTTL       time.Duration `env:"DEDUP_TTL" envDefault:"5m"`
	DedupCacheSize int           `env:"DEDUP_CACHE_SIZE" envDefault:"10000"`

	// Login and callback requests per client IP per minute.
	LoginRateLimit int `env:"LOGIN_RATE_LIMIT" envDefault:"30"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Management API (disabled when empty)
	AdminAPIKey string `env:"ADMIN_API_KEY"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.StateSecret == "" {
		cfg.StateSecret = cfg.ClientSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the inputs that must be correct before the server starts.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ClientState) == "" {
		problems = append(problems, "CLIENT_STATE must not be blank")
	}
	for name, raw := range map[string]string{
		"REDIRECT_URI":       c.RedirectURI,
		"WEBHOOK_URL":        c.WebhookURL,
		"GRAPH_API_BASE_URL": c.GraphBaseURL,
	} {
		if err := checkURL(raw); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if c.LifecycleWebhookURL != "" {
		if err := checkURL(c.LifecycleWebhookURL); err != nil {
			problems = append(problems, fmt.Sprintf("LIFECYCLE_WEBHOOK_URL: %v", err))
		}
	}
	if !validPolicy(c.NotificationMissedPolicy) {
		problems = append(problems, fmt.Sprintf("NOTIFICATION_MISSED_POLICY: unknown policy %q", c.NotificationMissedPolicy))
	}
	if !validPolicy(c.LifecycleMissedPolicy) {
		problems = append(problems, fmt.Sprintf("LIFECYCLE_MISSED_POLICY: unknown policy %q", c.LifecycleMissedPolicy))
	}
	switch c.FetchMode {
	case FetchModeSync:
	case FetchModeQueue:
		if c.FetchWorkers < 1 {
			problems = append(problems, "FETCH_WORKERS must be at least 1")
		}
		if c.FetchQueueSize < 1 {
			problems = append(problems, "FETCH_QUEUE_SIZE must be at least 1")
		}
	default:
		problems = append(problems, fmt.Sprintf("FETCH_MODE: unknown mode %q", c.FetchMode))
	}
	if c.FetchMaxAttempts < 1 {
		problems = append(problems, "FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.DedupCacheSize < 0 {
		problems = append(problems, "DEDUP_CACHE_SIZE must not be negative")
	}
	if c.DedupEnabled {
		if c.DedupTTL <= 0 {
			problems = append(problems, "DEDUP_TTL must be positive when DEDUP_ENABLED is set")
		}
		if c.RedisURL == "" && c.DedupCacheSize == 0 {
			problems = append(problems, "DEDUP_CACHE_SIZE must be at least 1 when DEDUP_ENABLED is set without REDIS_URL")
		}
	}
	if c.LoginRateLimit < 1 {
		problems = append(problems, "LOGIN_RATE_LIMIT must be at least 1")
	}
	if c.RenewalWindow <= 0 {
		problems = append(problems, "RENEWAL_WINDOW must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func validPolicy(p string) bool {
	return p == MissedRenew || p == MissedRecreate
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
