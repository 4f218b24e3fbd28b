package bootstrap

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifier_server/config"
	"notifier_server/core/domain"
	"notifier_server/core/port/out"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                     "0",
		Environment:              "test",
		ClientID:                 "client-id",
		ClientSecret:             "client-secret",
		TenantID:                 "common",
		RedirectURI:              "https://app.example.com/callback",
		StateSecret:              "state-secret",
		GraphBaseURL:             "https://graph.example.com/v1.0",
		GraphTimeout:             5 * time.Second,
		BreakerMaxFailures:       5,
		BreakerOpenTimeout:       30 * time.Second,
		WebhookURL:               "https://app.example.com/webhook",
		ClientState:              "secret-value",
		NotificationMissedPolicy: config.MissedRecreate,
		LifecycleMissedPolicy:    config.MissedRenew,
		RenewalEnabled:           true,
		RenewalSchedule:          "@every 1h",
		RenewalWindow:            24 * time.Hour,
		FetchMode:                config.FetchModeSync,
		FetchMaxAttempts:         1,
		DedupTTL:                 5 * time.Minute,
		DedupCacheSize:           100,
		LoginRateLimit:           30,
	}
}

func TestNewDependencies_Defaults(t *testing.T) {
	deps, cleanup, err := NewDependencies(testConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.FetchQueue)
	assert.NotNil(t, deps.RenewalScheduler)
	assert.NotNil(t, deps.Dispatcher)
	assert.Equal(t, "graph", deps.GraphBreaker.Name())
}

func TestNewDependencies_QueueModeAndNoRenewal(t *testing.T) {
	cfg := testConfig()
	cfg.FetchMode = config.FetchModeQueue
	cfg.FetchWorkers = 2
	cfg.FetchQueueSize = 10
	cfg.RenewalEnabled = false

	deps, cleanup, err := NewDependencies(cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.FetchQueue)
	assert.Nil(t, deps.RenewalScheduler)
}

func TestNewDependencies_BadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.RenewalSchedule = "every now and then"

	_, _, err := NewDependencies(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RENEWAL_SCHEDULE")
}

func do(t *testing.T, cfg *config.Config, method, target, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	deps, cleanup, err := NewDependencies(cfg)
	require.NoError(t, err)
	defer cleanup()
	app := NewAPI(cfg, deps)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestAPI_Routes(t *testing.T) {
	cfg := testConfig()

	resp, body := do(t, cfg, http.MethodPost, "/webhook?validationToken=abc123", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc123", body)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = do(t, cfg, http.MethodGet, "/webhook/lifecycle?validationToken=abc123", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc123", body)

	resp, body = do(t, cfg, http.MethodPost, "/webhook",
		`{"value":[{"clientState":"wrong","changeType":"created","resourceData":{"id":"X"}}]}`,
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Empty(t, body)

	resp, _ = do(t, cfg, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, cfg, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "response_mode=query")

	resp, body = do(t, cfg, http.MethodGet, "/callback", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Authorization failed. No code provided.", body)
}

func TestAPI_LifecycleWithoutCredential(t *testing.T) {
	resp, body := do(t, testConfig(), http.MethodPost, "/webhook/lifecycle",
		`{"value":[{"clientState":"secret-value","lifecycleEvent":"deleted","subscriptionId":"sub1"}]}`,
		map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, `"error"`)
}

func TestAPI_ManagementRoutes(t *testing.T) {
	cfg := testConfig()

	resp, _ := do(t, cfg, http.MethodGet, "/api/v1/subscriptions", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cfg.AdminAPIKey = "admin-key"

	resp, _ = do(t, cfg, http.MethodGet, "/api/v1/subscriptions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, cfg, http.MethodGet, "/api/v1/subscriptions", "", map[string]string{"X-API-Key": "admin-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"count":0`)
}

func TestAPI_Stats(t *testing.T) {
	cfg := testConfig()
	cfg.AdminAPIKey = "admin-key"

	resp, body := do(t, cfg, http.MethodGet, "/api/v1/stats", "", map[string]string{"X-API-Key": "admin-key"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"graph_breaker":"closed"`)
	assert.Contains(t, body, `"webhook"`)
	assert.NotContains(t, body, `"fetch_queue"`)
}

type countingMailClient struct {
	fetched []string
}

func (c *countingMailClient) CreateSubscription(context.Context, *domain.SubscriptionRequest) (*domain.Subscription, error) {
	return nil, errors.New("not used")
}

func (c *countingMailClient) UpdateSubscription(context.Context, string, time.Time) (*domain.Subscription, error) {
	return nil, errors.New("not used")
}

func (c *countingMailClient) DeleteSubscription(context.Context, string) error {
	return errors.New("not used")
}

func (c *countingMailClient) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	c.fetched = append(c.fetched, id)
	return &domain.Message{ID: id, Subject: "hello"}, nil
}

func deliverTwice(t *testing.T, cfg *config.Config) (*countingMailClient, *domain.DispatchReport) {
	t.Helper()
	deps, cleanup, err := NewDependencies(cfg)
	require.NoError(t, err)
	defer cleanup()

	client := &countingMailClient{}
	clients := out.ClientProviderFunc(func(context.Context) (out.MailClient, error) { return client, nil })
	payload := &domain.NotificationPayload{Value: []domain.NotificationEvent{{
		ClientState:  "secret-value",
		ChangeType:   domain.ChangeTypeCreated,
		ResourceData: &domain.ResourceData{ID: "AAMk123"},
	}}}

	deps.Dispatcher.HandleNotifications(context.Background(), clients, payload)
	report := deps.Dispatcher.HandleNotifications(context.Background(), clients, payload)
	return client, report
}

func TestDispatcher_DefaultConfigFetchesEveryDelivery(t *testing.T) {
	client, report := deliverTwice(t, testConfig())

	assert.Equal(t, []string{"AAMk123", "AAMk123"}, client.fetched)
	assert.Equal(t, 1, report.Fetched)
	assert.Zero(t, report.Duplicate)
}

func TestDispatcher_DedupEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.DedupEnabled = true

	client, report := deliverTwice(t, cfg)

	assert.Equal(t, []string{"AAMk123"}, client.fetched)
	assert.Equal(t, 1, report.Duplicate)
}
