package outlook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"notifier_server/core/domain"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/metrics"
	"notifier_server/pkg/resilience"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func newGraphServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if response != "" {
			_, _ = w.Write([]byte(response))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestCreateSubscription(t *testing.T) {
	srv, reqs := newGraphServer(t, http.StatusCreated, `{
		"id": "7f105c7d-2dc5-4530-97cd-4e7ae6534c07",
		"resource": "me/mailFolders('inbox')/messages",
		"changeType": "created",
		"notificationUrl": "https://example.com/webhook",
		"expirationDateTime": "2024-03-04T12:00:00.0000000Z"
	}`)
	client := NewClient(srv.Client(), srv.URL, nil)

	expiry := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	sub, err := client.CreateSubscription(context.Background(), &domain.SubscriptionRequest{
		ChangeType:         domain.ChangeTypeCreated,
		NotificationURL:    "https://example.com/webhook",
		Resource:           domain.InboxMessagesResource,
		ExpirationDateTime: expiry,
		ClientState:        "secret-value",
	})
	require.NoError(t, err)

	assert.Equal(t, "7f105c7d-2dc5-4530-97cd-4e7ae6534c07", sub.ID)
	assert.True(t, expiry.Equal(sub.ExpirationDateTime))

	require.Len(t, *reqs, 1)
	req := (*reqs)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/subscriptions", req.Path)
	assert.Equal(t, "created", req.Body["changeType"])
	assert.Equal(t, "me/mailFolders('inbox')/messages", req.Body["resource"])
	assert.Equal(t, "secret-value", req.Body["clientState"])
	assert.Equal(t, "https://example.com/webhook", req.Body["notificationUrl"])
	assert.NotContains(t, req.Body, "lifecycleNotificationUrl")
}

func TestUpdateSubscription(t *testing.T) {
	srv, reqs := newGraphServer(t, http.StatusOK, `{"id":"sub1","expirationDateTime":"2024-03-04T12:00:00Z"}`)
	client := NewClient(srv.Client(), srv.URL, nil)

	expiry := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	sub, err := client.UpdateSubscription(context.Background(), "sub1", expiry)
	require.NoError(t, err)
	assert.Equal(t, "sub1", sub.ID)
	assert.True(t, expiry.Equal(sub.ExpirationDateTime))

	req := (*reqs)[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/subscriptions/sub1", req.Path)
	assert.Equal(t, map[string]any{"expirationDateTime": "2024-03-04T12:00:00Z"}, req.Body)
}

func TestUpdateSubscription_EmptyResponse(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusNoContent, "")
	client := NewClient(srv.Client(), srv.URL, nil)

	expiry := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	sub, err := client.UpdateSubscription(context.Background(), "sub1", expiry)
	require.NoError(t, err)
	assert.Equal(t, "sub1", sub.ID)
	assert.Equal(t, expiry, sub.ExpirationDateTime)
}

func TestDeleteSubscription(t *testing.T) {
	srv, reqs := newGraphServer(t, http.StatusNoContent, "")
	client := NewClient(srv.Client(), srv.URL, nil)

	require.NoError(t, client.DeleteSubscription(context.Background(), "sub1"))
	assert.Equal(t, http.MethodDelete, (*reqs)[0].Method)
	assert.Equal(t, "/subscriptions/sub1", (*reqs)[0].Path)
}

func TestClient_RecordsCallMetrics(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusNotFound, `{"error":{"code":"ResourceNotFound","message":"gone"}}`)
	reg := metrics.NewRegistry(10)
	client := NewClient(srv.Client(), srv.URL, nil).WithMetrics(reg)

	_ = client.DeleteSubscription(context.Background(), "sub1")
	_ = client.DeleteSubscription(context.Background(), "sub2")

	stats := reg.Snapshot()["delete subscription"]
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(2), stats.Errors)
}

func TestGetMessage(t *testing.T) {
	srv, reqs := newGraphServer(t, http.StatusOK, `{
		"id": "AAMk123",
		"subject": "Quarterly report",
		"receivedDateTime": "2024-03-01T09:30:00Z",
		"sentDateTime": "2024-03-01T09:29:58Z",
		"importance": "high",
		"webLink": "https://outlook.office365.com/owa/?ItemID=AAMk123",
		"body": {"contentType": "html", "content": "<p>hi</p>"},
		"from": {"emailAddress": {"name": "Ann Lee", "address": "ann@example.com"}},
		"toRecipients": [
			{"emailAddress": {"name": "Bob", "address": "bob@example.com"}},
			{"emailAddress": {"address": "team@example.com"}}
		]
	}`)
	client := NewClient(srv.Client(), srv.URL, nil)

	msg, err := client.GetMessage(context.Background(), "AAMk123")
	require.NoError(t, err)

	assert.Equal(t, "/me/messages/AAMk123", (*reqs)[0].Path)
	assert.Contains(t, (*reqs)[0].Query, "%24select=")

	assert.Equal(t, "AAMk123", msg.ID)
	assert.Equal(t, "Quarterly report", msg.Subject)
	assert.Equal(t, "high", msg.Importance)
	assert.Equal(t, "html", msg.BodyType)
	assert.Equal(t, "<p>hi</p>", msg.BodyContent)
	assert.Equal(t, "Ann Lee <ann@example.com>", msg.From.String())
	require.Len(t, msg.To, 2)
	assert.Equal(t, "Bob <bob@example.com>", msg.To[0].String())
	assert.Equal(t, "team@example.com", msg.To[1].String())
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), msg.ReceivedDateTime.UTC())
	assert.Equal(t, time.Date(2024, 3, 1, 9, 29, 58, 0, time.UTC), msg.SentDateTime.UTC())
}

func TestGetMessage_EscapesID(t *testing.T) {
	srv, reqs := newGraphServer(t, http.StatusOK, `{"id":"a/b"}`)
	client := NewClient(srv.Client(), srv.URL, nil)

	_, err := client.GetMessage(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/me/messages/a%2Fb", (*reqs)[0].Path)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"ResourceNotFound","message":"gone"}}`, "ResourceNotFound: gone"},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`, "unauthorized"},
		{"throttled", http.StatusTooManyRequests, `{"error":{"code":"TooManyRequests","message":"slow down"}}`, "rate limited"},
		{"server error", http.StatusInternalServerError, `oops`, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newGraphServer(t, tt.status, tt.body)
			client := NewClient(srv.Client(), srv.URL, nil)

			_, err := client.GetMessage(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeProviderError))
			assert.Equal(t, tt.status, apperr.ProviderStatus(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTransportError(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusOK, "{}")
	url := srv.URL
	srv.Close()

	client := NewClient(http.DefaultClient, url, nil)
	_, err := client.GetMessage(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeProviderError))
	assert.Zero(t, apperr.ProviderStatus(err))
}

func TestNewTokenClient_SetsBearer(t *testing.T) {
	srv, reqs := newGraphServer(t, http.StatusOK, `{"id":"m1"}`)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at-1", TokenType: "Bearer"})
	client := NewTokenClient(ts, srv.Client(), srv.URL, nil)

	_, err := client.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer at-1", (*reqs)[0].Auth)
}

func TestBreaker(t *testing.T) {
	var calls atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	cfg := resilience.DefaultCircuitBreakerConfig("graph-test")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	cfg.IsFailure = IsBreakerFailure
	client := NewClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker(cfg))

	// 404s do not trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := client.GetMessage(context.Background(), "x")
		assert.Equal(t, http.StatusNotFound, apperr.ProviderStatus(err))
	}
	assert.EqualValues(t, 3, calls.Load())

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		_, err := client.GetMessage(context.Background(), "x")
		assert.Equal(t, http.StatusServiceUnavailable, apperr.ProviderStatus(err))
	}
	assert.EqualValues(t, 5, calls.Load())

	_, err := client.GetMessage(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsOpen(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeProviderError))
	assert.EqualValues(t, 5, calls.Load())
}

func TestIsBreakerFailure(t *testing.T) {
	assert.False(t, IsBreakerFailure(nil))
	assert.False(t, IsBreakerFailure(apperr.AuthError("", nil)))
	assert.False(t, IsBreakerFailure(apperr.ProviderError("op", 403, nil)))
	assert.True(t, IsBreakerFailure(apperr.ProviderError("op", 429, nil)))
	assert.True(t, IsBreakerFailure(apperr.ProviderError("op", 502, nil)))
	assert.True(t, IsBreakerFailure(apperr.ProviderError("op", 0, io.ErrUnexpectedEOF)))
}
