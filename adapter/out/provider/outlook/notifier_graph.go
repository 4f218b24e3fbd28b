// Package outlook provides the Microsoft Graph mail adapter.
package outlook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"notifier_server/core/domain"
	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/metrics"
	"notifier_server/pkg/resilience"
)

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const messageFields = "id,subject,receivedDateTime,sentDateTime,from,toRecipients,importance,body,webLink"

// Client implements out.MailClient against Graph for one signed-in user.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *resilience.CircuitBreaker
	calls   *metrics.Registry
}

// NewClient creates a Graph client. httpClient must already authenticate
// its requests. breaker may be nil.
func NewClient(httpClient *http.Client, baseURL string, breaker *resilience.CircuitBreaker) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		breaker: breaker,
	}
}

// NewTokenClient creates a Graph client that authorizes with ts on top of
// base's transport and timeout.
func NewTokenClient(ts oauth2.TokenSource, base *http.Client, baseURL string, breaker *resilience.CircuitBreaker) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base.Transport},
		Timeout:   base.Timeout,
	}
	return NewClient(httpClient, baseURL, breaker)
}

// WithMetrics records per-operation latency and errors into reg.
func (c *Client) WithMetrics(reg *metrics.Registry) *Client {
	c.calls = reg
	return c
}

// IsBreakerFailure reports whether err should count against the breaker.
// Client errors say nothing about Graph's health, except throttling.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	if apperr.HasCode(err, apperr.CodeAuthError) {
		return false
	}
	status := apperr.ProviderStatus(err)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

// CreateSubscription creates a push notification subscription.
func (c *Client) CreateSubscription(ctx context.Context, req *domain.SubscriptionRequest) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := c.post(ctx, "create subscription", "/subscriptions", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscription sets a new expiry on an existing subscription.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID string, expiration time.Time) (*domain.Subscription, error) {
	body := map[string]string{
		"expirationDateTime": expiration.UTC().Format(time.RFC3339),
	}

	var sub domain.Subscription
	if err := c.patch(ctx, "renew subscription", "/subscriptions/"+url.PathEscape(subscriptionID), body, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		sub.ID = subscriptionID
	}
	if sub.ExpirationDateTime.IsZero() {
		sub.ExpirationDateTime = expiration.UTC()
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	return c.delete(ctx, "delete subscription", "/subscriptions/"+url.PathEscape(subscriptionID))
}

// GetMessage retrieves a message by ID.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	params := url.Values{}
	params.Set("$select", messageFields)

	var msg graphMessage
	if err := c.get(ctx, "get message", "/me/messages/"+url.PathEscape(messageID)+"?"+params.Encode(), &msg); err != nil {
		return nil, err
	}
	return convertMessage(&msg), nil
}

// HTTP helpers

func (c *Client) get(ctx context.Context, op, path string, result any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	return c.do(ctx, op, http.MethodPost, path, body, result)
}

func (c *Client) patch(ctx context.Context, op, path string, body, result any) error {
	return c.do(ctx, op, http.MethodPatch, path, body, result)
}

func (c *Client) delete(ctx context.Context, op, path string) error {
	return c.do(ctx, op, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, result any) (err error) {
	if c.calls != nil {
		start := time.Now()
		defer func() { c.calls.Observe(op, time.Since(start), err) }()
	}
	if c.breaker == nil {
		return c.doRequest(ctx, op, method, path, body, result)
	}

	err = c.breaker.Execute(func() error {
		return c.doRequest(ctx, op, method, path, body, result)
	})
	if resilience.IsOpen(err) {
		return apperr.ProviderError(op, 0, err).WithDetail("breaker", c.breaker.Name())
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.InternalWithError(err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return wrapHTTPError(op, resp.StatusCode, respBody)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
			return apperr.ProviderError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// wrapTransportError maps a failed round trip. A token that cannot be
// refreshed is an auth problem, not a provider one.
func wrapTransportError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return apperr.AuthError("token refresh failed", err)
	}
	return apperr.ProviderError(op, 0, err)
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func wrapHTTPError(op string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var ge graphError
	if json.Unmarshal(body, &ge) == nil && ge.Error.Code != "" {
		detail = ge.Error.Code + ": " + ge.Error.Message
	}

	var reason string
	switch status {
	case http.StatusUnauthorized:
		reason = "unauthorized"
	case http.StatusForbidden:
		reason = "forbidden"
	case http.StatusNotFound:
		reason = "not found"
	case http.StatusTooManyRequests:
		reason = "rate limited"
	default:
		reason = "graph API error"
	}

	return apperr.ProviderError(op, status, fmt.Errorf("%s: %d - %s", reason, status, detail))
}

// Graph API types

type graphMessage struct {
	ID               string           `json:"id"`
	Subject          string           `json:"subject"`
	Body             graphBody        `json:"body"`
	From             graphRecipient   `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	Importance       string           `json:"importance"`
	WebLink          string           `json:"webLink"`
	ReceivedDateTime string           `json:"receivedDateTime"`
	SentDateTime     string           `json:"sentDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func convertMessage(msg *graphMessage) *domain.Message {
	m := &domain.Message{
		ID:          msg.ID,
		Subject:     msg.Subject,
		From:        convertAddress(msg.From),
		Importance:  msg.Importance,
		BodyType:    msg.Body.ContentType,
		BodyContent: msg.Body.Content,
		WebLink:     msg.WebLink,
	}

	m.To = make([]domain.EmailAddress, len(msg.ToRecipients))
	for i, r := range msg.ToRecipients {
		m.To[i] = convertAddress(r)
	}

	m.ReceivedDateTime, _ = time.Parse(time.RFC3339, msg.ReceivedDateTime)
	m.SentDateTime, _ = time.Parse(time.RFC3339, msg.SentDateTime)

	return m
}

func convertAddress(r graphRecipient) domain.EmailAddress {
	return domain.EmailAddress{Name: r.EmailAddress.Name, Address: r.EmailAddress.Address}
}

// Ensure Client implements out.MailClient
var _ out.MailClient = (*Client)(nil)
