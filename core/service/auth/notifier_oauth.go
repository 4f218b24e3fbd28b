package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

// DefaultScopes are requested on every authorization.
var DefaultScopes = []string{"offline_access", "Mail.Read", "User.Read"}

const (
	stateTTL    = 10 * time.Minute
	stateIssuer = "notifier"
)

// ClientFactory builds a mail client on top of a token source.
type ClientFactory func(ts oauth2.TokenSource) out.MailClient

type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURI  string
	StateSecret  string
	Scopes       []string

	// HTTPClient is used for token exchange and refresh. Optional.
	HTTPClient *http.Client
}

// OAuthService drives the authorization-code flow and owns the resulting
// credential. It also serves as the ClientProvider for the rest of the app.
type OAuthService struct {
	oauth      *oauth2.Config
	stateKey   []byte
	httpClient *http.Client
	factory    ClientFactory
	store      *CredentialStore
	states     out.StateStore
}

func NewOAuthService(cfg Config, factory ClientFactory) *OAuthService {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	secret := cfg.StateSecret
	if secret == "" {
		secret = cfg.ClientSecret
	}

	return &OAuthService{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		stateKey:   []byte(secret),
		httpClient: cfg.HTTPClient,
		factory:    factory,
		store:      NewCredentialStore(),
	}
}

// SetEndpoint overrides the identity provider endpoint.
func (s *OAuthService) SetEndpoint(endpoint oauth2.Endpoint) {
	s.oauth.Endpoint = endpoint
}

// SetStateStore makes issued state values single-use.
func (s *OAuthService) SetStateStore(states out.StateStore) {
	s.states = states
}

// Store exposes the credential store.
func (s *OAuthService) Store() *CredentialStore {
	return s.store
}

func (s *OAuthService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// NewState issues a short-lived signed state value for CSRF protection.
func (s *OAuthService) NewState(ctx context.Context) (string, error) {
	now := time.Now()
	nonce := uuid.NewString()
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateKey)
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	if s.states != nil {
		if err := s.states.Remember(ctx, nonce, stateTTL); err != nil {
			return "", apperr.InternalWithError(err)
		}
	}
	return signed, nil
}

// VerifyState checks signature, issuer and expiry of a state value, and
// that it has not been used before when a state store is set.
func (s *OAuthService) VerifyState(ctx context.Context, state string) error {
	if strings.TrimSpace(state) == "" {
		return apperr.AuthError("missing state", nil)
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return s.stateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(stateIssuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperr.AuthError("state expired", err)
		}
		return apperr.AuthError("invalid state", err)
	}

	if s.states != nil {
		ok, err := s.states.Consume(ctx, claims.ID)
		if err != nil {
			return apperr.InternalWithError(err)
		}
		if !ok {
			return apperr.AuthError("state already used", nil)
		}
	}
	return nil
}

// Connect exchanges an authorization code and makes the resulting
// credential current. The token source refreshes itself.
func (s *OAuthService) Connect(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return apperr.AuthError("no authorization code", nil)
	}

	token, err := s.oauth.Exchange(s.withHTTPClient(ctx), code)
	if err != nil {
		logger.WithError(err).Error("[OAuthService.Connect] token exchange failed")
		return apperr.AuthError("token exchange failed", err)
	}

	// Refreshes happen long after this request ends.
	ts := s.oauth.TokenSource(s.withHTTPClient(context.Background()), token)
	s.store.Set(oauth2.ReuseTokenSource(token, ts))

	logger.Info("[OAuthService.Connect] credential stored, access token expires %s", token.Expiry.Format(time.RFC3339))
	return nil
}

// Client returns a mail client bound to the current credential.
func (s *OAuthService) Client(_ context.Context) (out.MailClient, error) {
	ts := s.store.Get()
	if ts == nil {
		return nil, apperr.AuthError("no credential, sign in first", nil)
	}
	if s.factory == nil {
		return nil, apperr.ConfigError("mail client factory not configured")
	}
	return s.store.client(ts, s.factory), nil
}

func (s *OAuthService) withHTTPClient(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// CredentialStore holds the current token source in memory.
type CredentialStore struct {
	mu     sync.RWMutex
	ts     oauth2.TokenSource
	cached out.MailClient
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

func (c *CredentialStore) Set(ts oauth2.TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = ts
	c.cached = nil
}

func (c *CredentialStore) Get() oauth2.TokenSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ts
}

func (c *CredentialStore) Clear() {
	c.Set(nil)
}

func (c *CredentialStore) HasCredential() bool {
	return c.Get() != nil
}

// client reuses one mail client per token source.
func (c *CredentialStore) client(ts oauth2.TokenSource, factory ClientFactory) out.MailClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || c.ts != ts {
		c.cached = factory(ts)
	}
	return c.cached
}
