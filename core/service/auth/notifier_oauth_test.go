package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"notifier_server/core/port/out"
	"notifier_server/pkg/apperr"
)

type tokenClient struct {
	out.MailClient
	ts oauth2.TokenSource
}

func newTestService(factory ClientFactory) *OAuthService {
	return NewOAuthService(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "contoso",
		RedirectURI:  "http://localhost:8000/callback",
		StateSecret:  "state-secret",
	}, factory)
}

func TestAuthURL(t *testing.T) {
	s := newTestService(nil)

	raw := s.AuthURL("xyz")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "login.microsoftonline.com", u.Host)
	assert.Equal(t, "/contoso/oauth2/v2.0/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://localhost:8000/callback", q.Get("redirect_uri"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, "offline_access Mail.Read User.Read", q.Get("scope"))
	assert.Equal(t, "xyz", q.Get("state"))
}

func TestState_RoundTrip(t *testing.T) {
	s := newTestService(nil)

	state, err := s.NewState(context.Background())
	require.NoError(t, err)
	assert.NoError(t, s.VerifyState(context.Background(), state))

	other, err := s.NewState(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, state, other)
}

func TestState_Rejected(t *testing.T) {
	s := newTestService(nil)
	good, err := s.NewState(context.Background())
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("state-secret"))
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("another-secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"tampered", good + "x"},
		{"expired", expired},
		{"wrong key", foreign},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.VerifyState(context.Background(), tt.state)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeAuthError))
		})
	}
}

func TestConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","refresh_token":"rt-1","expires_in":3600}`))
	}))
	defer srv.Close()

	s := newTestService(func(ts oauth2.TokenSource) out.MailClient {
		return &tokenClient{ts: ts}
	})
	s.SetEndpoint(oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	})

	_, err := s.Client(context.Background())
	assert.True(t, apperr.HasCode(err, apperr.CodeAuthError))

	err = s.Connect(context.Background(), "bad-code")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeAuthError))
	assert.False(t, s.Store().HasCredential())

	require.NoError(t, s.Connect(context.Background(), "good-code"))
	assert.True(t, s.Store().HasCredential())

	client, err := s.Client(context.Background())
	require.NoError(t, err)
	tok, err := client.(*tokenClient).ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)

	again, err := s.Client(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, again)
}

func TestConnect_EmptyCode(t *testing.T) {
	err := newTestService(nil).Connect(context.Background(), " ")
	assert.True(t, apperr.HasCode(err, apperr.CodeAuthError))
}

func TestCredentialStore(t *testing.T) {
	store := NewCredentialStore()
	assert.False(t, store.HasCredential())

	calls := 0
	factory := func(ts oauth2.TokenSource) out.MailClient {
		calls++
		return &tokenClient{ts: ts}
	}

	first := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a"})
	store.Set(first)
	c1 := store.client(first, factory)
	c2 := store.client(first, factory)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, calls)

	second := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "b"})
	store.Set(second)
	c3 := store.client(second, factory)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, 2, calls)

	store.Clear()
	assert.False(t, store.HasCredential())
}

type memoryStates struct {
	nonces map[string]bool
}

func (m *memoryStates) Remember(_ context.Context, nonce string, _ time.Duration) error {
	m.nonces[nonce] = true
	return nil
}

func (m *memoryStates) Consume(_ context.Context, nonce string) (bool, error) {
	ok := m.nonces[nonce]
	delete(m.nonces, nonce)
	return ok, nil
}

func TestState_SingleUse(t *testing.T) {
	s := newTestService(nil)
	s.SetStateStore(&memoryStates{nonces: map[string]bool{}})

	state, err := s.NewState(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.VerifyState(context.Background(), state))
	err = s.VerifyState(context.Background(), state)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeAuthError))
}
