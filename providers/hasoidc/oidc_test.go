package hasoidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesread/authchain/authpublic"
	"github.com/jamesread/authchain/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() *authpublic.OIDCOptions {
	return &authpublic.OIDCOptions{
		ClientID:     "client-1",
		ClientSecret: "hunter2",
		AuthURL:      "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
		RedirectURL:  "https://sp.example.com/callback",
	}
}

func newTestProvider(t *testing.T, opts *authpublic.OIDCOptions) *Provider {
	t.Helper()

	mgr, err := tokens.New([]byte("test-secret"), time.Minute)
	require.NoError(t, err)

	p, err := New(opts, authpublic.ProviderDeps{Tokens: mgr})
	require.NoError(t, err)
	return p
}

func callbackValue(t *testing.T, code, state string) []byte {
	t.Helper()

	value, err := json.Marshal(callbackPayload{Code: code, State: state})
	require.NoError(t, err)
	return value
}

// idTokenServer serves the token endpoint, answering every code exchange with
// the given ID token.
func idTokenServer(t *testing.T, idToken string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		}))
	}))
	t.Cleanup(server.Close)
	return server
}

func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-secret"))
	require.NoError(t, err)
	return signed
}

func TestNewRequiresEndpoints(t *testing.T) {
	mgr, err := tokens.New([]byte("s"), time.Minute)
	require.NoError(t, err)

	_, err = New(nil, authpublic.ProviderDeps{Tokens: mgr})
	assert.Error(t, err)

	opts := testOptions()
	opts.TokenURL = ""
	_, err = New(opts, authpublic.ProviderDeps{Tokens: mgr})
	assert.Error(t, err)

	_, err = New(testOptions(), authpublic.ProviderDeps{})
	assert.Error(t, err)
}

func TestLoginFirstStepRedirectsToIdP(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("POST", "/login", nil)

	res := p.Login(context.Background(), req, nil, nil)

	require.True(t, res.IsRedirected())
	require.True(t, res.ShouldUpdateState())
	assert.True(t, strings.HasPrefix(res.Location(), "https://idp.example.com/authorize"))

	var pending pendingState
	require.NoError(t, json.Unmarshal(res.State(), &pending))
	assert.Contains(t, res.Location(), "state=", "authorization URL carries the state parameter")
	assert.NotEmpty(t, pending.State)
}

func TestLoginCompletionExchangesCode(t *testing.T) {
	idToken := signIDToken(t, jwt.MapClaims{
		"sub":    "alice",
		"groups": "admins",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	server := idTokenServer(t, idToken)

	opts := testOptions()
	opts.TokenURL = server.URL
	opts.ClaimUsergroup = "groups"
	p := newTestProvider(t, opts)

	req := httptest.NewRequest("POST", "/login", nil)

	first := p.Login(context.Background(), req, nil, nil)
	require.True(t, first.IsRedirected())

	var pending pendingState
	require.NoError(t, json.Unmarshal(first.State(), &pending))

	res := p.Login(context.Background(), req, callbackValue(t, "code-1", pending.State), first.State())

	require.True(t, res.IsSucceeded())
	assert.Equal(t, "alice", res.User().Username)
	assert.Equal(t, "admins", res.User().Usergroup)
	assert.Equal(t, "oidc", res.User().Provider)
	require.True(t, res.ShouldUpdateState())

	var snap sessionState
	require.NoError(t, json.Unmarshal(res.State(), &snap))
	assert.Equal(t, "alice", snap.Username)
}

func TestLoginCompletionRejectsStateMismatch(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("POST", "/login", nil)

	first := p.Login(context.Background(), req, nil, nil)
	require.True(t, first.IsRedirected())

	res := p.Login(context.Background(), req, callbackValue(t, "code-1", "forged"), first.State())

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
	assert.True(t, res.ShouldClearState(), "a forged state discards the pending request")
}

func TestLoginCompletionWithoutPendingRequest(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("POST", "/login", nil)

	res := p.Login(context.Background(), req, callbackValue(t, "code-1", "anything"), nil)

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
}

func TestLoginCompletionRejectsMissingIDToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(server.Close)

	opts := testOptions()
	opts.TokenURL = server.URL
	p := newTestProvider(t, opts)

	req := httptest.NewRequest("POST", "/login", nil)

	first := p.Login(context.Background(), req, nil, nil)
	require.True(t, first.IsRedirected())

	var pending pendingState
	require.NoError(t, json.Unmarshal(first.State(), &pending))

	res := p.Login(context.Background(), req, callbackValue(t, "code-1", pending.State), first.State())

	require.True(t, res.IsFailed())
	assert.False(t, authpublic.IsUnauthorized(res.Error()), "a broken identity provider is not the client's fault")
}

func TestLoginMalformedPayload(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("POST", "/login", nil)

	res := p.Login(context.Background(), req, []byte("not json"), nil)

	require.True(t, res.IsFailed())
	assert.False(t, authpublic.IsUnauthorized(res.Error()))
}

func TestAuthenticateFromSnapshot(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("GET", "/", nil)

	state, err := json.Marshal(sessionState{Username: "alice", Usergroup: "admins"})
	require.NoError(t, err)

	res := p.Authenticate(context.Background(), req, state)

	require.True(t, res.IsSucceeded())
	assert.Equal(t, "alice", res.User().Username)
}

func TestAuthenticateExpiredSnapshot(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("GET", "/", nil)

	state, err := json.Marshal(sessionState{Username: "alice", ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	res := p.Authenticate(context.Background(), req, state)

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
}

func TestAuthenticatePendingRedirectIsNotHandled(t *testing.T) {
	p := newTestProvider(t, testOptions())
	req := httptest.NewRequest("GET", "/", nil)

	state, err := json.Marshal(pendingState{State: "s-1"})
	require.NoError(t, err)

	res := p.Authenticate(context.Background(), req, state)
	assert.True(t, res.IsNotHandled())
}

func TestLogoutRedirectsToEndSession(t *testing.T) {
	opts := testOptions()
	opts.EndSessionURL = "https://idp.example.com/logout"
	p := newTestProvider(t, opts)

	res := p.Logout(context.Background(), httptest.NewRequest("POST", "/logout", nil), nil)

	require.True(t, res.IsRedirected())
	assert.Equal(t, "https://idp.example.com/logout", res.Location())
}

func TestLogoutWithoutEndSessionIsNotHandled(t *testing.T) {
	p := newTestProvider(t, testOptions())

	res := p.Logout(context.Background(), httptest.NewRequest("POST", "/logout", nil), nil)
	assert.True(t, res.IsNotHandled())
}
