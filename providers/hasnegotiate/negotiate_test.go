package hasnegotiate

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jamesread/authchain/authpublic"
	"github.com/jamesread/authchain/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	users map[string]*authpublic.UserRecord
}

func (d *fakeDirectory) LookupUser(ctx context.Context, username string) (*authpublic.UserRecord, error) {
	user, ok := d.users[username]
	if !ok {
		return nil, authpublic.ErrUserNotFound
	}
	return user, nil
}

func newTestProvider(t *testing.T) (*Provider, *tokens.Manager) {
	t.Helper()

	mgr, err := tokens.New([]byte("test-secret"), time.Minute)
	require.NoError(t, err)

	dir := &fakeDirectory{
		users: map[string]*authpublic.UserRecord{
			"alice": {Username: "alice", Usergroup: "admins", ChallengeKey: "alice-shared-key"},
		},
	}

	p, err := New(&authpublic.NegotiateOptions{Realm: "example"}, authpublic.ProviderDeps{
		Directory: dir,
		Tokens:    mgr,
	})
	require.NoError(t, err)

	return p, mgr
}

func loginValue(t *testing.T, username, response string) []byte {
	t.Helper()

	value, err := json.Marshal(credential{Username: username, Response: response})
	require.NoError(t, err)
	return value
}

func TestNewRequiresRealmDirectoryAndTokens(t *testing.T) {
	mgr, err := tokens.New([]byte("s"), time.Minute)
	require.NoError(t, err)
	dir := &fakeDirectory{}

	_, err = New(nil, authpublic.ProviderDeps{Directory: dir, Tokens: mgr})
	assert.Error(t, err)

	_, err = New(&authpublic.NegotiateOptions{Realm: "example"}, authpublic.ProviderDeps{Tokens: mgr})
	assert.Error(t, err)

	_, err = New(&authpublic.NegotiateOptions{Realm: "example"}, authpublic.ProviderDeps{Directory: dir})
	assert.Error(t, err)
}

func TestLoginFirstStepIssuesChallenge(t *testing.T) {
	p, mgr := newTestProvider(t)
	req := httptest.NewRequest("POST", "/login", nil)

	res := p.Login(context.Background(), req, loginValue(t, "alice", ""), nil)

	require.True(t, res.IsRedirected())
	assert.True(t, strings.HasSuffix(res.Location(), "/auth/challenge"))
	require.True(t, res.ShouldUpdateState())

	var pending challengeState
	require.NoError(t, json.Unmarshal(res.State(), &pending))

	claims, err := mgr.Verify(pending.Challenge)
	require.NoError(t, err)
	assert.Equal(t, "alice", tokens.Subject(claims))
	assert.Equal(t, "example", claims["realm"])
	assert.NotEmpty(t, claims["nonce"])
}

// completeChallenge runs the first login step and answers the challenge with
// the given key, returning the second step's result.
func completeChallenge(t *testing.T, p *Provider, mgr *tokens.Manager, username, key string) *authpublic.AuthenticationResult {
	t.Helper()

	req := httptest.NewRequest("POST", "/login", nil)

	first := p.Login(context.Background(), req, loginValue(t, username, ""), nil)
	require.True(t, first.IsRedirected())

	var pending challengeState
	require.NoError(t, json.Unmarshal(first.State(), &pending))

	claims, err := mgr.Verify(pending.Challenge)
	require.NoError(t, err)
	nonce, _ := claims["nonce"].(string)

	response := ComputeResponse(key, nonce)
	return p.Login(context.Background(), req, loginValue(t, username, response), first.State())
}

func TestLoginSecondStepVerifiesResponse(t *testing.T) {
	p, mgr := newTestProvider(t)

	res := completeChallenge(t, p, mgr, "alice", "alice-shared-key")

	require.True(t, res.IsSucceeded())
	assert.Equal(t, "alice", res.User().Username)
	assert.Equal(t, "admins", res.User().Usergroup)
	assert.Equal(t, "negotiate", res.User().Provider)
	require.True(t, res.ShouldUpdateState())

	var snap sessionState
	require.NoError(t, json.Unmarshal(res.State(), &snap))
	assert.Equal(t, "alice", snap.Username)
}

func TestLoginSecondStepWrongKey(t *testing.T) {
	p, mgr := newTestProvider(t)

	res := completeChallenge(t, p, mgr, "alice", "not-the-key")

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
	assert.False(t, res.ShouldClearState(), "a wrong response can be retried against the same challenge")
}

func TestLoginResponseWithoutPendingChallenge(t *testing.T) {
	p, _ := newTestProvider(t)
	req := httptest.NewRequest("POST", "/login", nil)

	res := p.Login(context.Background(), req, loginValue(t, "alice", "deadbeef"), nil)

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
}

func TestLoginChallengeBoundToUsername(t *testing.T) {
	p, mgr := newTestProvider(t)
	req := httptest.NewRequest("POST", "/login", nil)

	first := p.Login(context.Background(), req, loginValue(t, "alice", ""), nil)
	require.True(t, first.IsRedirected())

	var pending challengeState
	require.NoError(t, json.Unmarshal(first.State(), &pending))

	claims, err := mgr.Verify(pending.Challenge)
	require.NoError(t, err)
	nonce, _ := claims["nonce"].(string)

	// Answering alice's challenge as a different user must be rejected and
	// the stale challenge discarded.
	res := p.Login(context.Background(), req, loginValue(t, "mallory", ComputeResponse("alice-shared-key", nonce)), first.State())

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
	assert.True(t, res.ShouldClearState())
}

func TestLoginMalformedCredential(t *testing.T) {
	p, _ := newTestProvider(t)
	req := httptest.NewRequest("POST", "/login", nil)

	res := p.Login(context.Background(), req, []byte("not json"), nil)

	require.True(t, res.IsFailed())
	assert.False(t, authpublic.IsUnauthorized(res.Error()))
}

func TestAuthenticateAcceptsVerifiedSession(t *testing.T) {
	p, _ := newTestProvider(t)
	req := httptest.NewRequest("GET", "/", nil)

	state, err := json.Marshal(sessionState{Username: "alice"})
	require.NoError(t, err)

	res := p.Authenticate(context.Background(), req, state)

	require.True(t, res.IsSucceeded())
	assert.Equal(t, "alice", res.User().Username)
}

func TestAuthenticatePendingChallengeIsNotHandled(t *testing.T) {
	p, mgr := newTestProvider(t)
	req := httptest.NewRequest("GET", "/", nil)

	challenge, err := mgr.Issue("alice", map[string]any{"nonce": "n"})
	require.NoError(t, err)

	state, err := json.Marshal(challengeState{Challenge: challenge})
	require.NoError(t, err)

	res := p.Authenticate(context.Background(), req, state)
	assert.True(t, res.IsNotHandled())
}

func TestAuthenticateRejectsVanishedUser(t *testing.T) {
	p, _ := newTestProvider(t)
	req := httptest.NewRequest("GET", "/", nil)

	state, err := json.Marshal(sessionState{Username: "ghost"})
	require.NoError(t, err)

	res := p.Authenticate(context.Background(), req, state)

	require.True(t, res.IsFailed())
	assert.True(t, authpublic.IsUnauthorized(res.Error()))
}

func TestComputeResponseIsDeterministic(t *testing.T) {
	a := ComputeResponse("key", "nonce")
	b := ComputeResponse("key", "nonce")
	c := ComputeResponse("other", "nonce")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestLogoutIsNotHandled(t *testing.T) {
	p, _ := newTestProvider(t)
	req := httptest.NewRequest("POST", "/logout", nil)

	res := p.Logout(context.Background(), req, nil)
	assert.True(t, res.IsNotHandled())
}
