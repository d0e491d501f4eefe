// Package hasnegotiate implements a challenge/response mechanism. The first
// login call issues a signed challenge and redirects the client to answer
// it; the second login call verifies the HMAC response computed with the
// user's directory key. The challenge travels as intermediate session state
// between the two steps.
package hasnegotiate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jamesread/authchain/authpublic"
	"github.com/jamesread/authchain/tokens"
	log "github.com/sirupsen/logrus"
)

// credential is the expected shape of the opaque login value. Response is
// empty on the first step.
type credential struct {
	Username string `json:"username"`
	Response string `json:"response,omitempty"`
}

// challengeState is the intermediate state stored between the two login
// steps. The challenge token binds the nonce to the username and expires on
// its own.
type challengeState struct {
	Challenge string `json:"challenge"`
}

// sessionState is stored after the response verifies.
type sessionState struct {
	Username string `json:"username"`
}

type Provider struct {
	opts authpublic.NegotiateOptions
	deps authpublic.ProviderDeps
}

// New creates the challenge/response provider. It needs the directory for
// per-user challenge keys and the token manager to sign challenges.
func New(opts *authpublic.NegotiateOptions, deps authpublic.ProviderDeps) (*Provider, error) {
	if opts == nil || opts.Realm == "" {
		return nil, errors.New("negotiate provider requires a realm")
	}
	if deps.Directory == nil {
		return nil, errors.New("negotiate provider requires a directory client")
	}
	if deps.Tokens == nil {
		return nil, errors.New("negotiate provider requires a token manager")
	}

	return &Provider{opts: *opts, deps: deps}, nil
}

func (p *Provider) Name() string {
	return authpublic.ProviderNegotiate
}

func (p *Provider) Login(ctx context.Context, r *http.Request, value, state []byte) *authpublic.AuthenticationResult {
	var cred credential
	if err := json.Unmarshal(value, &cred); err != nil || cred.Username == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadRequest, errors.New("malformed negotiate credential")))
	}

	if cred.Response == "" {
		return p.issueChallenge(r, cred.Username)
	}

	return p.verifyResponse(ctx, cred, state)
}

// issueChallenge starts the exchange: a nonce bound to the username, signed
// so the second step can trust it without server-side bookkeeping.
func (p *Provider) issueChallenge(r *http.Request, username string) *authpublic.AuthenticationResult {
	nonce := uuid.NewString()

	challenge, err := p.deps.Tokens.Issue(username, map[string]any{
		"nonce": nonce,
		"realm": p.opts.Realm,
	})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	state, err := json.Marshal(challengeState{Challenge: challenge})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	destination := p.opts.GetChallengePath()
	if p.deps.BasePath != nil {
		destination = p.deps.BasePath(r) + destination
	}

	p.deps.Logger().WithFields(log.Fields{
		"username": username,
		"realm":    p.opts.Realm,
	}).Debug("Issued negotiate challenge")

	return authpublic.RedirectedWithState(destination, state)
}

// verifyResponse completes the exchange using the challenge echoed back via
// session state.
func (p *Provider) verifyResponse(ctx context.Context, cred credential, state []byte) *authpublic.AuthenticationResult {
	var pending challengeState
	if state == nil || json.Unmarshal(state, &pending) != nil || pending.Challenge == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("no pending challenge")))
	}

	claims, err := p.deps.Tokens.Verify(pending.Challenge)
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, err)).Clearing()
	}

	nonce, _ := claims["nonce"].(string)
	if nonce == "" || tokens.Subject(claims) != cred.Username {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("challenge does not match this login"))).Clearing()
	}

	user, err := p.deps.Directory.LookupUser(ctx, cred.Username)
	if errors.Is(err, authpublic.ErrUserNotFound) {
		return authpublic.Failed(authpublic.ErrBadCredentials())
	}
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, err))
	}

	if !verifyHMAC(user.ChallengeKey, nonce, cred.Response) {
		p.deps.Logger().WithFields(log.Fields{
			"username": cred.Username,
		}).Warn("Negotiate response does not verify")
		return authpublic.Failed(authpublic.ErrBadCredentials())
	}

	snapshot, err := json.Marshal(sessionState{Username: user.Username})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	return authpublic.SucceededWithState(&authpublic.Identity{
		Username:  user.Username,
		Usergroup: user.Usergroup,
		Provider:  p.Name(),
	}, snapshot)
}

// ComputeResponse derives the expected response for a challenge nonce.
// Clients use the same derivation with their copy of the key.
func ComputeResponse(key, nonce string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(key, nonce, response string) bool {
	if key == "" {
		return false
	}
	expected := ComputeResponse(key, nonce)
	return hmac.Equal([]byte(expected), []byte(response))
}

func (p *Provider) Authenticate(ctx context.Context, r *http.Request, state []byte) *authpublic.AuthenticationResult {
	if state == nil {
		return authpublic.NotHandled()
	}

	var snap sessionState
	if err := json.Unmarshal(state, &snap); err != nil || snap.Username == "" {
		// State may still be a pending challenge; that is not an
		// authenticated session.
		return authpublic.NotHandled()
	}

	user, err := p.deps.Directory.LookupUser(ctx, snap.Username)
	if errors.Is(err, authpublic.ErrUserNotFound) {
		return authpublic.Failed(authpublic.ErrSessionInvalid())
	}
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, err))
	}

	return authpublic.Succeeded(&authpublic.Identity{
		Username:  user.Username,
		Usergroup: user.Usergroup,
		Provider:  p.Name(),
	})
}

func (p *Provider) Logout(ctx context.Context, r *http.Request, state []byte) *authpublic.DeauthenticationResult {
	return authpublic.LogoutNotHandled()
}
