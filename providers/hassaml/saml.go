// Package hassaml implements the federated single-sign-on provider. It
// drives the redirect state machine: login redirects to the identity
// provider with a signed relay state, and a later login call consumes the
// normalized assertion payload the HTTP layer extracted from the identity
// provider's response. The assertion wire format itself is handled outside
// this module.
package hassaml

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/jamesread/authchain/authpublic"
	log "github.com/sirupsen/logrus"
)

// assertionPayload is the normalized shape of the opaque login value for the
// completion step. An empty payload starts the redirect step instead.
type assertionPayload struct {
	RequestID string `json:"requestId"`
	NameID    string `json:"nameId"`
	Usergroup string `json:"usergroup,omitempty"`
}

// pendingState is the intermediate state stored between the redirect and the
// returned assertion.
type pendingState struct {
	RequestID string `json:"requestId"`
}

// sessionState is stored once an assertion has been accepted.
type sessionState struct {
	NameID    string `json:"nameId"`
	Usergroup string `json:"usergroup,omitempty"`
}

type Provider struct {
	opts authpublic.SAMLOptions
	deps authpublic.ProviderDeps
}

// New creates the federated single-sign-on provider.
func New(opts *authpublic.SAMLOptions, deps authpublic.ProviderDeps) (*Provider, error) {
	if opts == nil || opts.SSOURL == "" {
		return nil, errors.New("saml provider requires an ssoUrl")
	}
	if _, err := url.Parse(opts.SSOURL); err != nil {
		return nil, errors.New("saml provider: ssoUrl is not a valid URL")
	}

	return &Provider{opts: *opts, deps: deps}, nil
}

func (p *Provider) Name() string {
	return authpublic.ProviderSAML
}

func (p *Provider) Login(ctx context.Context, r *http.Request, value, state []byte) *authpublic.AuthenticationResult {
	var payload assertionPayload
	if len(value) > 0 {
		if err := json.Unmarshal(value, &payload); err != nil {
			return authpublic.Failed(authpublic.NewStatusError(http.StatusBadRequest, errors.New("malformed assertion payload")))
		}
	}

	if payload.NameID == "" {
		return p.redirectToIdP(r)
	}

	return p.completeLogin(payload, state)
}

// redirectToIdP starts the flow: generate a request ID, stash it as
// intermediate state and send the client to the identity provider.
func (p *Provider) redirectToIdP(r *http.Request) *authpublic.AuthenticationResult {
	requestID := uuid.NewString()

	state, err := json.Marshal(pendingState{RequestID: requestID})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	destination, err := url.Parse(p.opts.SSOURL)
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	query := destination.Query()
	query.Set("RelayState", requestID)
	if p.opts.EntityID != "" {
		query.Set("EntityID", p.opts.EntityID)
	}
	destination.RawQuery = query.Encode()

	p.deps.Logger().WithFields(log.Fields{
		"requestId": requestID,
	}).Debug("Redirecting to identity provider")

	return authpublic.RedirectedWithState(destination.String(), state)
}

// completeLogin consumes the returned assertion, checking it answers the
// redirect this session started.
func (p *Provider) completeLogin(payload assertionPayload, state []byte) *authpublic.AuthenticationResult {
	var pending pendingState
	if state == nil || json.Unmarshal(state, &pending) != nil || pending.RequestID == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("no pending sign-on request")))
	}

	if payload.RequestID != pending.RequestID {
		p.deps.Logger().WithFields(log.Fields{
			"expected": pending.RequestID,
			"got":      payload.RequestID,
		}).Warn("Assertion does not answer the pending sign-on request")
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("assertion does not match pending request"))).Clearing()
	}

	snapshot, err := json.Marshal(sessionState{NameID: payload.NameID, Usergroup: payload.Usergroup})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	return authpublic.SucceededWithState(&authpublic.Identity{
		Username:  payload.NameID,
		Usergroup: payload.Usergroup,
		Provider:  p.Name(),
	}, snapshot)
}

func (p *Provider) Authenticate(ctx context.Context, r *http.Request, state []byte) *authpublic.AuthenticationResult {
	if state == nil {
		return authpublic.NotHandled()
	}

	var snap sessionState
	if err := json.Unmarshal(state, &snap); err != nil || snap.NameID == "" {
		// A pending redirect is not an authenticated session.
		return authpublic.NotHandled()
	}

	return authpublic.Succeeded(&authpublic.Identity{
		Username:  snap.NameID,
		Usergroup: snap.Usergroup,
		Provider:  p.Name(),
	})
}

func (p *Provider) Logout(ctx context.Context, r *http.Request, state []byte) *authpublic.DeauthenticationResult {
	if p.opts.SLOURL == "" {
		return authpublic.LogoutNotHandled()
	}

	destination, err := url.Parse(p.opts.SLOURL)
	if err != nil {
		return authpublic.LogoutNotHandled()
	}

	query := destination.Query()
	var snap sessionState
	if state != nil && json.Unmarshal(state, &snap) == nil && snap.NameID != "" {
		query.Set("NameID", snap.NameID)
	}
	destination.RawQuery = query.Encode()

	return authpublic.LogoutRedirected(destination.String())
}

// HandlesSingleLogout recognises identity-provider-initiated logout
// requests, which arrive with a SAMLRequest query parameter.
func (p *Provider) HandlesSingleLogout(r *http.Request) bool {
	if p.opts.SLOURL == "" {
		return false
	}

	query := r.URL.Query()
	return query.Get("SAMLRequest") != "" || query.Get("SLO") != ""
}

// SingleLogout answers an identity-provider-initiated logout with no local
// session. Only this provider can produce the protocol-correct response back
// to the identity provider.
func (p *Provider) SingleLogout(ctx context.Context, r *http.Request) *authpublic.DeauthenticationResult {
	destination, err := url.Parse(p.opts.SLOURL)
	if err != nil {
		return authpublic.LogoutNotHandled()
	}

	query := destination.Query()
	query.Set("ResponseID", uuid.NewString())
	if relay := r.URL.Query().Get("RelayState"); relay != "" {
		query.Set("RelayState", relay)
	}
	destination.RawQuery = query.Encode()

	p.deps.Logger().Debug("Answering identity-provider-initiated logout")

	return authpublic.LogoutRedirected(destination.String())
}
