// Package hasoidc implements an OpenID-Connect-style provider on the OAuth2
// authorization-code flow. Login without a code redirects to the identity
// provider with a signed state parameter; login with a code verifies that
// state, exchanges the code and reads the identity from the ID token's
// claims. Claims are trusted as delivered over the TLS code-exchange
// channel.
package hasoidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesread/authchain/authpublic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// callbackPayload is the normalized shape of the opaque login value for the
// completion step: the code and state query parameters from the identity
// provider's callback. An empty payload starts the redirect step.
type callbackPayload struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// pendingState is the intermediate state stored between redirect and
// callback.
type pendingState struct {
	State string `json:"state"`
}

// sessionState is stored after a successful code exchange.
type sessionState struct {
	Username  string    `json:"username"`
	Usergroup string    `json:"usergroup,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type Provider struct {
	opts  authpublic.OIDCOptions
	deps  authpublic.ProviderDeps
	oauth *oauth2.Config
}

// New creates the OpenID-Connect-style provider.
func New(opts *authpublic.OIDCOptions, deps authpublic.ProviderDeps) (*Provider, error) {
	if opts == nil {
		return nil, errors.New("oidc provider requires options")
	}
	if opts.ClientID == "" || opts.AuthURL == "" || opts.TokenURL == "" || opts.RedirectURL == "" {
		return nil, errors.New("oidc provider requires clientId, authUrl, tokenUrl and redirectUrl")
	}
	if deps.Tokens == nil {
		return nil, errors.New("oidc provider requires a token manager")
	}

	return &Provider{
		opts: *opts,
		deps: deps,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       opts.GetScopes(),
			RedirectURL:  opts.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthURL,
				TokenURL: opts.TokenURL,
			},
		},
	}, nil
}

func (p *Provider) Name() string {
	return authpublic.ProviderOIDC
}

func (p *Provider) Login(ctx context.Context, r *http.Request, value, state []byte) *authpublic.AuthenticationResult {
	var payload callbackPayload
	if len(value) > 0 {
		if err := json.Unmarshal(value, &payload); err != nil {
			return authpublic.Failed(authpublic.NewStatusError(http.StatusBadRequest, errors.New("malformed oidc callback payload")))
		}
	}

	if payload.Code == "" {
		return p.redirectToIdP()
	}

	return p.completeLogin(ctx, payload, state)
}

// redirectToIdP starts the code flow with a signed single-use state
// parameter.
func (p *Provider) redirectToIdP() *authpublic.AuthenticationResult {
	signed, err := p.deps.Tokens.Issue("oidc-state", nil)
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	state, err := json.Marshal(pendingState{State: signed})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	return authpublic.RedirectedWithState(p.oauth.AuthCodeURL(signed), state)
}

// completeLogin verifies the callback state against the stored intermediate
// state, exchanges the code and resolves the identity from the ID token.
func (p *Provider) completeLogin(ctx context.Context, payload callbackPayload, state []byte) *authpublic.AuthenticationResult {
	var pending pendingState
	if state == nil || json.Unmarshal(state, &pending) != nil || pending.State == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("no pending authorization request")))
	}

	if payload.State != pending.State {
		p.deps.Logger().Warn("Callback state does not match pending authorization request")
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("state mismatch"))).Clearing()
	}

	if _, err := p.deps.Tokens.Verify(pending.State); err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, err)).Clearing()
	}

	token, err := p.oauth.Exchange(ctx, payload.Code)
	if err != nil {
		p.deps.Logger().WithError(err).Error("Code exchange failed")
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, err))
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, errors.New("token response carries no id_token")))
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, fmt.Errorf("parse id_token: %w", err)))
	}

	username, _ := claims[p.opts.GetClaimUsername()].(string)
	if username == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, fmt.Errorf("id_token claim %q missing", p.opts.GetClaimUsername())))
	}

	usergroup := ""
	if p.opts.ClaimUsergroup != "" {
		usergroup, _ = claims[p.opts.ClaimUsergroup].(string)
	}

	snapshot, err := json.Marshal(sessionState{
		Username:  username,
		Usergroup: usergroup,
		ExpiresAt: token.Expiry,
	})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	p.deps.Logger().WithFields(log.Fields{
		"username": username,
	}).Info("OIDC authentication successful")

	return authpublic.SucceededWithState(&authpublic.Identity{
		Username:  username,
		Usergroup: usergroup,
		Provider:  p.Name(),
	}, snapshot)
}

func (p *Provider) Authenticate(ctx context.Context, r *http.Request, state []byte) *authpublic.AuthenticationResult {
	if state == nil {
		return authpublic.NotHandled()
	}

	var snap sessionState
	if err := json.Unmarshal(state, &snap); err != nil || snap.Username == "" {
		// A pending redirect is not an authenticated session.
		return authpublic.NotHandled()
	}

	if !snap.ExpiresAt.IsZero() && time.Now().After(snap.ExpiresAt) {
		return authpublic.Failed(authpublic.ErrSessionInvalid())
	}

	return authpublic.Succeeded(&authpublic.Identity{
		Username:  snap.Username,
		Usergroup: snap.Usergroup,
		Provider:  p.Name(),
	})
}

func (p *Provider) Logout(ctx context.Context, r *http.Request, state []byte) *authpublic.DeauthenticationResult {
	if p.opts.EndSessionURL == "" {
		return authpublic.LogoutNotHandled()
	}

	return authpublic.LogoutRedirected(p.opts.EndSessionURL)
}
