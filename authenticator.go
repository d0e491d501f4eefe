// Package authchain authenticates requests against a prioritized chain of
// authentication providers while managing a single persisted session per
// client. Providers declare session intent through the results they return;
// the Authenticator is the only component that reads or writes session
// storage, which keeps the mutation rules auditable in one place.
package authchain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jamesread/authchain/authpublic"
	"github.com/jamesread/authchain/sessions"
	log "github.com/sirupsen/logrus"
)

// Authenticator orchestrates the provider chain. It is immutable after New
// and safe for concurrent use; all per-request state lives on the stack and
// in the per-request session store.
type Authenticator struct {
	reg          *registry
	ttl          time.Duration
	isBackground func(r *http.Request) bool
}

// New builds an Authenticator from configuration. Construction fails
// entirely on any configuration problem rather than running with a partial
// provider chain.
func New(cfg *authpublic.Config, deps Deps) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}

	reg, err := buildRegistry(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		reg:          reg,
		ttl:          cfg.GetSessionTTL(),
		isBackground: deps.IsBackground,
	}, nil
}

// Login drives an explicit login attempt against its target provider.
//
// An attempt naming an unconfigured provider is a normal, reportable
// not-handled outcome, not a defect. An existing session owned by a
// different provider is purged before the target provider runs, so no
// provider ever sees another mechanism's state.
func (a *Authenticator) Login(ctx context.Context, store sessions.Store, r *http.Request, attempt authpublic.LoginAttempt) (*authpublic.AuthenticationResult, error) {
	if r == nil {
		return nil, errors.New("login: request must not be nil")
	}
	if attempt.Provider == "" {
		return nil, errors.New("login: attempt names no provider")
	}

	provider, ok := a.reg.get(attempt.Provider)
	if !ok {
		log.WithFields(log.Fields{
			"provider": attempt.Provider,
		}).Debug("Login attempt targets unconfigured provider")
		return authpublic.NotHandled(), nil
	}

	env, err := a.sessionValue(ctx, store)
	if err != nil {
		return nil, err
	}

	var state []byte
	if env != nil {
		if env.Provider != attempt.Provider {
			// A new explicit login supersedes a stale session belonging to
			// another mechanism.
			if err := store.Clear(ctx); err != nil {
				return nil, fmt.Errorf("clear foreign session: %w", err)
			}
			env = nil
		} else {
			state = env.State
		}
	}

	res := provider.Login(ctx, r, attempt.Value, state)
	if res == nil {
		res = authpublic.NotHandled()
	}

	if err := a.applyDecision(ctx, store, attempt.Provider, env, res, false); err != nil {
		return nil, err
	}

	return res, nil
}

// Authenticate drives the ordered provider chain against the existing
// session. The session-owning provider is visited first so it can cheaply
// revalidate before pass-through mechanisms are tried; without a session the
// configured order applies. The chain stops at the first provider that
// yields anything other than not-handled.
func (a *Authenticator) Authenticate(ctx context.Context, store sessions.Store, r *http.Request) (*authpublic.AuthenticationResult, error) {
	if r == nil {
		return nil, errors.New("authenticate: request must not be nil")
	}

	env, err := a.sessionValue(ctx, store)
	if err != nil {
		return nil, err
	}

	owner := ""
	if env != nil {
		owner = env.Provider
	}

	touch := a.isBackground == nil || !a.isBackground(r)

	for _, name := range a.reg.visitOrder(owner) {
		provider, _ := a.reg.get(name)

		var state []byte
		if env != nil && name == owner {
			state = env.State
		}

		res := provider.Authenticate(ctx, r, state)
		if res == nil || res.IsNotHandled() {
			continue
		}

		if err := a.applyDecision(ctx, store, name, env, res, touch); err != nil {
			return nil, err
		}

		return res, nil
	}

	return authpublic.NotHandled(), nil
}

// Logout ends the current session. With a session present, storage is
// cleared unconditionally before the owning provider gets to produce its
// logout response. Without one, a federated provider may still need to
// answer an identity-provider-initiated logout.
func (a *Authenticator) Logout(ctx context.Context, store sessions.Store, r *http.Request) (*authpublic.DeauthenticationResult, error) {
	if r == nil {
		return nil, errors.New("logout: request must not be nil")
	}

	env, err := a.sessionValue(ctx, store)
	if err != nil {
		return nil, err
	}

	if env != nil {
		if err := store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear session: %w", err)
		}

		provider, _ := a.reg.get(env.Provider)
		res := provider.Logout(ctx, r, env.State)
		if res == nil {
			res = authpublic.LogoutNotHandled()
		}
		return res, nil
	}

	for _, name := range a.reg.order {
		slp, ok := a.reg.byName[name].(authpublic.SingleLogoutProvider)
		if ok && slp.HandlesSingleLogout(r) {
			res := slp.SingleLogout(ctx, r)
			if res == nil {
				res = authpublic.LogoutNotHandled()
			}
			return res, nil
		}
	}

	return authpublic.LogoutNotHandled(), nil
}

// sessionValue reads the session envelope, purging anything that can no
// longer be honoured: an envelope naming a provider that is no longer
// configured, or one past its expiry. The check runs on every read, which
// makes the Authenticator self-healing across configuration reloads.
func (a *Authenticator) sessionValue(ctx context.Context, store sessions.Store) (*sessions.Envelope, error) {
	env, err := store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if env == nil {
		return nil, nil
	}

	if _, ok := a.reg.get(env.Provider); !ok {
		log.WithFields(log.Fields{
			"provider": env.Provider,
		}).Warn("Purging session owned by unconfigured provider")
		if err := store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear stale session: %w", err)
		}
		return nil, nil
	}

	if env.Expired(time.Now()) {
		if err := store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear expired session: %w", err)
		}
		return nil, nil
	}

	return env, nil
}

// applyDecision is the single place session mutation happens. The rule: a
// clear intent or an unauthorized-classified failure destroys the session; a
// provider's update intent persists its state under the acting provider with
// a fresh expiry; a succeeded or redirected result without explicit intent
// merely extends the acting provider's existing session ("touch"), and only
// when touch is allowed for this request.
func (a *Authenticator) applyDecision(ctx context.Context, store sessions.Store, provider string, env *sessions.Envelope, res *authpublic.AuthenticationResult, touch bool) error {
	switch {
	case res.ShouldClearState(), res.IsFailed() && authpublic.IsUnauthorized(res.Error()):
		if env == nil && !res.ShouldClearState() {
			return nil
		}
		if err := store.Clear(ctx); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}

	case res.ShouldUpdateState():
		// An explicit update always persists, background request or not.
		if err := store.Set(ctx, sessions.Envelope{
			Provider: provider,
			State:    res.State(),
			Expires:  a.expiry(time.Now()),
		}); err != nil {
			return fmt.Errorf("store session: %w", err)
		}

	case (res.IsSucceeded() || res.IsRedirected()) && touch && env != nil && env.Provider == provider:
		if err := store.Set(ctx, sessions.Envelope{
			Provider: provider,
			State:    env.State,
			Expires:  a.expiry(time.Now()),
		}); err != nil {
			return fmt.Errorf("extend session: %w", err)
		}
	}

	return nil
}

// expiry computes the absolute expiry for a session stored now. A zero TTL
// means sessions carry no expiry at all.
func (a *Authenticator) expiry(now time.Time) time.Time {
	if a.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(a.ttl)
}
