package authpublic

import (
	"context"
	"errors"
	"net/http"

	"github.com/jamesread/authchain/tokens"
	log "github.com/sirupsen/logrus"
)

// Provider is the contract every authentication mechanism implements.
//
// Providers are side-effect-isolated from session storage: they receive the
// state they previously stored (or nil) and declare session mutations only
// through the intents on the result they return. Provider calls never fail
// with an error; failures are captured inside the result so the chain can
// report them uniformly.
type Provider interface {
	// Name returns the mechanism identifier this provider is registered
	// under.
	Name() string

	// Login attempts to establish identity from an explicit client-submitted
	// credential. value is the opaque credential payload from the
	// LoginAttempt; state is the provider's own stored session state, or nil
	// when no session owned by this provider exists. Multi-step mechanisms
	// return a redirect with intermediate state to be echoed back on the
	// next login call.
	Login(ctx context.Context, r *http.Request, value, state []byte) *AuthenticationResult

	// Authenticate attempts to establish identity implicitly, e.g. from a
	// bearer header or from previously-stored session state. It must return
	// a not-handled result when no credential is present, never a failure.
	Authenticate(ctx context.Context, r *http.Request, state []byte) *AuthenticationResult

	// Logout is invoked with the provider's stored state after the
	// Authenticator has already removed the session.
	Logout(ctx context.Context, r *http.Request, state []byte) *DeauthenticationResult
}

// SingleLogoutProvider is implemented by federated providers that can answer
// an identity-provider-initiated logout even when no local session exists.
type SingleLogoutProvider interface {
	Provider

	// HandlesSingleLogout reports whether the request carries a federated
	// logout assertion this provider recognises.
	HandlesSingleLogout(r *http.Request) bool

	// SingleLogout produces the protocol-correct response for a federated
	// logout request with no local session.
	SingleLogout(ctx context.Context, r *http.Request) *DeauthenticationResult
}

// ErrUserNotFound is returned by DirectoryClient implementations when the
// requested username does not exist.
var ErrUserNotFound = errors.New("user not found in directory")

// UserRecord is the directory's view of a user, including the credential
// material individual providers verify against.
type UserRecord struct {
	Username  string
	Usergroup string

	// PasswordHash is an argon2id hash verified by the password provider.
	PasswordHash string

	// ChallengeKey is the shared secret used by the challenge/response
	// provider to verify HMAC responses.
	ChallengeKey string
}

// DirectoryClient is the backing identity-service client handed to every
// provider at construction. Its wire protocol is opaque to this module.
type DirectoryClient interface {
	LookupUser(ctx context.Context, username string) (*UserRecord, error)
}

// ProviderDeps are the shared dependencies every provider is constructed
// with, alongside its mechanism-specific options.
type ProviderDeps struct {
	// Directory is the backing identity-service client.
	Directory DirectoryClient

	// BasePath resolves the application base path for the given request,
	// used by providers that build redirect or callback URLs.
	BasePath func(r *http.Request) string

	// Tokens signs and verifies the compact state tokens providers use for
	// challenges, relay state and callback nonces.
	Tokens *tokens.Manager

	// Log is the per-provider logger.
	Log *log.Entry
}

// Logger returns the per-provider logger, falling back to the standard
// logger so providers can log unconditionally.
func (d ProviderDeps) Logger() *log.Entry {
	if d.Log != nil {
		return d.Log
	}
	return log.NewEntry(log.StandardLogger())
}
