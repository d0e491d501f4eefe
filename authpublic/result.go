package authpublic

type resultStatus int

const (
	statusNotHandled resultStatus = iota
	statusSucceeded
	statusFailed
	statusRedirected
)

// AuthenticationResult is the outcome of a provider login or authenticate
// call. Providers declare what should happen to the persisted session through
// the update/clear intents on the result; they never touch session storage
// themselves. The Authenticator is the only component that acts on the
// intents.
type AuthenticationResult struct {
	status   resultStatus
	user     *Identity
	err      error
	location string
	state    []byte
	update   bool
	clear    bool
}

// NotHandled reports that the provider found no credential it recognises.
// The chain moves on to the next provider.
func NotHandled() *AuthenticationResult {
	return &AuthenticationResult{status: statusNotHandled}
}

// Succeeded reports a resolved identity without requesting any change to the
// persisted session state.
func Succeeded(user *Identity) *AuthenticationResult {
	return &AuthenticationResult{status: statusSucceeded, user: user}
}

// SucceededWithState reports a resolved identity and asks the Authenticator
// to persist the given provider state.
func SucceededWithState(user *Identity, state []byte) *AuthenticationResult {
	return &AuthenticationResult{status: statusSucceeded, user: user, state: state, update: true}
}

// Failed reports an authentication failure. An unauthorized-classified error
// (see IsUnauthorized) additionally signals that any persisted session state
// is no longer valid.
func Failed(err error) *AuthenticationResult {
	return &AuthenticationResult{status: statusFailed, err: err}
}

// Redirected asks the caller to redirect the client, typically to an
// identity provider.
func Redirected(location string) *AuthenticationResult {
	return &AuthenticationResult{status: statusRedirected, location: location}
}

// RedirectedWithState asks for a redirect and persists intermediate provider
// state, to be echoed back to the same provider on the next request of a
// multi-step login.
func RedirectedWithState(location string, state []byte) *AuthenticationResult {
	return &AuthenticationResult{status: statusRedirected, location: location, state: state, update: true}
}

// Clearing marks the result as requesting removal of the persisted session
// state. Any pending state update is dropped; update and clear are mutually
// exclusive on a single result.
func (r *AuthenticationResult) Clearing() *AuthenticationResult {
	r.state = nil
	r.update = false
	r.clear = true
	return r
}

func (r *AuthenticationResult) IsNotHandled() bool {
	return r.status == statusNotHandled
}

func (r *AuthenticationResult) IsSucceeded() bool {
	return r.status == statusSucceeded
}

func (r *AuthenticationResult) IsFailed() bool {
	return r.status == statusFailed
}

func (r *AuthenticationResult) IsRedirected() bool {
	return r.status == statusRedirected
}

// ShouldUpdateState reports whether the provider asked for its state to be
// persisted alongside this result.
func (r *AuthenticationResult) ShouldUpdateState() bool {
	return r.update
}

// ShouldClearState reports whether the provider asked for the persisted
// session state to be removed.
func (r *AuthenticationResult) ShouldClearState() bool {
	return r.clear
}

// User returns the resolved identity for a succeeded result, or nil.
func (r *AuthenticationResult) User() *Identity {
	return r.user
}

// Error returns the failure for a failed result, or nil.
func (r *AuthenticationResult) Error() error {
	return r.err
}

// Location returns the redirect destination for a redirected result.
func (r *AuthenticationResult) Location() string {
	return r.location
}

// State returns the opaque provider state attached to this result. Its
// encoding is owned entirely by the provider that produced it.
func (r *AuthenticationResult) State() []byte {
	return r.state
}

// DeauthenticationResult is the outcome of a logout call. Logout never
// produces stored data, so the only variants are not-handled and redirected.
type DeauthenticationResult struct {
	redirected bool
	location   string
}

// LogoutNotHandled reports that the provider has nothing to do for logout
// beyond the session removal already performed by the Authenticator.
func LogoutNotHandled() *DeauthenticationResult {
	return &DeauthenticationResult{}
}

// LogoutRedirected asks the caller to redirect the client, typically to an
// identity provider's single-logout endpoint.
func LogoutRedirected(location string) *DeauthenticationResult {
	return &DeauthenticationResult{redirected: true, location: location}
}

func (r *DeauthenticationResult) IsNotHandled() bool {
	return !r.redirected
}

func (r *DeauthenticationResult) IsRedirected() bool {
	return r.redirected
}

func (r *DeauthenticationResult) Location() string {
	return r.location
}
