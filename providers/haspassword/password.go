// Package haspassword implements password-based authentication against the
// backing directory. Password hashes are argon2id; verification always costs
// one hash comparison so response timing does not reveal whether a username
// exists.
package haspassword

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"

	"github.com/alexedwards/argon2id"
	"github.com/jamesread/authchain/authpublic"
	log "github.com/sirupsen/logrus"
)

var defaultParams = argon2id.Params{
	Memory:      64 * 1024,
	Iterations:  4,
	Parallelism: uint8(runtime.NumCPU()),
	SaltLength:  16,
	KeyLength:   32,
}

// dummyHash is a valid argon2id hash that always fails comparison but takes
// similar time to verify, so lookups for unknown users are not faster than
// real comparisons. Generated at init so it uses the same parameters as real
// hashes.
var dummyHash string

func init() {
	hash, err := argon2id.CreateHash("dummy-password-for-timing-attack-prevention", &defaultParams)
	if err != nil {
		dummyHash = "$argon2id$v=19$m=65536,t=4,p=1$dGVzdHNhbHRlc3Q$dGVzdGhhc2h0ZXN0aGFzaHRlc3RoYXNo"
		log.Errorf("Failed to generate dummy hash, using fallback: %v", err)
	} else {
		dummyHash = hash
	}
}

// CreateHash hashes a password for storage in the directory.
func CreateHash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, &defaultParams)
	if err != nil {
		log.Errorf("Error creating hash: %v", err)
		return "", err
	}

	return hash, nil
}

func comparePasswordAndHash(password, hash string) bool {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		log.Errorf("Error comparing password and hash: %v", err)
		return false
	}

	return match
}

// credential is the expected shape of the opaque login value.
type credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionState is what this provider stores in the session envelope after a
// successful login.
type sessionState struct {
	Username string `json:"username"`
}

type Provider struct {
	opts authpublic.PasswordOptions
	deps authpublic.ProviderDeps
}

// New creates the password provider. A directory client is required since
// all credential material lives there.
func New(opts *authpublic.PasswordOptions, deps authpublic.ProviderDeps) (*Provider, error) {
	if deps.Directory == nil {
		return nil, errors.New("password provider requires a directory client")
	}

	p := &Provider{deps: deps}
	if opts != nil {
		p.opts = *opts
	}
	if p.opts.MinPasswordLength < 0 {
		return nil, errors.New("password provider: minPasswordLength must not be negative")
	}

	return p, nil
}

func (p *Provider) Name() string {
	return authpublic.ProviderPassword
}

func (p *Provider) Login(ctx context.Context, r *http.Request, value, state []byte) *authpublic.AuthenticationResult {
	var cred credential
	if err := json.Unmarshal(value, &cred); err != nil || cred.Username == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadRequest, errors.New("malformed password credential")))
	}

	if p.opts.MinPasswordLength > 0 && len(cred.Password) < p.opts.MinPasswordLength {
		return authpublic.Failed(authpublic.ErrBadCredentials())
	}

	user, err := p.deps.Directory.LookupUser(ctx, cred.Username)
	if errors.Is(err, authpublic.ErrUserNotFound) {
		// Burn a comparison against the dummy hash so unknown usernames are
		// not distinguishable by timing.
		comparePasswordAndHash(cred.Password, dummyHash)
		p.deps.Logger().WithFields(log.Fields{
			"username": cred.Username,
		}).Warn("Login for unknown username")
		return authpublic.Failed(authpublic.ErrBadCredentials())
	}
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, err))
	}

	if !comparePasswordAndHash(cred.Password, user.PasswordHash) {
		p.deps.Logger().WithFields(log.Fields{
			"username": cred.Username,
		}).Warn("Password does not match for user")
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

func (p *Provider) Authenticate(ctx context.Context, r *http.Request, state []byte) *authpublic.AuthenticationResult {
	// Without stored state there is no implicit credential to act on.
	if state == nil {
		return authpublic.NotHandled()
	}

	var snap sessionState
	if err := json.Unmarshal(state, &snap); err != nil || snap.Username == "" {
		return authpublic.Failed(authpublic.ErrSessionInvalid())
	}

	user, err := p.deps.Directory.LookupUser(ctx, snap.Username)
	if errors.Is(err, authpublic.ErrUserNotFound) {
		// The account disappeared since login; the session is dead.
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
	// Session removal alone is a complete local logout.
	return authpublic.LogoutNotHandled()
}
