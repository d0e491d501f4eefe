// Package hasbearer implements bearer-token authentication from the
// Authorization header (or a configured header). Tokens are resolved against
// a static token map first, then validated as JWTs when JWT validation is
// configured.
package hasbearer

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesread/authchain/authpublic"
	"github.com/jamesread/golure/pkg/redact"
	log "github.com/sirupsen/logrus"
)

// sessionState is stored after an explicit token login so later requests
// authenticate without resubmitting the token.
type sessionState struct {
	Username  string `json:"username"`
	Usergroup string `json:"usergroup,omitempty"`
}

type Provider struct {
	opts authpublic.BearerOptions
	deps authpublic.ProviderDeps

	pubKey *rsa.PublicKey

	jwksOnce sync.Once
	jwks     keyfunc.Keyfunc
	jwksErr  error
}

// New creates the bearer provider. At least one token source (static map or
// JWT validation) must be configured, and JWT validation must name exactly
// one key source.
func New(opts *authpublic.BearerOptions, deps authpublic.ProviderDeps) (*Provider, error) {
	if opts == nil || (len(opts.Tokens) == 0 && opts.Jwt == nil) {
		return nil, errors.New("bearer provider requires static tokens or jwt options")
	}

	p := &Provider{opts: *opts, deps: deps}

	if jwtOpts := opts.Jwt; jwtOpts != nil {
		if err := validateJwtOptions(jwtOpts); err != nil {
			return nil, err
		}

		if jwtOpts.PubKeyPath != "" {
			key, err := loadPublicKey(jwtOpts.PubKeyPath)
			if err != nil {
				return nil, err
			}
			p.pubKey = key
		}
	}

	return p, nil
}

func validateJwtOptions(o *authpublic.JwtOptions) error {
	if o.CertsURL != "" && o.PubKeyPath != "" {
		return errors.New("bearer provider: cannot specify both certsUrl and pubKeyPath")
	}
	if o.CertsURL == "" && o.PubKeyPath == "" && o.HmacSecret == "" {
		return errors.New("bearer provider: jwt options name no key source")
	}
	return nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bearer provider: read public key: %w", err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("bearer provider: parse public key: %w", err)
	}

	return key, nil
}

func (p *Provider) Name() string {
	return authpublic.ProviderBearer
}

// extractToken pulls the bearer token out of the configured header.
func (p *Provider) extractToken(r *http.Request) string {
	header := r.Header.Get(p.opts.GetHeader())
	if header == "" {
		return ""
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}

	return strings.TrimPrefix(header, "Bearer ")
}

func (p *Provider) Login(ctx context.Context, r *http.Request, value, state []byte) *authpublic.AuthenticationResult {
	token := strings.TrimSpace(string(value))
	if token == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadRequest, errors.New("empty bearer token")))
	}

	res := p.resolveToken(ctx, token)
	if !res.IsSucceeded() {
		return res
	}

	// An explicit login persists the resolved identity so the session
	// outlives the submitted token.
	snapshot, err := json.Marshal(sessionState{
		Username:  res.User().Username,
		Usergroup: res.User().Usergroup,
	})
	if err != nil {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusInternalServerError, err))
	}

	return authpublic.SucceededWithState(res.User(), snapshot)
}

func (p *Provider) Authenticate(ctx context.Context, r *http.Request, state []byte) *authpublic.AuthenticationResult {
	token := p.extractToken(r)
	if token != "" {
		return p.resolveToken(ctx, token)
	}

	if state == nil {
		return authpublic.NotHandled()
	}

	var snap sessionState
	if err := json.Unmarshal(state, &snap); err != nil || snap.Username == "" {
		return authpublic.Failed(authpublic.ErrSessionInvalid())
	}

	return authpublic.Succeeded(&authpublic.Identity{
		Username:  snap.Username,
		Usergroup: snap.Usergroup,
		Provider:  p.Name(),
	})
}

func (p *Provider) Logout(ctx context.Context, r *http.Request, state []byte) *authpublic.DeauthenticationResult {
	return authpublic.LogoutNotHandled()
}

// resolveToken validates a presented token: static map first, then JWT.
func (p *Provider) resolveToken(ctx context.Context, token string) *authpublic.AuthenticationResult {
	if user, ok := p.opts.Tokens[token]; ok {
		p.deps.Logger().WithFields(log.Fields{
			"username": user.Username,
		}).Info("Bearer token authentication successful")

		return authpublic.Succeeded(&authpublic.Identity{
			Username:  user.Username,
			Usergroup: user.Usergroup,
			Provider:  p.Name(),
		})
	}

	if p.opts.Jwt == nil {
		p.deps.Logger().WithFields(log.Fields{
			"tokenPreview": redact.RedactString(token),
		}).Debug("Bearer token not found in configured tokens")
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("unknown bearer token")))
	}

	return p.resolveJwt(ctx, token)
}

func (p *Provider) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithLeeway(5 * time.Second)}
	if p.opts.Jwt.Aud != "" {
		opts = append(opts, jwt.WithAudience(p.opts.Jwt.Aud))
	}
	if p.opts.Jwt.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.opts.Jwt.Issuer))
	}
	return opts
}

func (p *Provider) keyfuncFor(ctx context.Context) (jwt.Keyfunc, error) {
	jwtOpts := p.opts.Jwt

	if jwtOpts.CertsURL != "" {
		p.jwksOnce.Do(func() {
			p.jwks, p.jwksErr = keyfunc.NewDefaultCtx(ctx, []string{jwtOpts.CertsURL})
		})
		if p.jwksErr != nil {
			return nil, fmt.Errorf("init JWKS from %s: %w", jwtOpts.CertsURL, p.jwksErr)
		}
		return p.jwks.Keyfunc, nil
	}

	if p.pubKey != nil {
		return func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return p.pubKey, nil
		}, nil
	}

	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(jwtOpts.HmacSecret), nil
	}, nil
}

func (p *Provider) resolveJwt(ctx context.Context, token string) *authpublic.AuthenticationResult {
	kf, err := p.keyfuncFor(ctx)
	if err != nil {
		p.deps.Logger().WithError(err).Error("JWT key source unavailable")
		return authpublic.Failed(authpublic.NewStatusError(http.StatusBadGateway, err))
	}

	parsed, err := jwt.Parse(token, kf, p.parserOptions()...)
	if err != nil {
		p.deps.Logger().WithFields(log.Fields{
			"error":        err,
			"tokenPreview": redact.RedactString(token),
		}).Debug("JWT validation failed")
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, err))
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, errors.New("jwt token is not valid")))
	}

	username, _ := claims[p.opts.Jwt.GetClaimUsername()].(string)
	if username == "" {
		return authpublic.Failed(authpublic.NewStatusError(http.StatusUnauthorized, fmt.Errorf("jwt claim %q missing", p.opts.Jwt.GetClaimUsername())))
	}

	usergroup := ""
	if p.opts.Jwt.ClaimUsergroup != "" {
		usergroup, _ = claims[p.opts.Jwt.ClaimUsergroup].(string)
	}

	p.deps.Logger().WithFields(log.Fields{
		"username": username,
	}).Info("JWT bearer authentication successful")

	return authpublic.Succeeded(&authpublic.Identity{
		Username:  username,
		Usergroup: usergroup,
		Provider:  p.Name(),
	})
}
