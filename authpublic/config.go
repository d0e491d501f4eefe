package authpublic

import "time"

// Provider mechanism names. The set is closed: the registry dispatches on
// these names with an exhaustive switch rather than an open plugin lookup.
const (
	ProviderPassword  = "password"
	ProviderBearer    = "bearer"
	ProviderNegotiate = "negotiate"
	ProviderSAML      = "saml"
	ProviderOIDC      = "oidc"
)

type Config struct {
	// Providers is the ordered list of enabled mechanisms. Order is
	// significant: it is the default visit order during implicit
	// authentication.
	Providers []ProviderConfig `yaml:"providers"`

	// SessionTTLMinutes is the session time-to-live in minutes. Zero means
	// sessions have no expiry and live until client-side storage is cleared.
	SessionTTLMinutes int `yaml:"sessionTtlMinutes"`
}

// GetSessionTTL returns the configured session time-to-live. A zero duration
// means no expiry.
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// ProviderConfig names one enabled mechanism plus its mechanism-specific
// option bag. Exactly the bag matching Name is consulted; the others are
// ignored.
type ProviderConfig struct {
	Name string `yaml:"name"`

	Password  *PasswordOptions  `yaml:"password,omitempty"`
	Bearer    *BearerOptions    `yaml:"bearer,omitempty"`
	Negotiate *NegotiateOptions `yaml:"negotiate,omitempty"`
	SAML      *SAMLOptions      `yaml:"saml,omitempty"`
	OIDC      *OIDCOptions      `yaml:"oidc,omitempty"`
}

// PasswordOptions configures the password provider. The provider verifies
// against directory records, so there is nothing mandatory to configure.
type PasswordOptions struct {
	// MinPasswordLength rejects submitted passwords shorter than this before
	// any directory lookup. Zero disables the check.
	MinPasswordLength int `yaml:"minPasswordLength"`
}

// BearerTokenUser maps a static bearer token to a user.
type BearerTokenUser struct {
	Username  string `yaml:"username"`
	Usergroup string `yaml:"usergroup"`
}

// BearerOptions configures the bearer-token provider. At least one of Tokens
// or Jwt must be set.
type BearerOptions struct {
	// Header is the HTTP header carrying the token. Defaults to
	// "Authorization".
	Header string `yaml:"header"`

	// Tokens maps static tokens to users.
	Tokens map[string]*BearerTokenUser `yaml:"tokens"`

	// Jwt enables JWT validation for tokens not found in the static map.
	Jwt *JwtOptions `yaml:"jwt"`
}

// GetHeader returns the token header name, with default fallback.
func (o *BearerOptions) GetHeader() string {
	if o.Header != "" {
		return o.Header
	}
	return "Authorization"
}

// JwtOptions configures JWT validation. Exactly one key source must be set:
// CertsURL (JWKS), PubKeyPath (local RSA public key) or HmacSecret.
type JwtOptions struct {
	CertsURL   string `yaml:"certsUrl"`
	PubKeyPath string `yaml:"pubKeyPath"`
	HmacSecret string `yaml:"hmacSecret"`

	// Aud is the expected audience claim. Empty disables the check.
	Aud string `yaml:"aud"`

	// Issuer is the expected issuer claim. Empty disables the check.
	Issuer string `yaml:"issuer"`

	// ClaimUsername is the claim key for the username. Defaults to "sub".
	ClaimUsername string `yaml:"claimUsername"`

	// ClaimUsergroup is the claim key for the user group.
	ClaimUsergroup string `yaml:"claimUsergroup"`
}

// GetClaimUsername returns the username claim key, with default fallback.
func (o *JwtOptions) GetClaimUsername() string {
	if o.ClaimUsername != "" {
		return o.ClaimUsername
	}
	return "sub"
}

// NegotiateOptions configures the challenge/response provider.
type NegotiateOptions struct {
	// Realm names the protection space announced with each challenge.
	Realm string `yaml:"realm"`

	// ChallengePath is the path, relative to the application base path, the
	// client is redirected to with the issued challenge. Defaults to
	// "/auth/challenge".
	ChallengePath string `yaml:"challengePath"`
}

// GetChallengePath returns the challenge path, with default fallback.
func (o *NegotiateOptions) GetChallengePath() string {
	if o.ChallengePath != "" {
		return o.ChallengePath
	}
	return "/auth/challenge"
}

// SAMLOptions configures the federated single-sign-on provider. The
// assertion wire format is handled outside this module; the provider drives
// the redirect state machine.
type SAMLOptions struct {
	// SSOURL is the identity provider's single-sign-on endpoint.
	SSOURL string `yaml:"ssoUrl"`

	// SLOURL is the identity provider's single-logout endpoint. Empty
	// disables logout redirects.
	SLOURL string `yaml:"sloUrl"`

	// EntityID identifies this service provider to the identity provider.
	EntityID string `yaml:"entityId"`
}

// OIDCOptions configures the OpenID-Connect-style provider.
type OIDCOptions struct {
	AuthURL  string `yaml:"authUrl"`
	TokenURL string `yaml:"tokenUrl"`

	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	RedirectURL  string   `yaml:"redirectUrl"`
	Scopes       []string `yaml:"scopes"`

	// EndSessionURL is the identity provider's logout endpoint. Empty
	// disables logout redirects.
	EndSessionURL string `yaml:"endSessionUrl"`

	// ClaimUsername is the ID-token claim key for the username. Defaults to
	// "sub".
	ClaimUsername string `yaml:"claimUsername"`

	// ClaimUsergroup is the ID-token claim key for the user group.
	ClaimUsergroup string `yaml:"claimUsergroup"`
}

// GetClaimUsername returns the username claim key, with default fallback.
func (o *OIDCOptions) GetClaimUsername() string {
	if o.ClaimUsername != "" {
		return o.ClaimUsername
	}
	return "sub"
}

// GetScopes returns the requested scopes, defaulting to openid+profile.
func (o *OIDCOptions) GetScopes() []string {
	if len(o.Scopes) > 0 {
		return o.Scopes
	}
	return []string{"openid", "profile"}
}
