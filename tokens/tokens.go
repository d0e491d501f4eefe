// Package tokens issues and verifies the compact signed tokens providers use
// for intermediate login state: challenge nonces, relay state and callback
// state parameters. Tokens are HMAC-signed JWTs; they carry no session data
// themselves.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Manager signs and verifies state tokens with a shared HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// New creates a Manager. ttl bounds how long an issued token verifies; zero
// falls back to five minutes, which is plenty for a login round-trip.
func New(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("tokens: secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{secret: secret, ttl: ttl}, nil
}

// Issue signs a token for the given subject with extra claims merged in.
// Reserved claims (sub, iat, exp, jti) cannot be overridden.
func (m *Manager) Issue(subject string, extra map[string]any) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = subject
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(m.ttl).Unix()
	claims["jti"] = uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("tokens: signing failed: %w", err)
	}

	return signed, nil
}

// Verify checks the signature and expiry of a token and returns its claims.
func (m *Manager) Verify(signed string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(signed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithLeeway(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("tokens: verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("tokens: token is not valid")
	}

	return claims, nil
}

// Subject extracts the sub claim from verified claims.
func Subject(claims jwt.MapClaims) string {
	sub, _ := claims["sub"].(string)
	return sub
}
