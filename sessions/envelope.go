package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the generic, provider-agnostic session record persisted
// between requests. State is opaque: its meaning is defined solely by the
// provider named in Provider, and nothing else in the module inspects it.
type Envelope struct {
	Provider string    `yaml:"provider" json:"provider"`
	Expires  time.Time `yaml:"expires,omitempty" json:"expires,omitempty"`
	State    []byte    `yaml:"state,omitempty" json:"state,omitempty"`
}

// Expired reports whether the envelope has passed its expiry. A zero Expires
// is the no-expiry sentinel and never expires.
func (e *Envelope) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && now.After(e.Expires)
}

// NewSessionID generates an identifier for a new client session.
func NewSessionID() string {
	return uuid.NewString()
}
