package sessions

import (
	"context"
	"sync"
)

// Store is the per-request view of session storage. Implementations must be
// read-your-writes: a Set or Clear takes effect for subsequent Get calls
// within the same logical session lifetime.
//
// Get returns (nil, nil) when no session exists.
type Store interface {
	Get(ctx context.Context) (*Envelope, error)
	Set(ctx context.Context, env Envelope) error
	Clear(ctx context.Context) error
}

// MemoryStore is an in-memory Store holding a single envelope. It is used in
// tests and by callers that manage their own persistence.
type MemoryStore struct {
	mu  sync.Mutex
	env *Envelope
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.env == nil {
		return nil, nil
	}

	env := *s.env
	return &env, nil
}

func (s *MemoryStore) Set(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.env = &env
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.env = nil
	return nil
}
