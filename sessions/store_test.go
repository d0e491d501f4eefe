package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReadYourWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	env, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, env)

	require.NoError(t, store.Set(ctx, Envelope{Provider: "password", State: []byte("state")}))

	env, err = store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "password", env.Provider)
	assert.Equal(t, []byte("state"), env.State)

	require.NoError(t, store.Clear(ctx))

	env, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, Envelope{Provider: "password"}))

	env, err := store.Get(ctx)
	require.NoError(t, err)
	env.Provider = "mutated"

	again, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "password", again.Provider)
}

func TestEnvelopeExpired(t *testing.T) {
	now := time.Now()

	noExpiry := Envelope{Provider: "password"}
	assert.False(t, noExpiry.Expired(now), "zero expiry means the session never expires")

	future := Envelope{Provider: "password", Expires: now.Add(time.Hour)}
	assert.False(t, future.Expired(now))

	past := Envelope{Provider: "password", Expires: now.Add(-time.Hour)}
	assert.True(t, past.Expired(now))
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
