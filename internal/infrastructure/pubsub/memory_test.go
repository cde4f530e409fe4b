package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/broker"
)

func newMemoryPair(t *testing.T) (broker.Client, broker.Client) {
	store := NewMemoryStore()
	a := NewMemoryClient(store, broker.NewDispatcher(zerolog.Nop()), zerolog.Nop())
	b := NewMemoryClient(store, broker.NewDispatcher(zerolog.Nop()), zerolog.Nop())
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestMemoryClientContract(t *testing.T) {
	runClientContract(t, newMemoryPair)
}

func TestMemoryClientExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return now })
	c := NewMemoryClient(store, broker.NewDispatcher(zerolog.Nop()), zerolog.Nop())
	defer c.Close()

	require.NoError(t, c.Set(ctx, "conn", "1", 3*time.Minute))
	require.NoError(t, c.SetAdd(ctx, "rooms", "r1"))
	require.NoError(t, c.Expire(ctx, "rooms", time.Minute))
	assert.Equal(t, time.Minute, c.TTL("rooms"))

	now = now.Add(2 * time.Minute)
	exists, err := c.Exists(ctx, "rooms")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = c.Exists(ctx, "conn")
	require.NoError(t, err)
	assert.True(t, exists)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "conn")
	assert.ErrorIs(t, err, broker.ErrNil)
}

func TestMemoryClientUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := NewMemoryClient(store, broker.NewDispatcher(zerolog.Nop()), zerolog.Nop())
	defer c.Close()

	outage := errors.New("connection refused")
	c.SetUnavailable(outage)
	assert.ErrorIs(t, c.Publish(ctx, "x", nil), outage)
	assert.ErrorIs(t, c.SetAdd(ctx, "s", "m"), outage)
	assert.ErrorIs(t, c.Ping(ctx), outage)

	c.SetUnavailable(nil)
	assert.NoError(t, c.Ping(ctx))
}

func TestMemoryClientClosed(t *testing.T) {
	store := NewMemoryStore()
	c := NewMemoryClient(store, broker.NewDispatcher(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrClosed)
}
