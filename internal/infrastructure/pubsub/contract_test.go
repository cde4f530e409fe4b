package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/broker"
)

// clientFactory returns two clients that share the same backing store, as
// two processes would.
type clientFactory func(t *testing.T) (broker.Client, broker.Client)

func runClientContract(t *testing.T, newClients clientFactory) {
	ctx := context.Background()

	t.Run("sets", func(t *testing.T) {
		a, _ := newClients(t)
		require.NoError(t, a.SetAdd(ctx, "s", "x", "y"))
		require.NoError(t, a.SetAdd(ctx, "s", "y"))

		members, err := a.SetMembers(ctx, "s")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"x", "y"}, members)

		ok, err := a.SetIsMember(ctx, "s", "x")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, a.SetRemove(ctx, "s", "x", "y"))
		exists, err := a.Exists(ctx, "s")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("scored sets", func(t *testing.T) {
		a, _ := newClients(t)
		require.NoError(t, a.ScoreSet(ctx, "z", "old", 10))
		require.NoError(t, a.ScoreSet(ctx, "z", "new", 100))

		members, err := a.ScoreRangeByScore(ctx, "z", 50, broker.ScoreMax)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, members)

		require.NoError(t, a.ScoreRemoveRangeByScore(ctx, "z", broker.ScoreMin, 50))
		members, err = a.ScoreRangeByScore(ctx, "z", broker.ScoreMin, broker.ScoreMax)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, members)

		require.NoError(t, a.ScoreIncr(ctx, "acc", "op", 1.5))
		require.NoError(t, a.ScoreIncr(ctx, "acc", "op", 2))
		members, err = a.ScoreRangeByScore(ctx, "acc", 3.5, 3.5)
		require.NoError(t, err)
		assert.Equal(t, []string{"op"}, members)

		require.NoError(t, a.ScoreRemove(ctx, "z", "new"))
		members, err = a.ScoreRangeByScore(ctx, "z", broker.ScoreMin, broker.ScoreMax)
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("strings", func(t *testing.T) {
		a, b := newClients(t)
		_, err := a.Get(ctx, "missing")
		assert.True(t, errors.Is(err, broker.ErrNil))

		require.NoError(t, a.Set(ctx, "k", "v", time.Hour))
		got, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)

		ok, err := b.SetNX(ctx, "k", "other", 0)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = b.SetNX(ctx, "nx", "first", 0)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err = a.GetDel(ctx, "nx")
		require.NoError(t, err)
		assert.Equal(t, "first", got)
		_, err = a.GetDel(ctx, "nx")
		assert.True(t, errors.Is(err, broker.ErrNil))

		require.NoError(t, a.Delete(ctx, "k"))
		exists, err := a.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("publish reaches every subscribed client", func(t *testing.T) {
		a, b := newClients(t)

		var mu sync.Mutex
		received := map[string][]string{}
		record := func(name string) broker.Handler {
			return func(_ context.Context, msg broker.Message) {
				mu.Lock()
				defer mu.Unlock()
				received[name] = append(received[name], string(msg.Payload))
			}
		}
		require.NoError(t, a.Subscribe(ctx, "chan", record("a")))
		require.NoError(t, b.Subscribe(ctx, "chan", record("b")))

		require.NoError(t, a.Publish(ctx, "chan", []byte("hello")))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received["a"]) == 1 && len(received["b"]) == 1
		}, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, b.Unsubscribe(ctx, "chan"))
		require.NoError(t, a.Publish(ctx, "chan", []byte("again")))
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received["a"]) == 2
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"hello"}, received["b"])
	})

	t.Run("ping", func(t *testing.T) {
		a, _ := newClients(t)
		assert.NoError(t, a.Ping(ctx))
	})
}
