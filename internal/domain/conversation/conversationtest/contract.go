// Package conversationtest holds the behavioural contract every
// conversation.Repository implementation must satisfy.
package conversationtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/conversation"
)

// Factory returns a fresh, empty repository.
type Factory func(t *testing.T) conversation.Repository

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// Run exercises repo against the lifecycle and message rules.
func Run(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	t.Run("create rejects a second open session", func(t *testing.T) {
		repo := newRepo(t)
		sess, err := repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)
		assert.Equal(t, conversation.StatusWaiting, sess.Status)
		assert.NotZero(t, sess.ID)

		_, err = repo.CreateSession(ctx, "U1", base)
		assert.ErrorIs(t, err, conversation.ErrSessionConflict)

		open, err := repo.OpenSession(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, sess.ID, open.ID)

		_, err = repo.OpenSession(ctx, "U2")
		assert.ErrorIs(t, err, conversation.ErrSessionNotFound)
	})

	t.Run("claim", func(t *testing.T) {
		repo := newRepo(t)
		_, _, err := repo.Claim(ctx, "U1", "op-a", base)
		assert.ErrorIs(t, err, conversation.ErrSessionNotFound)

		_, err = repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)

		sess, claimed, err := repo.Claim(ctx, "U1", "op-a", base.Add(400*time.Second))
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, conversation.StatusActive, sess.Status)
		assert.Equal(t, "op-a", sess.OperatorID)
		require.NotNil(t, sess.ClaimedAt)
		assert.True(t, sess.ClaimedAt.Equal(base.Add(400*time.Second)))

		sess, claimed, err = repo.Claim(ctx, "U1", "op-a", base.Add(500*time.Second))
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.True(t, sess.ClaimedAt.Equal(base.Add(400*time.Second)))

		_, _, err = repo.Claim(ctx, "U1", "op-b", base.Add(500*time.Second))
		assert.ErrorIs(t, err, conversation.ErrSessionConflict)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, claimed, err := repo.Claim(ctx, "U1", fmt.Sprintf("op-%d", i), base.Add(time.Second))
				if err == nil && claimed {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("close", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Close(ctx, "U1", "op-a", conversation.ClosedByOperator, base)
		assert.ErrorIs(t, err, conversation.ErrSessionNotFound)

		_, err = repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)
		_, _, err = repo.Claim(ctx, "U1", "op-a", base.Add(time.Minute))
		require.NoError(t, err)

		_, err = repo.Close(ctx, "U1", "op-b", conversation.ClosedByOperator, base.Add(2*time.Minute))
		assert.ErrorIs(t, err, conversation.ErrSessionConflict)

		sess, err := repo.Close(ctx, "U1", "op-a", conversation.ClosedByOperator, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, conversation.StatusClosed, sess.Status)
		assert.Equal(t, conversation.ClosedByOperator, sess.ClosedBy)
		require.NotNil(t, sess.ClosedAt)

		_, err = repo.OpenSession(ctx, "U1")
		assert.ErrorIs(t, err, conversation.ErrSessionNotFound)

		// A closed session does not block a new handoff.
		_, err = repo.CreateSession(ctx, "U1", base.Add(3*time.Minute))
		require.NoError(t, err)
	})

	t.Run("transfer", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)

		_, err = repo.Transfer(ctx, "U1", "op-a", "op-b", base)
		assert.ErrorIs(t, err, conversation.ErrSessionConflict, "waiting sessions cannot be transferred")

		_, _, err = repo.Claim(ctx, "U1", "op-a", base)
		require.NoError(t, err)

		_, err = repo.Transfer(ctx, "U1", "op-c", "op-b", base)
		assert.ErrorIs(t, err, conversation.ErrSessionConflict)

		sess, err := repo.Transfer(ctx, "U1", "op-a", "op-b", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "op-b", sess.OperatorID)
		assert.Equal(t, 1, sess.TransferCount)
	})

	t.Run("first response is reported once", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)
		_, _, err = repo.Claim(ctx, "U1", "op-a", base)
		require.NoError(t, err)

		sess, first, err := repo.RecordOperatorMessage(ctx, outgoing("m1", "U1", base.Add(30*time.Second)))
		require.NoError(t, err)
		assert.True(t, first)
		require.NotNil(t, sess.FirstResponseAt)
		assert.Equal(t, 1, sess.MessageCount)

		sess, first, err = repo.RecordOperatorMessage(ctx, outgoing("m2", "U1", base.Add(60*time.Second)))
		require.NoError(t, err)
		assert.False(t, first)
		assert.True(t, sess.FirstResponseAt.Equal(base.Add(30*time.Second)))
		assert.Equal(t, 2, sess.MessageCount)

		sess, first, err = repo.RecordOperatorMessage(ctx, outgoing("m3", "U2", base))
		require.NoError(t, err)
		assert.Nil(t, sess, "messages without a session are still stored")
		assert.False(t, first)
	})

	t.Run("unread counting and history", func(t *testing.T) {
		repo := newRepo(t)
		for i := 1; i <= 3; i++ {
			require.NoError(t, repo.SaveInbound(ctx, incoming(fmt.Sprintf("in-%d", i), "U1", base.Add(time.Duration(i)*time.Second))))
		}
		_, _, err := repo.RecordOperatorMessage(ctx, outgoing("out-1", "U1", base.Add(10*time.Second)))
		require.NoError(t, err)

		n, err := repo.CountInbound(ctx, "U1", nil)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		marker := base.Add(2 * time.Second)
		n, err = repo.CountInbound(ctx, "U1", &marker)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		recent, err := repo.RecentMessages(ctx, "U1", 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "in-3", recent[0].ID)
		assert.Equal(t, "out-1", recent[1].ID)
		assert.Equal(t, conversation.DirectionOutgoing, recent[1].Direction)
	})

	t.Run("idle sessions close once", func(t *testing.T) {
		repo := newRepo(t)
		waiting, err := repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)
		_, err = repo.CreateSession(ctx, "U2", base.Add(20*time.Minute))
		require.NoError(t, err)

		idleSince := base.Add(10 * time.Minute)
		stale, err := repo.StaleSessions(ctx, conversation.StatusWaiting, idleSince)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, waiting.ID, stale[0].ID)

		sess, closed, err := repo.CloseIfIdle(ctx, waiting.ID, conversation.StatusWaiting, idleSince, conversation.ClosedBySystemTimeout, base.Add(15*time.Minute))
		require.NoError(t, err)
		assert.True(t, closed)
		assert.Equal(t, conversation.ClosedBySystemTimeout, sess.ClosedBy)

		_, closed, err = repo.CloseIfIdle(ctx, waiting.ID, conversation.StatusWaiting, idleSince, conversation.ClosedBySystemTimeout, base.Add(16*time.Minute))
		require.NoError(t, err)
		assert.False(t, closed, "a second cleaner must not close it again")
	})

	t.Run("fresh activity prevents idle close", func(t *testing.T) {
		repo := newRepo(t)
		sess, err := repo.CreateSession(ctx, "U1", base)
		require.NoError(t, err)
		_, _, err = repo.Claim(ctx, "U1", "op-a", base)
		require.NoError(t, err)
		require.NoError(t, repo.SaveInbound(ctx, incoming("in-1", "U1", base.Add(40*time.Minute))))

		_, closed, err := repo.CloseIfIdle(ctx, sess.ID, conversation.StatusActive, base.Add(30*time.Minute), conversation.ClosedBySystem, base.Add(41*time.Minute))
		require.NoError(t, err)
		assert.False(t, closed)
	})

	t.Run("live KPIs", func(t *testing.T) {
		repo := newRepo(t)
		now := base.Add(2 * time.Hour)

		_, err := repo.CreateSession(ctx, "U-wait", now.Add(-time.Minute))
		require.NoError(t, err)

		_, err = repo.CreateSession(ctx, "U-active", now.Add(-30*time.Minute))
		require.NoError(t, err)
		_, _, err = repo.Claim(ctx, "U-active", "op-a", now.Add(-20*time.Minute))
		require.NoError(t, err)
		_, _, err = repo.RecordOperatorMessage(ctx, outgoing("m1", "U-active", now.Add(-20*time.Minute+40*time.Second)))
		require.NoError(t, err)

		_, err = repo.CreateSession(ctx, "U-done", now.Add(-50*time.Minute))
		require.NoError(t, err)
		_, err = repo.Close(ctx, "U-done", "", conversation.ClosedByUser, now.Add(-40*time.Minute))
		require.NoError(t, err)

		kpis, err := repo.LiveKPIs(ctx, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, kpis.Waiting)
		assert.EqualValues(t, 1, kpis.Active)
		assert.InDelta(t, 40.0, kpis.AvgFirstResponseSeconds, 0.001)
		assert.InDelta(t, 600.0, kpis.AvgResolutionSeconds, 0.001)
	})
}

func incoming(id, userID string, at time.Time) *conversation.Message {
	return &conversation.Message{
		ID:          id,
		UserID:      userID,
		Direction:   conversation.DirectionIncoming,
		MessageType: "text",
		Content:     "hello " + id,
		SenderRole:  conversation.SenderUser,
		CreatedAt:   at,
	}
}

func outgoing(id, userID string, at time.Time) *conversation.Message {
	return &conversation.Message{
		ID:          id,
		UserID:      userID,
		Direction:   conversation.DirectionOutgoing,
		MessageType: "text",
		Content:     "reply " + id,
		SenderRole:  conversation.SenderAdmin,
		OperatorID:  "op-a",
		CreatedAt:   at,
	}
}
