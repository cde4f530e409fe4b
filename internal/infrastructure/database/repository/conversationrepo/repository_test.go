package conversationrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/conversation/conversationtest"
	"livechat-api/internal/infrastructure/database"
	"livechat-api/internal/infrastructure/database/dbschema"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One connection keeps the in-memory database alive and serialises writers.
	db, err := database.Open(sqlite.Open(":memory:"), database.Config{MaxOpen: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, dbschema.All()...))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestConversationGormRepositoryContract(t *testing.T) {
	conversationtest.Run(t, func(t *testing.T) conversation.Repository {
		return NewConversationGormRepository(newTestDB(t))
	})
}

func TestSaveInboundIgnoresRedelivery(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationGormRepository(newTestDB(t))
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.CreateSession(ctx, "U1", at)
	require.NoError(t, err)

	msg := &conversation.Message{
		ID:          "line-42",
		UserID:      "U1",
		Direction:   conversation.DirectionIncoming,
		MessageType: "text",
		Content:     "hello",
		SenderRole:  conversation.SenderUser,
		CreatedAt:   at.Add(time.Second),
	}
	require.NoError(t, repo.SaveInbound(ctx, msg))
	require.NoError(t, repo.SaveInbound(ctx, msg))

	n, err := repo.CountInbound(ctx, "U1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	sess, err := repo.OpenSession(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.MessageCount)
}
