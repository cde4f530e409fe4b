package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/infrastructure/database"
	"livechat-api/internal/infrastructure/database/dbschema"
)

func entry() conversation.AuditEntry {
	return conversation.AuditEntry{
		OperatorID:   "op-a",
		Action:       conversation.ActionClaim,
		ResourceType: "chat_session",
		ResourceID:   "12",
		Details:      map[string]any{"user_id": "U1"},
		At:           time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGormRecorder(t *testing.T) {
	db, err := database.Open(sqlite.Open(":memory:"), database.Config{MaxOpen: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, dbschema.All()...))

	r := NewGormRecorder(db)
	require.NoError(t, r.Record(context.Background(), entry()))

	var rows []dbschema.AuditLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "op-a", rows[0].OperatorID)
	assert.Equal(t, conversation.ActionClaim, rows[0].Action)
	assert.Equal(t, "12", rows[0].ResourceID)
	assert.JSONEq(t, `{"user_id":"U1"}`, rows[0].Details)
}

func TestGormRecorderReportsFailure(t *testing.T) {
	db, err := database.Open(sqlite.Open(":memory:"), database.Config{MaxOpen: 1})
	require.NoError(t, err)

	// No migration: the insert fails and the caller decides what to do.
	assert.Error(t, NewGormRecorder(db).Record(context.Background(), entry()))
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRecorder(zerolog.New(&buf))
	require.NoError(t, r.Record(context.Background(), entry()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["message"])
	assert.Equal(t, conversation.ActionClaim, line["action"])
	assert.Equal(t, "op-a", line["operator_id"])
}
