// Package audit persists the operator action trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"livechat-api/internal/domain/conversation"
)

var (
	_ conversation.AuditRecorder = (*GormRecorder)(nil)
	_ conversation.AuditRecorder = (*LogRecorder)(nil)
)

// GormRecorder records operator actions to the audit_logs table.
type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

// Record persists entry. Callers treat failures as best effort.
func (r *GormRecorder) Record(ctx context.Context, entry conversation.AuditEntry) error {
	if r == nil || r.db == nil {
		return nil
	}

	var details string
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(b)
	}

	sql := `
INSERT INTO audit_logs
    (operator_id, action, resource_type, resource_id, details, created_at)
VALUES
    (?, ?, ?, ?, ?, ?)
`
	if err := r.db.WithContext(ctx).Exec(sql,
		entry.OperatorID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		details,
		entry.At.UTC(),
	).Error; err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// LogRecorder writes audit entries to the structured log. It is used when
// no database is configured.
type LogRecorder struct {
	log zerolog.Logger
}

func NewLogRecorder(log zerolog.Logger) *LogRecorder {
	return &LogRecorder{log: log.With().Str("component", "audit").Logger()}
}

// Record implements conversation.AuditRecorder.
func (r *LogRecorder) Record(ctx context.Context, entry conversation.AuditEntry) error {
	r.log.Info().
		Str("operator_id", entry.OperatorID).
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Interface("details", entry.Details).
		Time("at", entry.At).
		Msg("audit")
	return nil
}
