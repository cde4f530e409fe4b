package dbschema

import "time"

// AuditLog is one operator action. Rows are written with raw inserts by the
// audit recorder; the struct exists for migrations and reads.
type AuditLog struct {
	ID           uint      `gorm:"primaryKey"`
	OperatorID   string    `gorm:"type:varchar(64);not null;index"`
	Action       string    `gorm:"type:varchar(64);not null;index"`
	ResourceType string    `gorm:"type:varchar(32);not null"`
	ResourceID   string    `gorm:"type:varchar(64);not null"`
	Details      string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (AuditLog) TableName() string {
	return "audit_logs"
}

// All lists every schema for migrations.
func All() []any {
	return []any{&ChatSession{}, &Message{}, &AuditLog{}}
}
