package conversationrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/infrastructure/database/dbschema"
	"livechat-api/internal/utils/platformerrors"
)

// ConversationGormRepository stores sessions and messages in postgres.
// Every lifecycle transition is a single conditional UPDATE, so processes
// racing on the same session apply it at most once.
type ConversationGormRepository struct {
	db *gorm.DB
}

var _ conversation.Repository = (*ConversationGormRepository)(nil)

func NewConversationGormRepository(db *gorm.DB) *ConversationGormRepository {
	return &ConversationGormRepository{db: db}
}

// CreateSession implements conversation.Repository.
func (repo *ConversationGormRepository) CreateSession(ctx context.Context, userID string, at time.Time) (*conversation.Session, error) {
	row := dbschema.NewSchemaChatSession(&conversation.Session{
		UserID:         userID,
		Status:         conversation.StatusWaiting,
		StartedAt:      at.UTC(),
		LastActivityAt: at.UTC(),
	})
	if err := repo.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, conversation.ErrSessionConflict
		}
		return nil, dbError(ctx, err, "failed to create chat session")
	}
	return row.EtoD(), nil
}

// OpenSession implements conversation.Repository.
func (repo *ConversationGormRepository) OpenSession(ctx context.Context, userID string) (*conversation.Session, error) {
	return openSession(ctx, repo.db.WithContext(ctx), userID)
}

// Claim implements conversation.Repository.
func (repo *ConversationGormRepository) Claim(ctx context.Context, userID, operatorID string, at time.Time) (*conversation.Session, bool, error) {
	db := repo.db.WithContext(ctx)
	res := db.Model(&dbschema.ChatSession{}).
		Where("open_user_id = ? AND status = ?", userID, string(conversation.StatusWaiting)).
		Updates(map[string]any{
			"status":           string(conversation.StatusActive),
			"operator_id":      operatorID,
			"claimed_at":       at.UTC(),
			"last_activity_at": at.UTC(),
		})
	if res.Error != nil {
		return nil, false, dbError(ctx, res.Error, "failed to claim chat session")
	}

	sess, err := openSession(ctx, db, userID)
	if err != nil {
		return nil, false, err
	}
	if res.RowsAffected == 1 {
		return sess, true, nil
	}
	if sess.Status == conversation.StatusActive && sess.OperatorID == operatorID {
		return sess, false, nil
	}
	return nil, false, conversation.ErrSessionConflict
}

// Close implements conversation.Repository.
func (repo *ConversationGormRepository) Close(ctx context.Context, userID, operatorID string, by conversation.ClosedBy, at time.Time) (*conversation.Session, error) {
	db := repo.db.WithContext(ctx)
	sess, err := openSession(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if operatorID != "" && sess.Status == conversation.StatusActive && sess.OperatorID != operatorID {
		return nil, conversation.ErrSessionConflict
	}

	res := db.Model(&dbschema.ChatSession{}).
		Where("id = ? AND status = ? AND operator_id = ?", sess.ID, string(sess.Status), sess.OperatorID).
		Updates(closeColumns(by, at))
	if res.Error != nil {
		return nil, dbError(ctx, res.Error, "failed to close chat session")
	}
	if res.RowsAffected == 0 {
		return nil, conversation.ErrSessionConflict
	}
	return repo.byID(ctx, db, sess.ID)
}

// CloseIfIdle implements conversation.Repository.
func (repo *ConversationGormRepository) CloseIfIdle(ctx context.Context, sessionID uint, status conversation.Status, idleSince time.Time, by conversation.ClosedBy, at time.Time) (*conversation.Session, bool, error) {
	db := repo.db.WithContext(ctx)
	res := db.Model(&dbschema.ChatSession{}).
		Where("id = ? AND status = ? AND last_activity_at <= ?", sessionID, string(status), idleSince.UTC()).
		Updates(closeColumns(by, at))
	if res.Error != nil {
		return nil, false, dbError(ctx, res.Error, "failed to close idle chat session")
	}
	sess, err := repo.byID(ctx, db, sessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, res.RowsAffected == 1, nil
}

// Transfer implements conversation.Repository.
func (repo *ConversationGormRepository) Transfer(ctx context.Context, userID, fromOperator, toOperator string, at time.Time) (*conversation.Session, error) {
	db := repo.db.WithContext(ctx)
	res := db.Model(&dbschema.ChatSession{}).
		Where("open_user_id = ? AND status = ? AND operator_id = ?", userID, string(conversation.StatusActive), fromOperator).
		Updates(map[string]any{
			"operator_id":      toOperator,
			"transfer_count":   gorm.Expr("transfer_count + 1"),
			"last_activity_at": at.UTC(),
		})
	if res.Error != nil {
		return nil, dbError(ctx, res.Error, "failed to transfer chat session")
	}

	sess, err := openSession(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, conversation.ErrSessionConflict
	}
	return sess, nil
}

// RecordOperatorMessage implements conversation.Repository.
func (repo *ConversationGormRepository) RecordOperatorMessage(ctx context.Context, msg *conversation.Message) (*conversation.Session, bool, error) {
	var (
		sess  *conversation.Session
		first bool
	)
	err := repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dbschema.NewSchemaMessage(msg)).Error; err != nil {
			return dbError(ctx, err, "failed to save operator message")
		}

		open, err := openSession(ctx, tx, msg.UserID)
		if errors.Is(err, conversation.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&dbschema.ChatSession{}).
			Where("id = ?", open.ID).
			Updates(map[string]any{
				"message_count":    gorm.Expr("message_count + 1"),
				"last_activity_at": msg.CreatedAt.UTC(),
			}).Error; err != nil {
			return dbError(ctx, err, "failed to bump chat session")
		}

		res := tx.Model(&dbschema.ChatSession{}).
			Where("id = ? AND first_response_at IS NULL", open.ID).
			Update("first_response_at", msg.CreatedAt.UTC())
		if res.Error != nil {
			return dbError(ctx, res.Error, "failed to set first response")
		}
		first = res.RowsAffected == 1

		sess, err = repo.byID(ctx, tx, open.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return sess, first, nil
}

// SaveInbound implements conversation.Repository. A message ID that was
// already stored is ignored.
func (repo *ConversationGormRepository) SaveInbound(ctx context.Context, msg *conversation.Message) error {
	return repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dbschema.NewSchemaMessage(msg)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return dbError(ctx, err, "failed to save inbound message")
		}
		if err := tx.Model(&dbschema.ChatSession{}).
			Where("open_user_id = ?", msg.UserID).
			Updates(map[string]any{
				"message_count":    gorm.Expr("message_count + 1"),
				"last_activity_at": msg.CreatedAt.UTC(),
			}).Error; err != nil {
			return dbError(ctx, err, "failed to bump chat session")
		}
		return nil
	})
}

// CountInbound implements conversation.Repository.
func (repo *ConversationGormRepository) CountInbound(ctx context.Context, userID string, since *time.Time) (int64, error) {
	q := repo.db.WithContext(ctx).Model(&dbschema.Message{}).
		Where("user_id = ? AND direction = ?", userID, string(conversation.DirectionIncoming))
	if since != nil {
		q = q.Where("created_at > ?", since.UTC())
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, dbError(ctx, err, "failed to count inbound messages")
	}
	return n, nil
}

// RecentMessages implements conversation.Repository.
func (repo *ConversationGormRepository) RecentMessages(ctx context.Context, userID string, limit int) ([]*conversation.Message, error) {
	var rows []*dbschema.Message
	q := repo.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, dbError(ctx, err, "failed to load messages")
	}

	result := make([]*conversation.Message, len(rows))
	for i, row := range rows {
		result[len(rows)-1-i] = row.EtoD()
	}
	return result, nil
}

// StaleSessions implements conversation.Repository.
func (repo *ConversationGormRepository) StaleSessions(ctx context.Context, status conversation.Status, idleSince time.Time) ([]*conversation.Session, error) {
	var rows []*dbschema.ChatSession
	if err := repo.db.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", string(status), idleSince.UTC()).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, dbError(ctx, err, "failed to list stale chat sessions")
	}
	return toDomain(rows), nil
}

// LiveKPIs implements conversation.Repository.
func (repo *ConversationGormRepository) LiveKPIs(ctx context.Context, now time.Time) (conversation.KPIs, error) {
	db := repo.db.WithContext(ctx)
	now = now.UTC()

	var waiting, active int64
	if err := db.Model(&dbschema.ChatSession{}).Where("status = ?", string(conversation.StatusWaiting)).Count(&waiting).Error; err != nil {
		return conversation.KPIs{}, dbError(ctx, err, "failed to count waiting sessions")
	}
	if err := db.Model(&dbschema.ChatSession{}).Where("status = ?", string(conversation.StatusActive)).Count(&active).Error; err != nil {
		return conversation.KPIs{}, dbError(ctx, err, "failed to count active sessions")
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var rows []*dbschema.ChatSession
	if err := db.
		Where("(first_response_at IS NOT NULL AND claimed_at > ?) OR (status = ? AND closed_at > ?)",
			now.Add(-conversation.FirstResponseWindow), string(conversation.StatusClosed), dayStart).
		Find(&rows).Error; err != nil {
		return conversation.KPIs{}, dbError(ctx, err, "failed to load KPI sessions")
	}
	return conversation.ComputeKPIs(waiting, active, toDomain(rows), now), nil
}

func (repo *ConversationGormRepository) byID(ctx context.Context, db *gorm.DB, id uint) (*conversation.Session, error) {
	var row dbschema.ChatSession
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversation.ErrSessionNotFound
		}
		return nil, dbError(ctx, err, "failed to load chat session")
	}
	return row.EtoD(), nil
}

func openSession(ctx context.Context, db *gorm.DB, userID string) (*conversation.Session, error) {
	var row dbschema.ChatSession
	if err := db.Where("open_user_id = ?", userID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversation.ErrSessionNotFound
		}
		return nil, dbError(ctx, err, "failed to load open chat session")
	}
	return row.EtoD(), nil
}

func closeColumns(by conversation.ClosedBy, at time.Time) map[string]any {
	return map[string]any{
		"status":           string(conversation.StatusClosed),
		"closed_at":        at.UTC(),
		"closed_by":        string(by),
		"last_activity_at": at.UTC(),
		"open_user_id":     gorm.Expr("NULL"),
	}
}

func toDomain(rows []*dbschema.ChatSession) []*conversation.Session {
	result := make([]*conversation.Session, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.EtoD())
	}
	return result
}

func dbError(ctx context.Context, err error, message string) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, message, err, "")
}
