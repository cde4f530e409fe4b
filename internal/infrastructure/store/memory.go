package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/conversation"
)

var _ conversation.Repository = (*MemoryStore)(nil)

// MemoryStore is a mutex-based in-memory conversation store.
// Thread-safe via sync.RWMutex. It backs single-instance deployments and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    uint
	sessions  map[uint]*conversation.Session
	openIndex map[string]uint // user -> open session ID
	messages  map[string][]*conversation.Message
	seen      map[string]struct{} // message IDs
	log       zerolog.Logger
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[uint]*conversation.Session),
		openIndex: make(map[string]uint),
		messages:  make(map[string][]*conversation.Message),
		seen:      make(map[string]struct{}),
		log:       log.With().Str("component", "conversation-store").Logger(),
	}
}

// CreateSession opens a WAITING session for userID.
func (s *MemoryStore) CreateSession(ctx context.Context, userID string, at time.Time) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openIndex[userID]; exists {
		return nil, conversation.ErrSessionConflict
	}

	s.nextID++
	sess := &conversation.Session{
		ID:             s.nextID,
		UserID:         userID,
		Status:         conversation.StatusWaiting,
		StartedAt:      at,
		LastActivityAt: at,
	}
	s.sessions[sess.ID] = sess
	s.openIndex[userID] = sess.ID
	return clone(sess), nil
}

// OpenSession returns the WAITING or ACTIVE session of userID.
func (s *MemoryStore) OpenSession(ctx context.Context, userID string) (*conversation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.open(userID)
	if sess == nil {
		return nil, conversation.ErrSessionNotFound
	}
	return clone(sess), nil
}

// Claim moves the WAITING session of userID to ACTIVE.
func (s *MemoryStore) Claim(ctx context.Context, userID, operatorID string, at time.Time) (*conversation.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.open(userID)
	if sess == nil {
		return nil, false, conversation.ErrSessionNotFound
	}
	if sess.Status == conversation.StatusActive {
		if sess.OperatorID == operatorID {
			return clone(sess), false, nil
		}
		return nil, false, conversation.ErrSessionConflict
	}

	claimedAt := at
	sess.Status = conversation.StatusActive
	sess.OperatorID = operatorID
	sess.ClaimedAt = &claimedAt
	sess.LastActivityAt = at
	return clone(sess), true, nil
}

// Close ends the open session of userID.
func (s *MemoryStore) Close(ctx context.Context, userID, operatorID string, by conversation.ClosedBy, at time.Time) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.open(userID)
	if sess == nil {
		return nil, conversation.ErrSessionNotFound
	}
	if operatorID != "" && sess.Status == conversation.StatusActive && sess.OperatorID != operatorID {
		return nil, conversation.ErrSessionConflict
	}
	s.closeLocked(sess, by, at)
	return clone(sess), nil
}

// CloseIfIdle closes sessionID when it is still in status and idle since idleSince.
func (s *MemoryStore) CloseIfIdle(ctx context.Context, sessionID uint, status conversation.Status, idleSince time.Time, by conversation.ClosedBy, at time.Time) (*conversation.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, conversation.ErrSessionNotFound
	}
	if sess.Status != status || sess.LastActivityAt.After(idleSince) {
		return clone(sess), false, nil
	}
	s.closeLocked(sess, by, at)
	return clone(sess), true, nil
}

// Transfer hands the ACTIVE session of userID from one operator to another.
func (s *MemoryStore) Transfer(ctx context.Context, userID, fromOperator, toOperator string, at time.Time) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.open(userID)
	if sess == nil {
		return nil, conversation.ErrSessionNotFound
	}
	if sess.Status != conversation.StatusActive || sess.OperatorID != fromOperator {
		return nil, conversation.ErrSessionConflict
	}
	sess.OperatorID = toOperator
	sess.TransferCount++
	sess.LastActivityAt = at
	return clone(sess), nil
}

// RecordOperatorMessage stores msg and bumps the open session, if any.
func (s *MemoryStore) RecordOperatorMessage(ctx context.Context, msg *conversation.Message) (*conversation.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(msg)

	sess := s.open(msg.UserID)
	if sess == nil {
		return nil, false, nil
	}
	sess.MessageCount++
	sess.LastActivityAt = msg.CreatedAt
	first := false
	if sess.FirstResponseAt == nil {
		respondedAt := msg.CreatedAt
		sess.FirstResponseAt = &respondedAt
		first = true
	}
	return clone(sess), first, nil
}

// SaveInbound stores an end-user message and refreshes open-session activity.
// A message ID that was already stored is ignored.
func (s *MemoryStore) SaveInbound(ctx context.Context, msg *conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.appendLocked(msg) {
		return nil
	}
	if sess := s.open(msg.UserID); sess != nil {
		sess.MessageCount++
		sess.LastActivityAt = msg.CreatedAt
	}
	return nil
}

// CountInbound counts incoming messages of userID created after since.
func (s *MemoryStore) CountInbound(ctx context.Context, userID string, since *time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages[userID] {
		if m.Direction != conversation.DirectionIncoming {
			continue
		}
		if since != nil && !m.CreatedAt.After(*since) {
			continue
		}
		n++
	}
	return n, nil
}

// RecentMessages returns the newest limit messages of userID, oldest first.
func (s *MemoryStore) RecentMessages(ctx context.Context, userID string, limit int) ([]*conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[userID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	result := make([]*conversation.Message, 0, len(all)-start)
	for _, m := range all[start:] {
		cp := *m
		result = append(result, &cp)
	}
	return result, nil
}

// StaleSessions lists sessions in status with no activity since idleSince.
func (s *MemoryStore) StaleSessions(ctx context.Context, status conversation.Status, idleSince time.Time) ([]*conversation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*conversation.Session
	for _, sess := range s.sessions {
		if sess.Status == status && sess.LastActivityAt.Before(idleSince) {
			result = append(result, clone(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// LiveKPIs computes dashboard figures as of now.
func (s *MemoryStore) LiveKPIs(ctx context.Context, now time.Time) (conversation.KPIs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var waiting, active int64
	candidates := make([]*conversation.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		switch sess.Status {
		case conversation.StatusWaiting:
			waiting++
		case conversation.StatusActive:
			active++
		}
		candidates = append(candidates, sess)
	}
	return conversation.ComputeKPIs(waiting, active, candidates, now), nil
}

func (s *MemoryStore) open(userID string) *conversation.Session {
	id, ok := s.openIndex[userID]
	if !ok {
		return nil
	}
	return s.sessions[id]
}

func (s *MemoryStore) closeLocked(sess *conversation.Session, by conversation.ClosedBy, at time.Time) {
	closedAt := at
	sess.Status = conversation.StatusClosed
	sess.ClosedAt = &closedAt
	sess.ClosedBy = by
	sess.LastActivityAt = at
	delete(s.openIndex, sess.UserID)
}

func (s *MemoryStore) appendLocked(msg *conversation.Message) bool {
	if msg.ID != "" {
		if _, dup := s.seen[msg.ID]; dup {
			s.log.Debug().Str("message_id", msg.ID).Msg("duplicate message ignored")
			return false
		}
		s.seen[msg.ID] = struct{}{}
	}
	cp := *msg
	list := s.messages[msg.UserID]
	// Keep creation order even when callers supply out-of-order timestamps.
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.After(cp.CreatedAt) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	s.messages[msg.UserID] = list
	return true
}

func clone(sess *conversation.Session) *conversation.Session {
	cp := *sess
	cp.ClaimedAt = copyTime(sess.ClaimedAt)
	cp.FirstResponseAt = copyTime(sess.FirstResponseAt)
	cp.ClosedAt = copyTime(sess.ClosedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
