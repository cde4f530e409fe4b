// Package livechat composes the broadcaster, presence, the conversation
// store, the audit trail and the SLA monitor into the operator-facing
// live-chat operations. Every lifecycle action runs store, audit, SLA and
// broadcast in that order.
package livechat

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/presence"
	"livechat-api/internal/domain/ratelimit"
	"livechat-api/internal/domain/sla"
)

// ErrNotInRoom is returned for room-scoped actions on a connection that has
// not joined a conversation.
var ErrNotInRoom = event.NewFrameError(event.CodeNotInRoom, "Join a room first", nil)

// SystemOperator is recorded as the actor of automatic transitions.
const SystemOperator = "system"

// Defaults.
const (
	DefaultHistoryLimit    = 50
	DefaultDedupeSize      = 4096
	DefaultInactiveTimeout = 30 * time.Minute
	DefaultWaitingTimeout  = 10 * time.Minute
)

// TransitionRecorder counts lifecycle transitions.
type TransitionRecorder interface {
	SessionTransition(toState string)
}

// Options tunes the service.
type Options struct {
	HistoryLimit    int
	DedupeSize      int
	InactiveTimeout time.Duration
	WaitingTimeout  time.Duration
}

func (o *Options) withDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = DefaultDedupeSize
	}
	if o.InactiveTimeout <= 0 {
		o.InactiveTimeout = DefaultInactiveTimeout
	}
	if o.WaitingTimeout <= 0 {
		o.WaitingTimeout = DefaultWaitingTimeout
	}
}

// Service is the live-chat orchestration layer used by the websocket
// handler and the REST routes.
type Service struct {
	repo        conversation.Repository
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	presence    *presence.Store
	limiter     *ratelimit.Limiter
	monitor     *sla.Monitor
	audit       conversation.AuditRecorder
	outbound    conversation.Outbound
	transitions TransitionRecorder
	dedupe      *lru.Cache
	opts        Options
	now         func() time.Time
	log         zerolog.Logger
}

// Deps are the collaborators of a Service. Transitions may be nil.
type Deps struct {
	Repository  conversation.Repository
	Registry    *hub.Registry
	Broadcaster *hub.Broadcaster
	Presence    *presence.Store
	Limiter     *ratelimit.Limiter
	Monitor     *sla.Monitor
	Audit       conversation.AuditRecorder
	Outbound    conversation.Outbound
	Transitions TransitionRecorder
}

// NewService creates a Service.
func NewService(deps Deps, opts Options, log zerolog.Logger) (*Service, error) {
	opts.withDefaults()
	cache, err := lru.New(opts.DedupeSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:        deps.Repository,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		presence:    deps.Presence,
		limiter:     deps.Limiter,
		monitor:     deps.Monitor,
		audit:       deps.Audit,
		outbound:    deps.Outbound,
		transitions: deps.Transitions,
		dedupe:      cache,
		opts:        opts,
		now:         time.Now,
		log:         log.With().Str("component", "livechat-service").Logger(),
	}, nil
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ServerID identifies this process.
func (s *Service) ServerID() string {
	return s.broadcaster.ServerID()
}

// Connect registers an authenticated connection, acknowledges it and
// refreshes everyone's presence view.
func (s *Service) Connect(ctx context.Context, conn hub.Conn, operatorID string) error {
	s.registry.Register(ctx, conn, operatorID)

	now := s.now()
	ack := event.Must(event.TypeAuthSuccess, event.AuthSuccessPayload{
		OperatorID:   operatorID,
		ServerID:     s.broadcaster.ServerID(),
		ConnectionID: conn.ID(),
	}, now)
	if err := s.send(ctx, conn, ack); err != nil {
		return err
	}

	update := s.presenceUpdate(ctx, now)
	if err := s.send(ctx, conn, update); err != nil {
		return err
	}
	s.broadcaster.BroadcastToAll(ctx, update, operatorID)
	return nil
}

// Disconnect runs connection cleanup. It is safe to call for connections
// that never authenticated or were already pruned.
func (s *Service) Disconnect(ctx context.Context, conn hub.Conn) {
	operatorID, last, err := s.registry.Unregister(ctx, conn)
	if err != nil {
		return
	}
	if last && s.limiter != nil {
		s.limiter.Reset(operatorID)
	}
	s.broadcaster.BroadcastToAll(ctx, s.presenceUpdate(ctx, s.now()), "")
}

// Allow applies the per-operator rate limit. remaining is reported on rejection.
func (s *Service) Allow(operatorID string) (ok bool, remaining int) {
	if s.limiter == nil {
		return true, 0
	}
	if s.limiter.Allow(operatorID) {
		return true, s.limiter.Remaining(operatorID)
	}
	return false, s.limiter.Remaining(operatorID)
}

// Ping refreshes presence and answers with the server time.
func (s *Service) Ping(ctx context.Context, conn hub.Conn) error {
	operatorID, err := s.operatorOf(conn)
	if err != nil {
		return err
	}
	s.broadcaster.Touch(ctx, operatorID)
	now := s.now()
	return s.send(ctx, conn, event.Must(event.TypePong, event.PongPayload{ServerTime: event.FormatTime(now)}, now))
}

// JoinConversation moves conn into the room of userID, marks it read and
// replies with the conversation state.
func (s *Service) JoinConversation(ctx context.Context, conn hub.Conn, userID string) error {
	operatorID, err := s.operatorOf(conn)
	if err != nil {
		return err
	}
	if err := s.broadcaster.JoinRoom(ctx, conn, event.RoomID(userID)); err != nil {
		return err
	}

	update := event.ConversationUpdatePayload{UserID: userID}
	if unread, err := s.presence.UnreadCount(ctx, userID, operatorID); err == nil {
		update.UnreadCount = &unread
	} else {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("unread count unavailable")
	}

	now := s.now()
	if err := s.presence.MarkRead(ctx, operatorID, userID, now); err != nil {
		s.log.Warn().Err(err).Str("operator_id", operatorID).Str("user_id", userID).Msg("mark read failed")
	}

	session, err := s.repo.OpenSession(ctx, userID)
	switch {
	case err == nil:
		update.Session = session.View()
	case !errors.Is(err, conversation.ErrSessionNotFound):
		return err
	}

	messages, err := s.repo.RecentMessages(ctx, userID, s.opts.HistoryLimit)
	if err != nil {
		return err
	}
	update.Messages = make([]event.MessagePayload, 0, len(messages))
	for _, m := range messages {
		update.Messages = append(update.Messages, m.Payload())
	}

	s.broadcaster.Touch(ctx, operatorID)
	return s.send(ctx, conn, event.Must(event.TypeConversationUpdate, update, now))
}

// LeaveConversation removes conn from its room.
func (s *Service) LeaveConversation(ctx context.Context, conn hub.Conn) bool {
	return s.broadcaster.LeaveRoom(ctx, conn)
}

// CurrentConversation returns the end-user of the room conn has joined.
func (s *Service) CurrentConversation(conn hub.Conn) (string, error) {
	roomID, ok := s.broadcaster.CurrentRoom(conn.ID())
	if !ok {
		return "", ErrNotInRoom
	}
	userID, ok := event.UserIDFromRoom(roomID)
	if !ok {
		return "", ErrNotInRoom
	}
	return userID, nil
}

// SendOperatorMessage delivers an operator reply to the end-user, stores it,
// confirms it to the sender and relays it to the other room members.
func (s *Service) SendOperatorMessage(ctx context.Context, conn hub.Conn, payload event.SendMessagePayload) (*conversation.Message, error) {
	operatorID, err := s.operatorOf(conn)
	if err != nil {
		return nil, err
	}
	userID, err := s.CurrentConversation(conn)
	if err != nil {
		return nil, err
	}

	if err := s.outbound.Deliver(ctx, userID, payload.Text); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("operator_id", operatorID).Msg("outbound delivery failed")
		return nil, event.NewFrameError(event.CodeInternal, "Failed to deliver message", err)
	}

	msg := &conversation.Message{
		ID:          uuid.NewString(),
		UserID:      userID,
		Direction:   conversation.DirectionOutgoing,
		MessageType: "text",
		Content:     payload.Text,
		SenderRole:  conversation.SenderAdmin,
		OperatorID:  operatorID,
		CreatedAt:   s.now().UTC(),
	}
	session, first, err := s.repo.RecordOperatorMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.record(ctx, conversation.AuditEntry{
		OperatorID:   operatorID,
		Action:       conversation.ActionSend,
		ResourceType: "live_chat_message",
		ResourceID:   msg.ID,
		Details:      map[string]any{"user_id": userID},
		At:           msg.CreatedAt,
	})

	if first && session != nil {
		s.monitor.OnFirstResponse(ctx, session)
	}

	view := msg.Payload()
	if err := s.send(ctx, conn, event.Must(event.TypeMessageSent, event.MessageSentPayload{TempID: payload.TempID, Message: view}, msg.CreatedAt)); err != nil {
		s.log.Debug().Err(err).Str("connection_id", conn.ID()).Msg("message_sent not delivered")
	}
	s.broadcaster.BroadcastToRoom(ctx, event.RoomID(userID), event.Must(event.TypeNewMessage, view, msg.CreatedAt), operatorID)
	s.broadcaster.Touch(ctx, operatorID)
	return msg, nil
}

// Typing relays a typing indicator to the other room members.
func (s *Service) Typing(ctx context.Context, conn hub.Conn, isTyping bool) error {
	operatorID, err := s.operatorOf(conn)
	if err != nil {
		return err
	}
	userID, err := s.CurrentConversation(conn)
	if err != nil {
		return err
	}
	env := event.Must(event.TypeTypingIndicator, event.TypingPayload{
		OperatorID: operatorID,
		UserID:     userID,
		IsTyping:   isTyping,
	}, s.now())
	s.broadcaster.BroadcastToRoom(ctx, event.RoomID(userID), env, operatorID)
	return nil
}

// ClaimSession assigns the waiting session of userID to operatorID.
// Claiming a session the operator already owns is a no-op.
func (s *Service) ClaimSession(ctx context.Context, operatorID, userID string) (*conversation.Session, error) {
	now := s.now().UTC()
	session, claimed, err := s.repo.Claim(ctx, userID, operatorID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return session, nil
	}

	s.transition(conversation.StatusActive)
	s.record(ctx, conversation.AuditEntry{
		OperatorID:   operatorID,
		Action:       conversation.ActionClaim,
		ResourceType: "chat_session",
		ResourceID:   sessionResource(session),
		Details:      map[string]any{"user_id": userID},
		At:           now,
	})
	s.monitor.OnClaimed(ctx, session)

	s.broadcaster.BroadcastToAll(ctx, event.Must(event.TypeSessionClaimed, event.SessionClaimedPayload{
		UserID:     userID,
		SessionID:  session.ID,
		OperatorID: operatorID,
	}, now), "")
	s.EmitLiveKPIs(ctx)

	s.log.Info().Str("user_id", userID).Str("operator_id", operatorID).Uint("session_id", session.ID).Msg("session claimed")
	return session, nil
}

// CloseSession ends the open session of userID on behalf of operatorID.
func (s *Service) CloseSession(ctx context.Context, operatorID, userID, reason string) (*conversation.Session, error) {
	now := s.now().UTC()
	session, err := s.repo.Close(ctx, userID, operatorID, conversation.ClosedByOperator, now)
	if err != nil {
		return nil, err
	}
	s.afterClose(ctx, session, operatorID, conversation.ActionClose, reason, now)
	return session, nil
}

// TransferSession hands the active session of userID from operatorID to
// toOperatorID.
func (s *Service) TransferSession(ctx context.Context, operatorID, userID, toOperatorID, reason string) (*conversation.Session, error) {
	if toOperatorID == operatorID {
		return nil, event.NewFrameError(event.CodeValidation, "Cannot transfer a session to yourself", nil)
	}

	now := s.now().UTC()
	session, err := s.repo.Transfer(ctx, userID, operatorID, toOperatorID, now)
	if err != nil {
		return nil, err
	}

	s.transition("TRANSFERRED")
	s.record(ctx, conversation.AuditEntry{
		OperatorID:   operatorID,
		Action:       conversation.ActionTransfer,
		ResourceType: "chat_session",
		ResourceID:   sessionResource(session),
		Details:      map[string]any{"user_id": userID, "to_operator_id": toOperatorID, "reason": reason},
		At:           now,
	})

	s.broadcaster.BroadcastToAll(ctx, event.Must(event.TypeSessionTransferred, event.SessionTransferredPayload{
		UserID:         userID,
		SessionID:      session.ID,
		FromOperatorID: operatorID,
		ToOperatorID:   toOperatorID,
		Reason:         reason,
	}, now), "")
	s.broadcaster.NotifyOperator(ctx, toOperatorID, event.Must(event.TypeConversationUpdate, event.ConversationUpdatePayload{
		UserID:  userID,
		Session: session.View(),
	}, now))
	s.EmitLiveKPIs(ctx)

	s.log.Info().
		Str("user_id", userID).
		Str("from_operator_id", operatorID).
		Str("to_operator_id", toOperatorID).
		Uint("session_id", session.ID).
		Msg("session transferred")
	return session, nil
}

// InitiateHandoff opens a WAITING session for userID and announces it.
func (s *Service) InitiateHandoff(ctx context.Context, userID, reason string) (*conversation.Session, error) {
	now := s.now().UTC()
	session, err := s.repo.CreateSession(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	s.transition(conversation.StatusWaiting)
	s.record(ctx, conversation.AuditEntry{
		OperatorID:   SystemOperator,
		Action:       conversation.ActionHandoff,
		ResourceType: "chat_session",
		ResourceID:   sessionResource(session),
		Details:      map[string]any{"user_id": userID, "reason": reason},
		At:           now,
	})

	s.broadcaster.BroadcastToAll(ctx, event.Must(event.TypeConversationUpdate, event.ConversationUpdatePayload{
		UserID:  userID,
		Session: session.View(),
		Unread:  true,
	}, now), "")
	s.EmitLiveKPIs(ctx)

	s.log.Info().Str("user_id", userID).Uint("session_id", session.ID).Str("reason", reason).Msg("human handoff started")
	return session, nil
}

// InboundMessage is an end-user message handed over by the webhook collaborator.
type InboundMessage struct {
	ID          string
	UserID      string
	Content     string
	MessageType string
	CreatedAt   time.Time
}

// IngestInbound stores an end-user message and fans it out. duplicate is
// true for a redelivery that was already handled.
func (s *Service) IngestInbound(ctx context.Context, in InboundMessage) (msg *conversation.Message, duplicate bool, err error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.MessageType == "" {
		in.MessageType = "text"
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}

	if seen, _ := s.dedupe.ContainsOrAdd(in.ID, struct{}{}); seen {
		s.log.Debug().Str("message_id", in.ID).Msg("dropping redelivered inbound message")
		return nil, true, nil
	}

	msg = &conversation.Message{
		ID:          in.ID,
		UserID:      in.UserID,
		Direction:   conversation.DirectionIncoming,
		MessageType: in.MessageType,
		Content:     in.Content,
		SenderRole:  conversation.SenderUser,
		CreatedAt:   in.CreatedAt.UTC(),
	}
	if err := s.repo.SaveInbound(ctx, msg); err != nil {
		s.dedupe.Remove(in.ID)
		return nil, false, err
	}

	roomID := event.RoomID(in.UserID)
	view := msg.Payload()
	s.broadcaster.BroadcastToRoom(ctx, roomID, event.Must(event.TypeNewMessage, view, msg.CreatedAt), "")

	// operators watching the room have seen the message
	for _, opID := range s.broadcaster.RoomOperators(ctx, roomID) {
		if err := s.presence.MarkRead(ctx, opID, in.UserID, msg.CreatedAt); err != nil {
			s.log.Warn().Err(err).Str("operator_id", opID).Msg("mark read failed")
		}
	}

	s.broadcaster.BroadcastToAll(ctx, event.Must(event.TypeConversationUpdate, event.ConversationUpdatePayload{
		UserID:      in.UserID,
		LastMessage: &view,
		Unread:      true,
	}, msg.CreatedAt), "")
	return msg, false, nil
}

// BroadcastScope selects the audience of Broadcast.
type BroadcastScope string

const (
	ScopeRoom     BroadcastScope = "room"
	ScopeAll      BroadcastScope = "all"
	ScopeOperator BroadcastScope = "operator"
)

// BroadcastRequest is a frame pushed by another service.
type BroadcastRequest struct {
	Scope             BroadcastScope
	UserID            string
	OperatorID        string
	ExcludeOperatorID string
	Type              event.Type
	Payload           any
}

// Broadcast delivers a collaborator-supplied frame and returns the number of
// local sockets written.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (int, error) {
	if req.Type == "" {
		return 0, event.NewFrameError(event.CodeValidation, "type is required", nil)
	}
	env, err := event.New(req.Type, req.Payload, s.now())
	if err != nil {
		return 0, event.NewFrameError(event.CodeValidation, "payload is not serialisable", err)
	}

	switch req.Scope {
	case ScopeRoom:
		if req.UserID == "" {
			return 0, event.NewFrameError(event.CodeValidation, "user_id is required for room scope", nil)
		}
		return s.broadcaster.BroadcastToRoom(ctx, event.RoomID(req.UserID), env, req.ExcludeOperatorID), nil
	case ScopeAll:
		return s.broadcaster.BroadcastToAll(ctx, env, req.ExcludeOperatorID), nil
	case ScopeOperator:
		if req.OperatorID == "" {
			return 0, event.NewFrameError(event.CodeValidation, "operator_id is required for operator scope", nil)
		}
		return s.broadcaster.NotifyOperator(ctx, req.OperatorID, env), nil
	default:
		return 0, event.NewFrameError(event.CodeValidation, "scope must be room, all or operator", nil)
	}
}

// OnlineOperators lists operators with a live heartbeat.
func (s *Service) OnlineOperators(ctx context.Context) []event.OperatorStatus {
	return s.broadcaster.OnlineOperators(ctx)
}

// UnreadCount counts messages in the conversation of userID that operatorID
// has not read.
func (s *Service) UnreadCount(ctx context.Context, userID, operatorID string) (int64, error) {
	return s.presence.UnreadCount(ctx, userID, operatorID)
}

// MarkRead records that operatorID has read the conversation up to now.
func (s *Service) MarkRead(ctx context.Context, operatorID, userID string) error {
	return s.presence.MarkRead(ctx, operatorID, userID, s.now())
}

// IsOperatorInRoomAnywhere reports whether operatorID watches the
// conversation of userID on any process.
func (s *Service) IsOperatorInRoomAnywhere(ctx context.Context, operatorID, userID string) (bool, error) {
	return s.broadcaster.IsOperatorInRoomAnywhere(ctx, operatorID, event.RoomID(userID))
}

// SubscribeAnalytics toggles live KPI frames for conn. Subscribing sends the
// current figures right away.
func (s *Service) SubscribeAnalytics(ctx context.Context, conn hub.Conn, enabled bool) error {
	if err := s.registry.SetAnalytics(conn.ID(), enabled); err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	now := s.now()
	kpis, err := s.repo.LiveKPIs(ctx, now)
	if err != nil {
		return err
	}
	return s.send(ctx, conn, event.Must(event.TypeAnalyticsUpdate, kpis.Payload(), now))
}

// EmitLiveKPIs pushes current KPIs to analytics subscribers on every process.
func (s *Service) EmitLiveKPIs(ctx context.Context) {
	now := s.now()
	kpis, err := s.repo.LiveKPIs(ctx, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("live kpis unavailable")
		return
	}
	s.broadcaster.BroadcastAnalytics(ctx, event.Must(event.TypeAnalyticsUpdate, kpis.Payload(), now))
}

// CleanupStaleSessions closes idle ACTIVE sessions and unclaimed WAITING
// sessions. It returns how many sessions this call closed; sessions closed
// concurrently elsewhere are not counted.
func (s *Service) CleanupStaleSessions(ctx context.Context) (int, error) {
	now := s.now().UTC()
	passes := []struct {
		status  conversation.Status
		timeout time.Duration
		by      conversation.ClosedBy
		reason  string
	}{
		{conversation.StatusActive, s.opts.InactiveTimeout, conversation.ClosedBySystem, "inactive"},
		{conversation.StatusWaiting, s.opts.WaitingTimeout, conversation.ClosedBySystemTimeout, "waiting_timeout"},
	}

	closed := 0
	var errs []error
	for _, p := range passes {
		idleSince := now.Add(-p.timeout)
		stale, err := s.repo.StaleSessions(ctx, p.status, idleSince)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, candidate := range stale {
			session, ok, err := s.repo.CloseIfIdle(ctx, candidate.ID, p.status, idleSince, p.by, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			closed++
			s.afterClose(ctx, session, SystemOperator, conversation.ActionTimeout, p.reason, now)
		}
	}

	if closed > 0 {
		s.log.Info().Int("closed", closed).Msg("stale sessions closed")
	}
	return closed, errors.Join(errs...)
}

func (s *Service) afterClose(ctx context.Context, session *conversation.Session, actor, action, reason string, now time.Time) {
	s.transition(conversation.StatusClosed)
	s.record(ctx, conversation.AuditEntry{
		OperatorID:   actor,
		Action:       action,
		ResourceType: "chat_session",
		ResourceID:   sessionResource(session),
		Details:      map[string]any{"user_id": session.UserID, "closed_by": string(session.ClosedBy), "reason": reason},
		At:           now,
	})
	s.monitor.OnClosed(ctx, session)

	s.broadcaster.BroadcastToAll(ctx, event.Must(event.TypeSessionClosed, event.SessionClosedPayload{
		UserID:    session.UserID,
		SessionID: session.ID,
		ClosedBy:  string(session.ClosedBy),
		Reason:    reason,
	}, now), "")
	s.EmitLiveKPIs(ctx)

	s.log.Info().
		Str("user_id", session.UserID).
		Uint("session_id", session.ID).
		Str("closed_by", string(session.ClosedBy)).
		Msg("session closed")
}

func (s *Service) record(ctx context.Context, entry conversation.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("action", entry.Action).Str("resource_id", entry.ResourceID).Msg("audit record failed")
	}
}

func (s *Service) transition(to conversation.Status) {
	if s.transitions != nil {
		s.transitions.SessionTransition(string(to))
	}
}

func (s *Service) presenceUpdate(ctx context.Context, now time.Time) event.Envelope {
	return event.Must(event.TypePresenceUpdate, event.PresenceUpdatePayload{Operators: s.broadcaster.OnlineOperators(ctx)}, now)
}

func (s *Service) operatorOf(conn hub.Conn) (string, error) {
	operatorID, ok := s.registry.OperatorOf(conn.ID())
	if !ok {
		return "", event.NewFrameError(event.CodeNotAuthenticated, "Not authenticated", hub.ErrNotAuthenticated)
	}
	return operatorID, nil
}

func (s *Service) send(ctx context.Context, conn hub.Conn, env event.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.registry.Send(ctx, conn.ID(), data)
}

// Send writes one frame to conn. Unregistered connections are written to
// directly.
func (s *Service) Send(ctx context.Context, conn hub.Conn, env event.Envelope) error {
	if _, ok := s.registry.OperatorOf(conn.ID()); !ok {
		data, err := env.Encode()
		if err != nil {
			return err
		}
		return conn.Send(ctx, data)
	}
	return s.send(ctx, conn, env)
}

func sessionResource(s *conversation.Session) string {
	if s == nil {
		return ""
	}
	return strconv.FormatUint(uint64(s.ID), 10)
}
