package handlers

import (
	"context"

	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/livechat"
	livechatreq "livechat-api/internal/interfaces/httpserver/requests/livechat"
	livechatres "livechat-api/internal/interfaces/httpserver/responses/livechat"
)

// LiveChatHandler serves the REST side of the live chat: dashboard queries
// for operators and the internal API used by the webhook and bot services.
type LiveChatHandler struct {
	svc *livechat.Service
}

// NewLiveChatHandler creates a LiveChatHandler.
func NewLiveChatHandler(svc *livechat.Service) *LiveChatHandler {
	return &LiveChatHandler{svc: svc}
}

// OnlineOperators lists operators with a live heartbeat on any process.
func (h *LiveChatHandler) OnlineOperators(ctx context.Context) *livechatres.OnlineOperatorsResponse {
	return livechatres.NewOnlineOperatorsResponse(h.svc.OnlineOperators(ctx))
}

// UnreadCount counts inbound messages operatorID has not seen.
func (h *LiveChatHandler) UnreadCount(ctx context.Context, userID, operatorID string) (*livechatres.UnreadResponse, error) {
	n, err := h.svc.UnreadCount(ctx, userID, operatorID)
	if err != nil {
		return nil, err
	}
	return &livechatres.UnreadResponse{UserID: userID, OperatorID: operatorID, UnreadCount: n}, nil
}

// MarkRead moves operatorID's read marker for userID to now.
func (h *LiveChatHandler) MarkRead(ctx context.Context, operatorID, userID string) (*livechatres.MarkReadResponse, error) {
	if err := h.svc.MarkRead(ctx, operatorID, userID); err != nil {
		return nil, err
	}
	return &livechatres.MarkReadResponse{UserID: userID, OperatorID: operatorID, Read: true}, nil
}

// Broadcast relays a collaborator-supplied frame.
func (h *LiveChatHandler) Broadcast(ctx context.Context, req livechatreq.BroadcastRequest) (*livechatres.BroadcastResponse, error) {
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	delivered, err := h.svc.Broadcast(ctx, livechat.BroadcastRequest{
		Scope:             livechat.BroadcastScope(req.Scope),
		UserID:            req.UserID,
		OperatorID:        req.OperatorID,
		ExcludeOperatorID: req.ExcludeOperatorID,
		Type:              event.Type(req.Type),
		Payload:           payload,
	})
	if err != nil {
		return nil, err
	}
	return &livechatres.BroadcastResponse{Scope: req.Scope, Type: req.Type, LocalDelivered: delivered}, nil
}

// Ingest stores and fans out an end-user message.
func (h *LiveChatHandler) Ingest(ctx context.Context, userID string, req livechatreq.InboundMessageRequest) (*livechatres.IngestResponse, error) {
	in := livechat.InboundMessage{
		ID:          req.ID,
		UserID:      userID,
		Content:     req.Content,
		MessageType: req.MessageType,
	}
	if req.CreatedAt != nil {
		in.CreatedAt = req.CreatedAt.UTC()
	}
	msg, duplicate, err := h.svc.IngestInbound(ctx, in)
	if err != nil {
		return nil, err
	}
	return livechatres.NewIngestResponse(req.ID, msg, duplicate), nil
}

// Handoff opens a waiting session for userID.
func (h *LiveChatHandler) Handoff(ctx context.Context, userID string, req livechatreq.HandoffRequest) (*livechatres.SessionResponse, error) {
	session, err := h.svc.InitiateHandoff(ctx, userID, req.Reason)
	if err != nil {
		return nil, err
	}
	return livechatres.NewSessionResponse(session), nil
}

// OperatorInRoom reports whether operatorID watches userID on any process.
func (h *LiveChatHandler) OperatorInRoom(ctx context.Context, operatorID, userID string) (*livechatres.InRoomResponse, error) {
	inRoom, err := h.svc.IsOperatorInRoomAnywhere(ctx, operatorID, userID)
	if err != nil {
		return nil, err
	}
	return &livechatres.InRoomResponse{UserID: userID, OperatorID: operatorID, InRoom: inRoom}, nil
}
