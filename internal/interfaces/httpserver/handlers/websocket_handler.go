package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livechat-api/internal/config"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/livechat"
	"livechat-api/internal/infrastructure/auth"
	"livechat-api/internal/infrastructure/metrics"
	"livechat-api/internal/interfaces/httpserver/middlewares"
	"livechat-api/internal/utils/idgen"
)

const (
	// MaxFrameSize is the read limit for one client frame.
	MaxFrameSize = 64 * 1024
	// CloseAuthFailed is the close code sent after auth_error.
	CloseAuthFailed = 4001
)

// WebSocketHandler runs the operator websocket protocol.
type WebSocketHandler struct {
	cfg      *config.Config
	svc      *livechat.Service
	verifier *auth.Verifier
	codec    *event.Codec
	health   *metrics.WSHealth
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// live holds open sockets so Shutdown can close them; the HTTP server
	// does not track hijacked connections.
	mu   sync.Mutex
	live map[string]*connection
}

// NewWebSocketHandler creates the websocket endpoint handler. Origins are
// checked against the CORS allow list.
func NewWebSocketHandler(
	cfg *config.Config,
	svc *livechat.Service,
	verifier *auth.Verifier,
	codec *event.Codec,
	health *metrics.WSHealth,
	log zerolog.Logger,
) *WebSocketHandler {
	origins := cfg.CORSOrigins
	return &WebSocketHandler{
		cfg:      cfg,
		svc:      svc,
		verifier: verifier,
		codec:    codec,
		health:   health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return middlewares.OriginAllowed(origins, r.Header.Get("Origin"))
			},
		},
		log:  log.With().Str("component", "websocket").Logger(),
		live: make(map[string]*connection),
	}
}

// Shutdown closes every open socket with 1001 so clients reconnect to
// another instance. Each read loop then runs its normal cleanup.
func (h *WebSocketHandler) Shutdown() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.live))
	for _, c := range h.live {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	if len(conns) > 0 {
		h.log.Info().Int("connections", len(conns)).Msg("closed websockets for shutdown")
	}
}

func (h *WebSocketHandler) track(c *connection) func() {
	h.mu.Lock()
	h.live[c.id] = c
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.live, c.id)
		h.mu.Unlock()
	}
}

// Serve upgrades the request and blocks until the connection ends.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.Debug().Err(err).Str("origin", c.GetHeader("Origin")).Msg("websocket upgrade rejected")
		return
	}

	connID, err := idgen.GenerateSecureID("conn", 16)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate connection id")
		_ = ws.Close()
		return
	}
	conn := newConnection(connID, ws, h.cfg.WSWriteTimeout)
	defer conn.close()
	defer h.track(conn)()
	ws.SetReadLimit(MaxFrameSize)

	ctx := c.Request.Context()
	log := h.log.With().Str("connection_id", connID).Logger()

	operatorID, ok := h.authenticate(ctx, conn, c.Query("token"), log)
	if !ok {
		return
	}
	log = log.With().Str("operator_id", operatorID).Logger()

	h.health.ConnectionOpened()
	defer h.health.ConnectionClosed()
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.WSWriteTimeout)
		defer cancel()
		h.svc.Disconnect(cleanupCtx, conn)
		log.Info().Msg("operator disconnected")
	}()

	if err := h.svc.Connect(ctx, conn, operatorID); err != nil {
		log.Warn().Err(err).Msg("connect handshake failed")
		return
	}
	log.Info().Msg("operator connected")

	pongWait := h.cfg.WSPongWait
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(conn, pongWait*9/10, done, log)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		h.health.MessageReceived()
		h.handleFrame(ctx, conn, operatorID, data, log)
	}
}

func (h *WebSocketHandler) keepAlive(conn *connection, period time.Duration, done <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// authenticate waits for the auth frame. On failure the client gets
// auth_error and the socket is closed with CloseAuthFailed.
func (h *WebSocketHandler) authenticate(ctx context.Context, conn *connection, queryToken string, log zerolog.Logger) (string, bool) {
	_ = conn.ws.SetReadDeadline(time.Now().Add(h.cfg.WSAuthTimeout))
	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			h.rejectAuth(ctx, conn, event.CodeAuthMissingToken, "Authentication timeout")
		} else {
			conn.close()
		}
		return "", false
	}

	frame, err := h.codec.Decode(data)
	if err != nil || frame.Type != event.TypeAuth {
		h.rejectAuth(ctx, conn, event.CodeAuthMissingToken, "First frame must be auth")
		return "", false
	}
	payload := frame.Payload.(*event.AuthPayload)

	token := payload.Token
	if token == "" {
		token = queryToken
	}
	operatorID, err := h.verifier.Authenticate(ctx, token, payload.OperatorID)
	if err != nil {
		log.Info().Err(err).Msg("websocket auth failed")
		h.rejectAuth(ctx, conn, auth.CodeFor(err), auth.Message(err))
		return "", false
	}

	_ = conn.ws.SetReadDeadline(time.Time{})
	return operatorID, true
}

func (h *WebSocketHandler) rejectAuth(ctx context.Context, conn *connection, code event.Code, message string) {
	metrics.RecordFrameError(string(code))
	env := event.Must(event.TypeAuthError, event.ErrorPayload{Message: message, Code: code}, time.Now())
	if data, err := env.Encode(); err == nil {
		_ = conn.Send(ctx, data)
	}
	conn.closeWith(CloseAuthFailed, message)
}

// handleFrame processes one client frame. Failures, panics included, are
// reported to the client and never end the connection.
func (h *WebSocketHandler) handleFrame(ctx context.Context, conn *connection, operatorID string, data []byte, log zerolog.Logger) {
	start := time.Now()
	label := "invalid"
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("type", label).Msg("frame handler panicked")
			h.sendError(ctx, conn, event.CodeInternal, "Internal error", nil)
		}
		elapsed := time.Since(start)
		metrics.RecordFrame(label, elapsed)
		h.health.MessageSent(elapsed)
	}()

	frame, decodeErr := h.codec.Decode(data)
	switch {
	case event.IsClientType(frame.Type):
		label = string(frame.Type)
	case frame.Type != "":
		label = "unknown"
	}

	if frame.Type != event.TypePing {
		if ok, remaining := h.svc.Allow(operatorID); !ok {
			metrics.RateLimited.Inc()
			h.sendError(ctx, conn, event.CodeRateLimitExceeded, "Rate limit exceeded", &remaining)
			return
		}
	}

	if decodeErr != nil {
		h.sendFailure(ctx, conn, decodeErr, log)
		return
	}
	if err := h.dispatch(ctx, conn, operatorID, frame); err != nil {
		h.sendFailure(ctx, conn, err, log)
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, conn *connection, operatorID string, frame event.Frame) error {
	switch frame.Type {
	case event.TypePing:
		return h.svc.Ping(ctx, conn)
	case event.TypeAuth:
		return event.NewFrameError(event.CodeValidation, "Already authenticated", nil)
	case event.TypeJoinRoom:
		return h.svc.JoinConversation(ctx, conn, frame.Payload.(*event.JoinRoomPayload).UserID)
	case event.TypeLeaveRoom:
		h.svc.LeaveConversation(ctx, conn)
		return nil
	case event.TypeSendMessage:
		_, err := h.svc.SendOperatorMessage(ctx, conn, *frame.Payload.(*event.SendMessagePayload))
		return err
	case event.TypeTypingStart:
		return h.svc.Typing(ctx, conn, true)
	case event.TypeTypingStop:
		return h.svc.Typing(ctx, conn, false)
	case event.TypeClaimSession, event.TypeCloseSession, event.TypeTransferSession:
		userID, err := h.svc.CurrentConversation(conn)
		if err != nil {
			return err
		}
		return h.lifecycle(ctx, operatorID, userID, frame)
	case event.TypeSubscribeAnalytics:
		return h.svc.SubscribeAnalytics(ctx, conn, true)
	case event.TypeUnsubscribeAnalytics:
		return h.svc.SubscribeAnalytics(ctx, conn, false)
	default:
		return event.NewFrameError(event.CodeUnknownEvent, "unknown event type: "+string(frame.Type), nil)
	}
}

func (h *WebSocketHandler) lifecycle(ctx context.Context, operatorID, userID string, frame event.Frame) error {
	var err error
	switch frame.Type {
	case event.TypeClaimSession:
		_, err = h.svc.ClaimSession(ctx, operatorID, userID)
	case event.TypeCloseSession:
		_, err = h.svc.CloseSession(ctx, operatorID, userID, "")
	case event.TypeTransferSession:
		p := frame.Payload.(*event.TransferSessionPayload)
		_, err = h.svc.TransferSession(ctx, operatorID, userID, p.ToOperatorID, p.Reason)
	}
	return err
}

func (h *WebSocketHandler) sendFailure(ctx context.Context, conn *connection, err error, log zerolog.Logger) {
	code := livechat.FrameCode(err)
	if code == event.CodeInternal {
		log.Error().Err(err).Msg("frame handling failed")
	}
	h.sendError(ctx, conn, code, livechat.FrameMessage(err), nil)
}

func (h *WebSocketHandler) sendError(ctx context.Context, conn *connection, code event.Code, message string, remaining *int) {
	metrics.RecordFrameError(string(code))
	h.health.Error()
	env := event.Must(event.TypeError, event.ErrorPayload{Message: message, Code: code, Remaining: remaining}, time.Now())
	if err := h.svc.Send(ctx, conn, env); err != nil {
		h.log.Debug().Err(err).Str("connection_id", conn.ID()).Msg("error frame not delivered")
	}
}
