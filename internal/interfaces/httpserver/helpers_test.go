package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/config"
	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/livechat"
	"livechat-api/internal/domain/presence"
	"livechat-api/internal/domain/ratelimit"
	"livechat-api/internal/domain/sla"
	"livechat-api/internal/infrastructure/audit"
	"livechat-api/internal/infrastructure/auth"
	"livechat-api/internal/infrastructure/metrics"
	"livechat-api/internal/infrastructure/outbound"
	"livechat-api/internal/infrastructure/pubsub"
	"livechat-api/internal/infrastructure/store"
	"livechat-api/internal/interfaces/httpserver"
	"livechat-api/internal/interfaces/httpserver/handlers"
	"livechat-api/internal/interfaces/httpserver/routes"
)

const (
	testSecret  = "test-secret-with-enough-length"
	internalKey = "internal-test-key"
	userA       = "U0123456789abcdef0123456789abcdef"
)

// cluster is a shared broker and store that several processes attach to.
type cluster struct {
	broker *pubsub.MemoryStore
	repo   *store.MemoryStore
}

func newCluster() *cluster {
	return &cluster{
		broker: pubsub.NewMemoryStore(),
		repo:   store.NewMemoryStore(zerolog.Nop()),
	}
}

// process is one running livechat-api instance behind httptest.
type process struct {
	ts      *httptest.Server
	handler http.Handler
}

func (cl *cluster) start(t *testing.T, serverID, environment string) *process {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	ctx := context.Background()

	cfg := &config.Config{
		ServiceName:         "livechat-api",
		Environment:         environment,
		AuthSecret:          testSecret,
		AuthAlgorithm:       "HS256",
		InternalAPIKey:      internalKey,
		CORSOrigins:         []string{"*"},
		WSRateLimitMessages: 5,
		WSRateLimitWindow:   time.Minute,
		WSAuthTimeout:       2 * time.Second,
		WSPongWait:          time.Minute,
		WSWriteTimeout:      5 * time.Second,
		ShutdownTimeout:     time.Second,
	}

	d := broker.NewDispatcher(log)
	client := pubsub.NewMemoryClient(cl.broker, d, log)
	ps := presence.NewStore(client, serverID, log, presence.WithInboundCounter(cl.repo))
	reg := hub.NewRegistry(ps, nil, log)
	bc := hub.NewBroadcaster(reg, ps, client, serverID, nil, log)
	require.NoError(t, bc.Start(ctx))

	svc, err := livechat.NewService(livechat.Deps{
		Repository:  cl.repo,
		Registry:    reg,
		Broadcaster: bc,
		Presence:    ps,
		Limiter:     ratelimit.New(cfg.WSRateLimitMessages, cfg.WSRateLimitWindow),
		Monitor:     sla.NewMonitor(sla.DefaultThresholds(), bc, log),
		Audit:       audit.NewLogRecorder(log),
		Outbound:    outbound.NewNoopClient(log),
	}, livechat.Options{}, log)
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(ctx, cfg, log)
	require.NoError(t, err)

	health := metrics.NewWSHealth()
	hp := handlers.NewProvider(
		handlers.NewLiveChatHandler(svc),
		handlers.NewWebSocketHandler(cfg, svc, verifier, event.NewCodec(0), health, log),
		handlers.NewHealthHandler(cfg, reg, bc, client, health, nil),
	)
	srv := httpserver.New(cfg, log, hp, routes.NewProvider(cfg, hp, verifier))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hp.WebSocket.Shutdown()
		ts.Close()
		_ = client.Close()
		d.Close()
	})
	return &process{ts: ts, handler: srv.Handler()}
}

func (p *process) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(p.ts.URL, "http") + "/v1/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// login connects operatorID through the development bypass.
func (p *process) login(t *testing.T, operatorID string) *websocket.Conn {
	t.Helper()
	ws := p.dial(t, "")
	send(t, ws, event.TypeAuth, event.AuthPayload{OperatorID: operatorID})
	ack := readUntil(t, ws, event.TypeAuthSuccess)
	require.Equal(t, operatorID, payloadOf[event.AuthSuccessPayload](t, ack).OperatorID)
	readUntil(t, ws, event.TypePresenceUpdate)
	return ws
}

func (p *process) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	p.handler.ServeHTTP(w, req)
	return w
}

func send(t *testing.T, ws *websocket.Conn, typ event.Type, payload any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(event.Must(typ, payload, time.Now())))
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want event.Type) event.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env event.Envelope
		require.NoError(t, ws.ReadJSON(&env), "waiting for %s", want)
		if env.Type == want {
			return env
		}
	}
}

// drain collects frame types until the socket is quiet for d. The socket
// cannot be read afterwards.
func drain(ws *websocket.Conn, d time.Duration) []event.Type {
	_ = ws.SetReadDeadline(time.Now().Add(d))
	var out []event.Type
	for {
		var env event.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return out
		}
		out = append(out, env.Type)
	}
}

func payloadOf[T any](t *testing.T, e event.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, e.DecodePayload(&v))
	return v
}

func bearer(t *testing.T, operatorID string) http.Header {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": operatorID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func internalHeader() http.Header {
	return http.Header{"X-Internal-Key": {internalKey}}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
