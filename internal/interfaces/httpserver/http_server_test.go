package httpserver_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/event"
	"livechat-api/internal/infrastructure/metrics"
	livechatres "livechat-api/internal/interfaces/httpserver/responses/livechat"
	"livechat-api/internal/utils/platformerrors"
)

func TestCoreRoutes(t *testing.T) {
	p := newCluster().start(t, "server-a", "development")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "root", path: "/", status: http.StatusOK},
		{name: "liveness", path: "/healthz", status: http.StatusOK},
		{name: "readiness", path: "/readyz", status: http.StatusOK},
		{name: "websocket health", path: "/healthz/ws", status: http.StatusOK},
		{name: "metrics", path: "/metrics", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := p.do(t, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestWebSocketHealthCountsConnections(t *testing.T) {
	p := newCluster().start(t, "server-a", "development")
	ws := p.login(t, "op-a")
	send(t, ws, event.TypeJoinRoom, event.JoinRoomPayload{UserID: userA})
	readUntil(t, ws, event.TypeConversationUpdate)

	report := decode[metrics.HealthReport](t, p.do(t, http.MethodGet, "/healthz/ws", nil, nil))
	assert.Equal(t, metrics.StatusHealthy, report.Status)
	assert.True(t, report.BrokerConnected)
	assert.Equal(t, "server-a", report.ServerID)
	assert.Equal(t, int64(1), report.Metrics.ActiveConnections)
	assert.Equal(t, 1, report.Metrics.Operators)
	assert.Equal(t, 1, report.Metrics.Rooms)
}

func TestOperatorRoutesRequireBearer(t *testing.T) {
	p := newCluster().start(t, "server-a", "development")

	w := p.do(t, http.MethodGet, "/v1/operators/online", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[platformerrors.HTTPErrorResponse](t, w)
	assert.Equal(t, "unauthorized_error", body.Error.Type)
	assert.NotEmpty(t, body.Error.RequestID)

	p.login(t, "op-a")
	w = p.do(t, http.MethodGet, "/v1/operators/online", nil, bearer(t, "op-a"))
	require.Equal(t, http.StatusOK, w.Code)
	online := decode[livechatres.OnlineOperatorsResponse](t, w)
	require.Len(t, online.Data, 1)
	assert.Equal(t, "op-a", online.Data[0].ID)
}

func TestUnreadAndMarkRead(t *testing.T) {
	p := newCluster().start(t, "server-a", "development")
	auth := bearer(t, "op-a")

	for _, id := range []string{"m-1", "m-2"} {
		w := p.do(t, http.MethodPost, "/v1/internal/conversations/"+userA+"/messages", map[string]any{
			"id":         id,
			"content":    "hello " + id,
			"created_at": time.Now().Add(-time.Minute).UTC(),
		}, internalHeader())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	unread := decode[livechatres.UnreadResponse](t, p.do(t, http.MethodGet, "/v1/conversations/"+userA+"/unread", nil, auth))
	assert.Equal(t, int64(2), unread.UnreadCount)

	w := p.do(t, http.MethodPost, "/v1/conversations/"+userA+"/read", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)

	unread = decode[livechatres.UnreadResponse](t, p.do(t, http.MethodGet, "/v1/conversations/"+userA+"/unread", nil, auth))
	assert.Zero(t, unread.UnreadCount)

	// The internal lookup sees the same marker.
	unread = decode[livechatres.UnreadResponse](t, p.do(t, http.MethodGet, "/v1/internal/conversations/"+userA+"/unread/op-a", nil, internalHeader()))
	assert.Zero(t, unread.UnreadCount)
	unread = decode[livechatres.UnreadResponse](t, p.do(t, http.MethodGet, "/v1/internal/conversations/"+userA+"/unread/op-b", nil, internalHeader()))
	assert.Equal(t, int64(2), unread.UnreadCount)
}

func TestInternalRoutes(t *testing.T) {
	p := newCluster().start(t, "server-a", "development")
	ws := p.login(t, "op-a")

	t.Run("rejects missing key", func(t *testing.T) {
		w := p.do(t, http.MethodPost, "/v1/internal/broadcast", map[string]any{"scope": "all", "type": "notice"}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects operator bearer", func(t *testing.T) {
		w := p.do(t, http.MethodPost, "/v1/internal/broadcast", map[string]any{"scope": "all", "type": "notice"}, bearer(t, "op-a"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("broadcast", func(t *testing.T) {
		tests := []struct {
			name   string
			body   map[string]any
			status int
		}{
			{name: "all", body: map[string]any{"scope": "all", "type": "notice", "payload": map[string]string{"text": "maintenance"}}, status: http.StatusAccepted},
			{name: "operator", body: map[string]any{"scope": "operator", "operator_id": "op-a", "type": "notice"}, status: http.StatusAccepted},
			{name: "unknown scope", body: map[string]any{"scope": "galaxy", "type": "notice"}, status: http.StatusBadRequest},
			{name: "room without user", body: map[string]any{"scope": "room", "type": "notice"}, status: http.StatusBadRequest},
			{name: "missing type", body: map[string]any{"scope": "all"}, status: http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := p.do(t, http.MethodPost, "/v1/internal/broadcast", tt.body, internalHeader())
				assert.Equal(t, tt.status, w.Code, w.Body.String())
			})
		}
		env := readUntil(t, ws, event.Type("notice"))
		assert.Equal(t, "maintenance", payloadOf[map[string]string](t, env)["text"])
	})

	t.Run("ingest deduplicates redeliveries", func(t *testing.T) {
		body := map[string]any{"id": "wamid-1", "content": "need help"}
		w := p.do(t, http.MethodPost, "/v1/internal/conversations/"+userA+"/messages", body, internalHeader())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		first := decode[livechatres.IngestResponse](t, w)
		assert.False(t, first.Duplicate)
		require.NotNil(t, first.Message)
		assert.Equal(t, "INCOMING", first.Message.Direction)

		w = p.do(t, http.MethodPost, "/v1/internal/conversations/"+userA+"/messages", body, internalHeader())
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[livechatres.IngestResponse](t, w).Duplicate)
	})

	t.Run("ingest validates input", func(t *testing.T) {
		w := p.do(t, http.MethodPost, "/v1/internal/conversations/not-a-user/messages", map[string]any{"content": "x"}, internalHeader())
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = p.do(t, http.MethodPost, "/v1/internal/conversations/"+userA+"/messages", map[string]any{}, internalHeader())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("handoff conflicts while open", func(t *testing.T) {
		w := p.do(t, http.MethodPost, "/v1/internal/conversations/"+userA+"/handoff", nil, internalHeader())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		session := decode[livechatres.SessionResponse](t, w)
		assert.Equal(t, "WAITING", session.Session.Status)

		w = p.do(t, http.MethodPost, "/v1/internal/conversations/"+userA+"/handoff", nil, internalHeader())
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("room membership", func(t *testing.T) {
		path := "/v1/internal/rooms/" + userA + "/operators/op-a"
		assert.False(t, decode[livechatres.InRoomResponse](t, p.do(t, http.MethodGet, path, nil, internalHeader())).InRoom)

		send(t, ws, event.TypeJoinRoom, event.JoinRoomPayload{UserID: userA})
		require.Eventually(t, func() bool {
			return decode[livechatres.InRoomResponse](t, p.do(t, http.MethodGet, path, nil, internalHeader())).InRoom
		}, 2*time.Second, 10*time.Millisecond)
	})
}
