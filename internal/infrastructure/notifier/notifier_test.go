package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/sla"
)

func testAlert() sla.Alert {
	alert, _ := sla.Evaluate(sla.MetricQueueWait, 400*time.Second, 300*time.Second)
	alert.UserID = "U0123"
	alert.SessionID = 7
	return alert
}

func TestTelegramNotifier(t *testing.T) {
	var got telegramSendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := newTelegramNotifier(srv.URL, "bot-token", "-100", time.Second)
	require.NoError(t, n.Notify(context.Background(), testAlert()))

	assert.Equal(t, "/botbot-token/sendMessage", path)
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, "SLA breach: queue_wait_seconds 400.0s &gt; 300s")
	assert.Contains(t, got.Text, "U0123")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	n := newTelegramNotifier(srv.URL, "bot-token", "-100", time.Second)
	err := n.Notify(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNewNotifiersRequireCredentials(t *testing.T) {
	assert.Nil(t, NewTelegramNotifier("", "chat", time.Second))
	assert.Nil(t, NewLarkNotifier("app", "", "chat"))
}

type stubChannel struct {
	name  string
	err   error
	calls int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Notify(context.Context, sla.Alert) error {
	s.calls++
	return s.err
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	stub := &stubChannel{name: "stub", err: errors.New("down")}
	g := NewGuarded(stub, time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		assert.Error(t, g.Notify(context.Background(), testAlert()))
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	err := g.Notify(context.Background(), testAlert())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, stub.calls, "open breaker must not call the channel")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &stubChannel{name: "ok"}
	bad := &stubChannel{name: "bad", err: errors.New("boom")}
	m := NewMulti(ok, nil, bad)
	assert.Equal(t, 2, m.Len())

	err := m.Notify(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)
}
