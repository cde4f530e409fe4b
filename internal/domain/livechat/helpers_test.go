package livechat_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/conversation"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/livechat"
	"livechat-api/internal/domain/presence"
	"livechat-api/internal/domain/ratelimit"
	"livechat-api/internal/domain/sla"
	"livechat-api/internal/infrastructure/pubsub"
	"livechat-api/internal/infrastructure/store"
)

const (
	userA = "U0123456789abcdef0123456789abcdef"
	userB = "Ufedcba9876543210fedcba9876543210"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []event.Envelope
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) count(t event.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Type == t {
			n++
		}
	}
	return n
}

func (c *fakeConn) types() []event.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Type, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func (c *fakeConn) last(t event.Type) (event.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == t {
			return c.frames[i], true
		}
	}
	return event.Envelope{}, false
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type auditLog struct {
	mu      sync.Mutex
	entries []conversation.AuditEntry
}

func (a *auditLog) Record(_ context.Context, entry conversation.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *auditLog) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type outbox struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (o *outbox) Deliver(_ context.Context, userID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, userID+":"+text)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// node is one simulated process.
type node struct {
	svc      *livechat.Service
	registry *hub.Registry
	audit    *auditLog
	outbox   *outbox
	clock    *clock
}

type env struct {
	broker *pubsub.MemoryStore
	repo   *store.MemoryStore
	clock  *clock
}

func newEnv() *env {
	return &env{
		broker: pubsub.NewMemoryStore(),
		repo:   store.NewMemoryStore(zerolog.Nop()),
		clock:  &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
}

func (e *env) node(t *testing.T, serverID string) *node {
	t.Helper()
	log := zerolog.Nop()
	d := broker.NewDispatcher(log)
	client := pubsub.NewMemoryClient(e.broker, d, log)
	t.Cleanup(func() {
		_ = client.Close()
		d.Close()
	})

	ps := presence.NewStore(client, serverID, log, presence.WithInboundCounter(e.repo), presence.WithClock(e.clock.Now))
	reg := hub.NewRegistry(ps, nil, log)
	bc := hub.NewBroadcaster(reg, ps, client, serverID, nil, log)
	require.NoError(t, bc.Start(context.Background()))

	audit := &auditLog{}
	out := &outbox{}
	svc, err := livechat.NewService(livechat.Deps{
		Repository:  e.repo,
		Registry:    reg,
		Broadcaster: bc,
		Presence:    ps,
		Limiter:     ratelimit.New(5, time.Minute),
		Monitor:     sla.NewMonitor(sla.DefaultThresholds(), bc, log, sla.WithClock(e.clock.Now)),
		Audit:       audit,
		Outbound:    out,
	}, livechat.Options{}, log)
	require.NoError(t, err)
	svc.SetClock(e.clock.Now)

	return &node{svc: svc, registry: reg, audit: audit, outbox: out, clock: e.clock}
}

func (n *node) connect(t *testing.T, connID, operatorID string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: connID}
	require.NoError(t, n.svc.Connect(context.Background(), c, operatorID))
	return c
}

func payloadOf[T any](t *testing.T, e event.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, e.DecodePayload(&v))
	return v
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func isCode(err error, code event.Code) bool {
	var fe *event.FrameError
	return errors.As(err, &fe) && fe.Code == code
}
