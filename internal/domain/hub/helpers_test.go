package hub_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/domain/presence"
	"livechat-api/internal/infrastructure/pubsub"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []event.Envelope
	fail   error
}

func newConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
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

type countingMetrics struct {
	mu           sync.Mutex
	brokerErrors map[string]int
	broadcasts   map[string]int
	opened       int
	closed       int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{brokerErrors: map[string]int{}, broadcasts: map[string]int{}}
}

func (m *countingMetrics) ConnectionOpened() { m.mu.Lock(); m.opened++; m.mu.Unlock() }
func (m *countingMetrics) ConnectionClosed() { m.mu.Lock(); m.closed++; m.mu.Unlock() }
func (m *countingMetrics) Broadcast(scope string) {
	m.mu.Lock()
	m.broadcasts[scope]++
	m.mu.Unlock()
}
func (m *countingMetrics) BrokerError(op string) {
	m.mu.Lock()
	m.brokerErrors[op]++
	m.mu.Unlock()
}

func (m *countingMetrics) errors(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brokerErrors[op]
}

// node is one simulated process attached to a shared memory broker.
type node struct {
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	presence    *presence.Store
	client      *pubsub.MemoryClient
	metrics     *countingMetrics
}

func newNode(t *testing.T, store *pubsub.MemoryStore, serverID string, opts ...presence.Option) *node {
	t.Helper()
	log := zerolog.Nop()
	d := broker.NewDispatcher(log)
	client := pubsub.NewMemoryClient(store, d, log)
	t.Cleanup(func() {
		_ = client.Close()
		d.Close()
	})

	m := newCountingMetrics()
	ps := presence.NewStore(client, serverID, log, opts...)
	reg := hub.NewRegistry(ps, m, log)
	bc := hub.NewBroadcaster(reg, ps, client, serverID, m, log)
	require.NoError(t, bc.Start(context.Background()))
	return &node{registry: reg, broadcaster: bc, presence: ps, client: client, metrics: m}
}

func (n *node) connect(t *testing.T, connID, operatorID string) *fakeConn {
	t.Helper()
	c := newConn(connID)
	n.registry.Register(context.Background(), c, operatorID)
	return c
}

func frame(t event.Type, payload any) event.Envelope {
	return event.Must(t, payload, time.Now())
}

const (
	userA = "U0123456789abcdef0123456789abcdef"
	userB = "Ufedcba9876543210fedcba9876543210"
)

var (
	roomA = event.RoomID(userA)
	roomB = event.RoomID(userB)
)

// flushRoom sends a marker through roomID from n and waits for it to reach
// c. Per-channel ordering guarantees that every earlier relay on the same
// room channel has been handled by then.
func flushRoom(t *testing.T, n *node, roomID string, c *fakeConn) {
	t.Helper()
	before := c.count(event.TypePong)
	n.broadcaster.BroadcastToRoom(context.Background(), roomID, frame(event.TypePong, event.PongPayload{}), "")
	require.Eventually(t, func() bool { return c.count(event.TypePong) > before }, 2*time.Second, 5*time.Millisecond)
}
