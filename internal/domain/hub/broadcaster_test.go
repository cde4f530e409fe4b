package hub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/infrastructure/pubsub"
)

func TestJoinThenBroadcastDeliversExactlyOnce(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, pubsub.NewMemoryStore(), "srv-1")
	o := n.connect(t, "c-1", "op-1")

	require.NoError(t, n.broadcaster.JoinRoom(ctx, o, roomA))
	assert.Contains(t, n.broadcaster.Subscriptions(), hub.RoomChannel(roomA))

	delivered := n.broadcaster.BroadcastToRoom(ctx, roomA, frame(event.TypeNewMessage, event.MessagePayload{Content: "M"}), "")
	assert.Equal(t, 1, delivered)

	// give the self-published relay time to come back through the broker
	flushRoom(t, n, roomA, o)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, o.count(event.TypeNewMessage))
}

func TestNonMembersReceiveNothing(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, pubsub.NewMemoryStore(), "srv-1")
	inA := n.connect(t, "c-a", "op-a")
	inB := n.connect(t, "c-b", "op-b")
	idle := n.connect(t, "c-idle", "op-idle")

	require.NoError(t, n.broadcaster.JoinRoom(ctx, inA, roomA))
	require.NoError(t, n.broadcaster.JoinRoom(ctx, inB, roomB))

	n.broadcaster.BroadcastToRoom(ctx, roomA, frame(event.TypeNewMessage, event.MessagePayload{Content: "secret"}), "")
	flushRoom(t, n, roomA, inA)

	assert.Equal(t, 1, inA.count(event.TypeNewMessage))
	assert.Zero(t, inB.count(event.TypeNewMessage))
	assert.Empty(t, idle.types())
}

func TestExcludeOperatorSkipsEveryConnectionOfThatOperator(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, pubsub.NewMemoryStore(), "srv-1")
	tab1 := n.connect(t, "c-1", "op-1")
	tab2 := n.connect(t, "c-2", "op-1")
	other := n.connect(t, "c-3", "op-2")
	for _, c := range []*fakeConn{tab1, tab2, other} {
		require.NoError(t, n.broadcaster.JoinRoom(ctx, c, roomA))
	}

	delivered := n.broadcaster.BroadcastToRoom(ctx, roomA, frame(event.TypeTypingIndicator, event.TypingPayload{OperatorID: "op-1"}), "op-1")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, other.count(event.TypeTypingIndicator))
	assert.Zero(t, tab1.count(event.TypeTypingIndicator))
	assert.Zero(t, tab2.count(event.TypeTypingIndicator))
}

func TestEndToEndAcrossTwoProcesses(t *testing.T) {
	ctx := context.Background()
	store := pubsub.NewMemoryStore()
	h1 := newNode(t, store, "srv-1")
	h2 := newNode(t, store, "srv-2")

	a := h1.connect(t, "c-a", "op-a")
	b := h2.connect(t, "c-b", "op-b")
	c := h2.connect(t, "c-c", "op-c")

	require.NoError(t, h1.broadcaster.JoinRoom(ctx, a, roomA))
	require.NoError(t, h2.broadcaster.JoinRoom(ctx, b, roomA))
	require.NoError(t, h2.broadcaster.JoinRoom(ctx, c, roomB))

	// A says "hi": confirmation to the sender, new_message to the room
	sent := frame(event.TypeMessageSent, event.MessageSentPayload{TempID: "t1", Message: event.MessagePayload{Content: "hi"}})
	data, err := sent.Encode()
	require.NoError(t, err)
	require.NoError(t, h1.registry.Send(ctx, a.ID(), data))
	h1.broadcaster.BroadcastToRoom(ctx, roomA, frame(event.TypeNewMessage, event.MessagePayload{Content: "hi", OperatorID: "op-a"}), "op-a")

	require.Eventually(t, func() bool { return b.count(event.TypeNewMessage) == 1 }, 2*time.Second, 5*time.Millisecond)
	flushRoom(t, h1, roomA, b)

	assert.Equal(t, 1, a.count(event.TypeMessageSent))
	assert.Zero(t, a.count(event.TypeNewMessage))
	assert.Equal(t, 1, b.count(event.TypeNewMessage))
	assert.Zero(t, b.count(event.TypeMessageSent))
	assert.Zero(t, c.count(event.TypeNewMessage))
	assert.Zero(t, c.count(event.TypeMessageSent))
}

func TestJoinAndLeaveNotifyOtherMembers(t *testing.T) {
	ctx := context.Background()
	store := pubsub.NewMemoryStore()
	h1 := newNode(t, store, "srv-1")
	h2 := newNode(t, store, "srv-2")

	watcher := h1.connect(t, "c-w", "op-w")
	require.NoError(t, h1.broadcaster.JoinRoom(ctx, watcher, roomA))

	joiner := h2.connect(t, "c-j", "op-j")
	require.NoError(t, h2.broadcaster.JoinRoom(ctx, joiner, roomA))
	require.Eventually(t, func() bool { return watcher.count(event.TypeOperatorJoined) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, joiner.count(event.TypeOperatorJoined))

	// moving to another room leaves the first one
	require.NoError(t, h2.broadcaster.JoinRoom(ctx, joiner, roomB))
	require.Eventually(t, func() bool { return watcher.count(event.TypeOperatorLeft) == 1 }, 2*time.Second, 5*time.Millisecond)

	room, ok := h2.broadcaster.CurrentRoom(joiner.ID())
	require.True(t, ok)
	assert.Equal(t, roomB, room)
	assert.NotContains(t, h2.broadcaster.Subscriptions(), hub.RoomChannel(roomA))
	assert.Contains(t, h2.broadcaster.Subscriptions(), hub.RoomChannel(roomB))

	assert.True(t, h2.broadcaster.LeaveRoom(ctx, joiner))
	assert.False(t, h2.broadcaster.LeaveRoom(ctx, joiner))
	assert.Equal(t, []string{hub.GlobalChannel}, h2.broadcaster.Subscriptions())
}

func TestJoinRequiresRegisteredConnection(t *testing.T) {
	n := newNode(t, pubsub.NewMemoryStore(), "srv-1")
	err := n.broadcaster.JoinRoom(context.Background(), newConn("ghost"), roomA)
	assert.ErrorIs(t, err, hub.ErrNotAuthenticated)
}

func TestReconnectRestoresNoRooms(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, pubsub.NewMemoryStore(), "srv-1")

	first := n.connect(t, "c-1", "op-1")
	require.NoError(t, n.broadcaster.JoinRoom(ctx, first, roomA))
	_, last, err := n.registry.Unregister(ctx, first)
	require.NoError(t, err)
	assert.True(t, last)

	second := n.connect(t, "c-2", "op-1")
	_, ok := n.broadcaster.CurrentRoom(second.ID())
	assert.False(t, ok)

	rooms, err := n.presence.ActiveRooms(ctx, "op-1")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	in, err := n.broadcaster.IsOperatorInRoomAnywhere(ctx, "op-1", roomA)
	require.NoError(t, err)
	assert.False(t, in)

	assert.Zero(t, n.broadcaster.BroadcastToRoom(ctx, roomA, frame(event.TypeNewMessage, event.MessagePayload{}), ""))
}

func TestIsOperatorInRoomAnywhere(t *testing.T) {
	ctx := context.Background()
	store := pubsub.NewMemoryStore()
	h1 := newNode(t, store, "srv-1")
	h2 := newNode(t, store, "srv-2")

	c := h2.connect(t, "c-1", "op-1")
	require.NoError(t, h2.broadcaster.JoinRoom(ctx, c, roomA))

	in, err := h1.broadcaster.IsOperatorInRoomAnywhere(ctx, "op-1", roomA)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = h1.broadcaster.IsOperatorInRoomAnywhere(ctx, "op-1", roomB)
	require.NoError(t, err)
	assert.False(t, in)

	assert.Equal(t, []string{"op-1"}, h1.broadcaster.RoomOperators(ctx, roomA))
}

func TestBroadcastToAllAndNotifyOperatorCrossProcesses(t *testing.T) {
	ctx := context.Background()
	store := pubsub.NewMemoryStore()
	h1 := newNode(t, store, "srv-1")
	h2 := newNode(t, store, "srv-2")

	local := h1.connect(t, "c-1", "op-1")
	remote := h2.connect(t, "c-2", "op-2")
	sender := h2.connect(t, "c-3", "op-3")

	h1.broadcaster.BroadcastToAll(ctx, frame(event.TypeSessionClaimed, event.SessionClaimedPayload{UserID: userA}), "op-3")
	require.Eventually(t, func() bool { return remote.count(event.TypeSessionClaimed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, local.count(event.TypeSessionClaimed))
	assert.Zero(t, sender.count(event.TypeSessionClaimed))

	h1.broadcaster.NotifyOperator(ctx, "op-2", frame(event.TypeConversationUpdate, event.ConversationUpdatePayload{UserID: userA}))
	require.Eventually(t, func() bool { return remote.count(event.TypeConversationUpdate) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, local.count(event.TypeConversationUpdate))
	assert.Zero(t, sender.count(event.TypeConversationUpdate))
}

func TestAnalyticsReachOnlySubscribers(t *testing.T) {
	ctx := context.Background()
	store := pubsub.NewMemoryStore()
	h1 := newNode(t, store, "srv-1")
	h2 := newNode(t, store, "srv-2")

	sub := h2.connect(t, "c-1", "op-1")
	plain := h2.connect(t, "c-2", "op-2")
	require.NoError(t, h2.registry.SetAnalytics(sub.ID(), true))

	h1.broadcaster.BroadcastAnalytics(ctx, frame(event.TypeAnalyticsUpdate, event.AnalyticsPayload{Waiting: 2}))
	require.Eventually(t, func() bool { return sub.count(event.TypeAnalyticsUpdate) == 1 }, 2*time.Second, 5*time.Millisecond)

	// a later global frame proves the analytics relay was already handled for plain
	h1.broadcaster.BroadcastToAll(ctx, frame(event.TypePong, event.PongPayload{}), "")
	require.Eventually(t, func() bool { return plain.count(event.TypePong) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, plain.count(event.TypeAnalyticsUpdate))

	require.NoError(t, h2.registry.SetAnalytics(sub.ID(), false))
	assert.Error(t, h2.registry.SetAnalytics("missing", true))
}

func TestBrokerOutageDegradesToLocalDelivery(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, pubsub.NewMemoryStore(), "srv-1")
	n.client.SetUnavailable(errors.New("broker down"))

	sender := n.connect(t, "c-1", "op-1")
	receiver := n.connect(t, "c-2", "op-2")
	require.NoError(t, n.broadcaster.JoinRoom(ctx, sender, roomA))
	require.NoError(t, n.broadcaster.JoinRoom(ctx, receiver, roomA))

	delivered := n.broadcaster.BroadcastToRoom(ctx, roomA, frame(event.TypeNewMessage, event.MessagePayload{Content: "still here"}), "op-1")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, receiver.count(event.TypeNewMessage))
	assert.Positive(t, n.metrics.errors("publish"))
	assert.Positive(t, n.metrics.errors("subscribe"))

	ops := n.broadcaster.OnlineOperators(ctx)
	require.Len(t, ops, 2)
	assert.Equal(t, event.OperatorStatus{ID: "op-1", Status: "online", ActiveChats: 1}, ops[0])
	assert.Equal(t, event.OperatorStatus{ID: "op-2", Status: "online", ActiveChats: 1}, ops[1])

	// recovery: the next reconcile subscribes the room without a membership change
	n.client.SetUnavailable(nil)
	n.broadcaster.Reconcile(ctx, n.registry.Operators())
	assert.Contains(t, n.broadcaster.Subscriptions(), hub.RoomChannel(roomA))
	assert.Equal(t, []string{"op-1", "op-2"}, n.broadcaster.RoomOperators(ctx, roomA))
}
