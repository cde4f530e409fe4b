package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/domain/presence"
)

// Broker channels.
const (
	GlobalChannel     = "live_chat:broadcast"
	roomChannelPrefix = "live_chat:room:"
)

// RoomChannel is the broker channel carrying relays for roomID.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// ErrNotAuthenticated is returned for room operations on a connection that
// has not completed auth.
var ErrNotAuthenticated = errors.New("connection is not authenticated")

// relay is the record exchanged between processes. Origin lets a process
// drop its own publications, which it has already delivered locally.
type relay struct {
	Origin          string          `json:"origin"`
	RoomID          string          `json:"room_id,omitempty"`
	ExcludeOperator string          `json:"exclude_operator,omitempty"`
	TargetOperator  string          `json:"target_operator,omitempty"`
	Analytics       bool            `json:"analytics,omitempty"`
	Event           json.RawMessage `json:"event"`
}

// Broadcaster tracks local room membership and delivers events to local
// sockets and, through the broker, to every other process.
type Broadcaster struct {
	registry *Registry
	presence *presence.Store
	client   broker.Client
	serverID string
	metrics  Metrics
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[string]string // room -> connection -> operator
	connRoom map[string]string

	// subMu serialises broker subscription changes only.
	subMu      sync.Mutex
	subscribed map[string]struct{}
}

// NewBroadcaster creates a Broadcaster and hooks it into registry evictions.
func NewBroadcaster(registry *Registry, store *presence.Store, client broker.Client, serverID string, metrics Metrics, log zerolog.Logger) *Broadcaster {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	b := &Broadcaster{
		registry:   registry,
		presence:   store,
		client:     client,
		serverID:   serverID,
		metrics:    metrics,
		now:        time.Now,
		log:        log.With().Str("component", "room-broadcaster").Str("server_id", serverID).Logger(),
		rooms:      make(map[string]map[string]string),
		connRoom:   make(map[string]string),
		subscribed: make(map[string]struct{}),
	}
	registry.OnEvict(b.evict)
	return b
}

// ServerID identifies this process in relay records.
func (b *Broadcaster) ServerID() string {
	return b.serverID
}

// Start subscribes to the global channel. A failure is returned but the
// broadcaster keeps working for local sockets.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if _, ok := b.subscribed[GlobalChannel]; ok {
		return nil
	}
	if err := b.client.Subscribe(ctx, GlobalChannel, b.handleRelay); err != nil {
		b.metrics.BrokerError("subscribe")
		return err
	}
	b.subscribed[GlobalChannel] = struct{}{}
	b.log.Info().Str("channel", GlobalChannel).Msg("subscribed to global channel")
	return nil
}

// JoinRoom moves conn into roomID, leaving its previous room first, and
// tells the other members.
func (b *Broadcaster) JoinRoom(ctx context.Context, conn Conn, roomID string) error {
	operatorID, ok := b.registry.OperatorOf(conn.ID())
	if !ok {
		return ErrNotAuthenticated
	}

	b.mu.RLock()
	current, inRoom := b.connRoom[conn.ID()]
	b.mu.RUnlock()
	if inRoom && current == roomID {
		return nil
	}
	if inRoom {
		b.leave(ctx, conn.ID(), operatorID)
	}

	b.mu.Lock()
	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]string)
		b.rooms[roomID] = members
	}
	members[conn.ID()] = operatorID
	b.connRoom[conn.ID()] = roomID
	b.mu.Unlock()

	if b.presence != nil {
		unlock := b.registry.lockOperator(operatorID)
		b.presence.AddRoom(ctx, operatorID, roomID)
		unlock()
	}
	b.syncSubscription(ctx, roomID)

	b.log.Debug().Str("operator_id", operatorID).Str("room_id", roomID).Msg("joined room")
	b.BroadcastToRoom(ctx, roomID, b.memberEvent(event.TypeOperatorJoined, operatorID, roomID), operatorID)
	return nil
}

// LeaveRoom removes conn from its current room. It reports whether the
// connection was in a room.
func (b *Broadcaster) LeaveRoom(ctx context.Context, conn Conn) bool {
	operatorID, ok := b.registry.OperatorOf(conn.ID())
	if !ok {
		return false
	}
	return b.leave(ctx, conn.ID(), operatorID)
}

// CurrentRoom returns the room connID has joined.
func (b *Broadcaster) CurrentRoom(connID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	room, ok := b.connRoom[connID]
	return room, ok
}

func (b *Broadcaster) evict(ctx context.Context, conn Conn, operatorID string) {
	b.leave(ctx, conn.ID(), operatorID)
}

func (b *Broadcaster) leave(ctx context.Context, connID, operatorID string) bool {
	b.mu.Lock()
	roomID, ok := b.connRoom[connID]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.connRoom, connID)
	members := b.rooms[roomID]
	delete(members, connID)
	stillPresent := false
	for _, op := range members {
		if op == operatorID {
			stillPresent = true
			break
		}
	}
	if len(members) == 0 {
		delete(b.rooms, roomID)
	}
	b.mu.Unlock()

	if !stillPresent && b.presence != nil {
		unlock := b.registry.lockOperator(operatorID)
		b.presence.RemoveRoom(ctx, operatorID, roomID)
		unlock()
	}
	b.syncSubscription(ctx, roomID)

	b.log.Debug().Str("operator_id", operatorID).Str("room_id", roomID).Msg("left room")
	b.BroadcastToRoom(ctx, roomID, b.memberEvent(event.TypeOperatorLeft, operatorID, roomID), operatorID)
	return true
}

func (b *Broadcaster) memberEvent(t event.Type, operatorID, roomID string) event.Envelope {
	userID, _ := event.UserIDFromRoom(roomID)
	return event.Must(t, event.RoomMemberPayload{OperatorID: operatorID, RoomID: roomID, UserID: userID}, b.now())
}

// syncSubscription makes the room channel subscription match local
// membership: subscribed while at least one local member exists.
func (b *Broadcaster) syncSubscription(ctx context.Context, roomID string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.RLock()
	want := len(b.rooms[roomID]) > 0
	b.mu.RUnlock()

	channel := RoomChannel(roomID)
	_, have := b.subscribed[channel]
	switch {
	case want && !have:
		if err := b.client.Subscribe(ctx, channel, b.handleRelay); err != nil {
			b.metrics.BrokerError("subscribe")
			b.log.Warn().Err(err).Str("channel", channel).Msg("room subscribe failed, serving local members only")
			return
		}
		b.subscribed[channel] = struct{}{}
	case !want && have:
		if err := b.client.Unsubscribe(ctx, channel); err != nil {
			b.metrics.BrokerError("unsubscribe")
			b.log.Warn().Err(err).Str("channel", channel).Msg("room unsubscribe failed")
		}
		delete(b.subscribed, channel)
	}
}

// Reconcile restores broker state lost while the broker was unreachable.
// Missing subscriptions are retried, then the presence shard of each operator
// in operators is rewritten from local membership.
func (b *Broadcaster) Reconcile(ctx context.Context, operators []string) {
	if err := b.Start(ctx); err != nil {
		b.log.Warn().Err(err).Msg("global subscribe failed, retrying on next heartbeat")
	}

	b.mu.RLock()
	roomIDs := make([]string, 0, len(b.rooms))
	for roomID := range b.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	b.mu.RUnlock()
	for _, roomID := range roomIDs {
		b.syncSubscription(ctx, roomID)
	}

	if b.presence == nil {
		return
	}
	for _, op := range operators {
		unlock := b.registry.lockOperator(op)
		// a disconnect that already cleared the shard wins
		if b.registry.HasOperator(op) {
			b.presence.Refresh(ctx, op, b.localRooms(op))
		}
		unlock()
	}
}

// localRooms lists the rooms operatorID has joined on this process.
func (b *Broadcaster) localRooms(operatorID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for roomID, members := range b.rooms {
		for _, op := range members {
			if op == operatorID {
				out = append(out, roomID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Subscriptions lists the broker channels this process is subscribed to.
func (b *Broadcaster) Subscriptions() []string {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	out := make([]string, 0, len(b.subscribed))
	for ch := range b.subscribed {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// BroadcastToRoom publishes env for other processes and delivers it to
// local room members, skipping excludeOperator. It returns the number of
// local deliveries.
func (b *Broadcaster) BroadcastToRoom(ctx context.Context, roomID string, env event.Envelope, excludeOperator string) int {
	data, ok := b.encode(env)
	if !ok {
		return 0
	}
	b.metrics.Broadcast(ScopeRoom)
	b.publish(ctx, RoomChannel(roomID), relay{RoomID: roomID, ExcludeOperator: excludeOperator, Event: data})
	return b.deliverRoom(ctx, roomID, excludeOperator, data)
}

// BroadcastToAll delivers env to every operator on every process.
func (b *Broadcaster) BroadcastToAll(ctx context.Context, env event.Envelope, excludeOperator string) int {
	data, ok := b.encode(env)
	if !ok {
		return 0
	}
	b.metrics.Broadcast(ScopeAll)
	b.publish(ctx, GlobalChannel, relay{ExcludeOperator: excludeOperator, Event: data})
	return b.registry.sendAll(ctx, excludeOperator, data)
}

// NotifyOperator delivers env to operatorID wherever it is connected.
func (b *Broadcaster) NotifyOperator(ctx context.Context, operatorID string, env event.Envelope) int {
	data, ok := b.encode(env)
	if !ok {
		return 0
	}
	b.metrics.Broadcast(ScopeOperator)
	b.publish(ctx, GlobalChannel, relay{TargetOperator: operatorID, Event: data})
	return b.registry.SendToOperator(ctx, operatorID, data)
}

// BroadcastAnalytics delivers env to analytics subscribers on every process.
func (b *Broadcaster) BroadcastAnalytics(ctx context.Context, env event.Envelope) int {
	data, ok := b.encode(env)
	if !ok {
		return 0
	}
	b.metrics.Broadcast(ScopeAnalytics)
	b.publish(ctx, GlobalChannel, relay{Analytics: true, Event: data})
	return b.registry.sendAnalytics(ctx, data)
}

func (b *Broadcaster) encode(env event.Envelope) ([]byte, bool) {
	data, err := env.Encode()
	if err != nil {
		b.log.Error().Err(err).Str("type", string(env.Type)).Msg("failed to encode event")
		return nil, false
	}
	return data, true
}

func (b *Broadcaster) publish(ctx context.Context, channel string, r relay) {
	r.Origin = b.serverID
	payload, err := json.Marshal(r)
	if err != nil {
		b.log.Error().Err(err).Str("channel", channel).Msg("failed to encode relay")
		return
	}
	if err := b.client.Publish(ctx, channel, payload); err != nil {
		b.metrics.BrokerError("publish")
		b.log.Warn().Err(err).Str("channel", channel).Msg("publish failed, delivered locally only")
	}
}

func (b *Broadcaster) deliverRoom(ctx context.Context, roomID, excludeOperator string, data []byte) int {
	b.mu.RLock()
	members := b.rooms[roomID]
	targets := make([]string, 0, len(members))
	for connID, op := range members {
		if excludeOperator != "" && op == excludeOperator {
			continue
		}
		targets = append(targets, connID)
	}
	b.mu.RUnlock()
	return b.registry.sendConns(ctx, targets, data)
}

// handleRelay delivers a record received from the broker to local sockets.
// It never publishes.
func (b *Broadcaster) handleRelay(ctx context.Context, msg broker.Message) {
	var r relay
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("discarding malformed relay")
		return
	}
	if r.Origin == b.serverID {
		return
	}
	switch {
	case r.TargetOperator != "":
		b.registry.SendToOperator(ctx, r.TargetOperator, r.Event)
	case r.Analytics:
		b.registry.sendAnalytics(ctx, r.Event)
	case r.RoomID != "":
		b.deliverRoom(ctx, r.RoomID, r.ExcludeOperator, r.Event)
	default:
		b.registry.sendAll(ctx, r.ExcludeOperator, r.Event)
	}
}

// IsOperatorInRoomAnywhere checks local membership first and then the
// operator's room shards on other processes.
func (b *Broadcaster) IsOperatorInRoomAnywhere(ctx context.Context, operatorID, roomID string) (bool, error) {
	if b.inRoomLocally(operatorID, roomID) {
		return true, nil
	}
	if b.presence == nil {
		return false, nil
	}
	return b.presence.InRoomOnAnyServer(ctx, operatorID, roomID)
}

func (b *Broadcaster) inRoomLocally(operatorID, roomID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, op := range b.rooms[roomID] {
		if op == operatorID {
			return true
		}
	}
	return false
}

// RoomOperators lists operators watching roomID on any process. When the
// broker is unreachable only local members are returned.
func (b *Broadcaster) RoomOperators(ctx context.Context, roomID string) []string {
	seen := make(map[string]struct{})
	b.mu.RLock()
	for _, op := range b.rooms[roomID] {
		seen[op] = struct{}{}
	}
	b.mu.RUnlock()

	if b.presence != nil {
		remote, err := b.presence.RoomOperators(ctx, roomID)
		if err != nil {
			b.metrics.BrokerError("room_members")
			b.log.Warn().Err(err).Str("room_id", roomID).Msg("room members unavailable, using local members")
		}
		for _, op := range remote {
			seen[op] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// OnlineOperators lists online operators. When the broker is unreachable it
// falls back to operators connected to this process.
func (b *Broadcaster) OnlineOperators(ctx context.Context) []event.OperatorStatus {
	if b.presence != nil {
		ops, err := b.presence.ListOnline(ctx)
		if err == nil {
			out := make([]event.OperatorStatus, 0, len(ops))
			for _, op := range ops {
				out = append(out, event.OperatorStatus{ID: op.ID, Status: "online", ActiveChats: op.ActiveChats})
			}
			return out
		}
		b.metrics.BrokerError("presence")
		b.log.Warn().Err(err).Msg("presence unavailable, listing local operators")
	}

	chats := make(map[string]map[string]struct{})
	b.mu.RLock()
	for roomID, members := range b.rooms {
		for _, op := range members {
			if chats[op] == nil {
				chats[op] = make(map[string]struct{})
			}
			chats[op][roomID] = struct{}{}
		}
	}
	b.mu.RUnlock()

	local := b.registry.Operators()
	out := make([]event.OperatorStatus, 0, len(local))
	for _, op := range local {
		out = append(out, event.OperatorStatus{ID: op, Status: "online", ActiveChats: len(chats[op])})
	}
	return out
}

// Touch refreshes the heartbeat of operatorID.
func (b *Broadcaster) Touch(ctx context.Context, operatorID string) {
	if b.presence != nil {
		b.presence.Touch(ctx, operatorID)
	}
}

// RoomCount returns the number of rooms with local members.
func (b *Broadcaster) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}
