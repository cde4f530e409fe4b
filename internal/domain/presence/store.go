// Package presence tracks which operators are online, which rooms they
// occupy on every process, and per-operator read markers. All state lives in
// the shared broker; writes are idempotent set and score operations so that
// processes never coordinate beyond the broker itself.
package presence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/broker"
)

// DefaultWindow is how long a heartbeat keeps an operator online.
const DefaultWindow = 90 * time.Second

// InboundCounter counts end-user messages in a conversation. since is
// exclusive; nil counts every inbound message.
type InboundCounter interface {
	CountInbound(ctx context.Context, conversationID string, since *time.Time) (int64, error)
}

// Operator is one online operator.
type Operator struct {
	ID          string
	ActiveChats int
}

// Store is the broker-backed presence and membership store for one process.
type Store struct {
	client   broker.Client
	serverID string
	window   time.Duration
	counter  InboundCounter
	now      func() time.Time
	log      zerolog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithInboundCounter sets the collaborator used by UnreadCount.
func WithInboundCounter(c InboundCounter) Option {
	return func(s *Store) { s.counter = c }
}

// NewStore creates a Store writing this process's shard under serverID.
func NewStore(client broker.Client, serverID string, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		client:   client,
		serverID: serverID,
		window:   DefaultWindow,
		now:      time.Now,
		log:      log.With().Str("component", "presence-store").Str("server_id", serverID).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerID identifies this process's shard.
func (s *Store) ServerID() string {
	return s.serverID
}

// Window is the heartbeat staleness window.
func (s *Store) Window() time.Duration {
	return s.window
}

func (s *Store) shardTTL() time.Duration {
	return 2 * s.window
}

func (s *Store) warn(err error, op, operatorID string) {
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("op", op).Str("operator_id", operatorID).Msg("presence broker call failed")
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Register records that operatorID now has a connection on this process.
// Broker failures are logged and otherwise ignored.
func (s *Store) Register(ctx context.Context, operatorID string) {
	now := s.now()
	ttl := s.shardTTL()

	s.warn(s.client.Set(ctx, connectionKey(operatorID, s.serverID), now.UTC().Format(time.RFC3339Nano), ttl), "register.connection", operatorID)
	s.warn(s.client.Expire(ctx, operatorRoomsKey(operatorID, s.serverID), ttl), "register.rooms_ttl", operatorID)
	s.warn(s.client.SetAdd(ctx, operatorServersKey(operatorID), s.serverID), "register.servers", operatorID)
	s.warn(s.client.Expire(ctx, operatorServersKey(operatorID), serverSetTTL), "register.servers_ttl", operatorID)
	s.warn(s.client.ScoreSet(ctx, keyPresence, operatorID, epoch(now)), "register.heartbeat", operatorID)
	_, err := s.client.SetNX(ctx, onlineKey(operatorID), now.UTC().Format(time.RFC3339Nano), 0)
	s.warn(err, "register.online_since", operatorID)
}

// Refresh re-asserts every key this process owns for operatorID: the
// connection key, the server entry, the heartbeat and the room shard, which
// is made to match rooms exactly. Writes lost during a broker outage are
// restored by the next call.
func (s *Store) Refresh(ctx context.Context, operatorID string, rooms []string) {
	now := s.now()
	ttl := s.shardTTL()
	stamp := now.UTC().Format(time.RFC3339Nano)

	s.warn(s.client.Set(ctx, connectionKey(operatorID, s.serverID), stamp, ttl), "refresh.connection", operatorID)
	s.warn(s.client.SetAdd(ctx, operatorServersKey(operatorID), s.serverID), "refresh.servers", operatorID)
	s.warn(s.client.Expire(ctx, operatorServersKey(operatorID), serverSetTTL), "refresh.servers_ttl", operatorID)
	s.warn(s.client.ScoreSet(ctx, keyPresence, operatorID, epoch(now)), "refresh.heartbeat", operatorID)
	_, err := s.client.SetNX(ctx, onlineKey(operatorID), stamp, 0)
	s.warn(err, "refresh.online_since", operatorID)

	roomsKey := operatorRoomsKey(operatorID, s.serverID)
	member := roomMember(operatorID, s.serverID)
	want := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		want[room] = struct{}{}
	}
	current, err := s.client.SetMembers(ctx, roomsKey)
	s.warn(err, "refresh.rooms", operatorID)
	for _, room := range current {
		if _, ok := want[room]; ok {
			continue
		}
		s.warn(s.client.SetRemove(ctx, roomsKey, room), "refresh.room_remove", operatorID)
		s.warn(s.client.SetRemove(ctx, roomMembersKey(room), member), "refresh.member_remove", operatorID)
	}
	if len(rooms) > 0 {
		s.warn(s.client.SetAdd(ctx, roomsKey, rooms...), "refresh.room_add", operatorID)
		s.warn(s.client.Expire(ctx, roomsKey, ttl), "refresh.rooms_ttl", operatorID)
		for _, room := range rooms {
			s.warn(s.client.SetAdd(ctx, roomMembersKey(room), member), "refresh.member_add", operatorID)
		}
	}
}

// Touch refreshes the heartbeat and extends this process's shard TTLs.
func (s *Store) Touch(ctx context.Context, operatorID string) {
	ttl := s.shardTTL()
	s.warn(s.client.ScoreSet(ctx, keyPresence, operatorID, epoch(s.now())), "touch.heartbeat", operatorID)
	s.warn(s.client.Expire(ctx, connectionKey(operatorID, s.serverID), ttl), "touch.connection_ttl", operatorID)
	s.warn(s.client.Expire(ctx, operatorRoomsKey(operatorID, s.serverID), ttl), "touch.rooms_ttl", operatorID)
}

// Unregister clears this process's shard for operatorID. If no other process
// still holds a live connection for the operator, the global presence entry is
// removed and the online duration is flushed to the availability aggregates.
func (s *Store) Unregister(ctx context.Context, operatorID string) {
	roomsKey := operatorRoomsKey(operatorID, s.serverID)
	rooms, err := s.client.SetMembers(ctx, roomsKey)
	s.warn(err, "unregister.rooms", operatorID)
	member := roomMember(operatorID, s.serverID)
	for _, room := range rooms {
		s.warn(s.client.SetRemove(ctx, roomMembersKey(room), member), "unregister.room_member", operatorID)
	}

	// one key per DEL: the two keys hash to different cluster slots
	s.warn(s.client.Delete(ctx, connectionKey(operatorID, s.serverID)), "unregister.connection", operatorID)
	s.warn(s.client.Delete(ctx, roomsKey), "unregister.rooms_key", operatorID)
	s.warn(s.client.SetRemove(ctx, operatorServersKey(operatorID), s.serverID), "unregister.servers", operatorID)

	if s.onlineElsewhere(ctx, operatorID) {
		return
	}
	s.warn(s.client.ScoreRemove(ctx, keyPresence, operatorID), "unregister.heartbeat", operatorID)
	s.warn(s.client.Delete(ctx, operatorServersKey(operatorID)), "unregister.servers_key", operatorID)
	s.flushAvailability(ctx, operatorID)
}

// onlineElsewhere reports whether any other process still has a live
// connection key for operatorID. Server entries whose connection key has
// expired belong to crashed processes and are pruned. On broker errors it
// answers true so that an outage never marks an operator offline.
func (s *Store) onlineElsewhere(ctx context.Context, operatorID string) bool {
	servers, err := s.liveServers(ctx, operatorID)
	if err != nil {
		s.warn(err, "unregister.live_servers", operatorID)
		return true
	}
	for _, sid := range servers {
		if sid != s.serverID {
			return true
		}
	}
	return false
}

// liveServers lists the processes that currently hold a connection for operatorID.
func (s *Store) liveServers(ctx context.Context, operatorID string) ([]string, error) {
	servers, err := s.client.SetMembers(ctx, operatorServersKey(operatorID))
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(servers))
	for _, sid := range servers {
		ok, err := s.client.Exists(ctx, connectionKey(operatorID, sid))
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, sid)
			continue
		}
		s.warn(s.client.SetRemove(ctx, operatorServersKey(operatorID), sid), "prune.server", operatorID)
	}
	return live, nil
}

// flushAvailability adds the time since the operator came online to the
// per-day accumulators, splitting at UTC midnight. GETDEL makes the flush
// happen at most once even if two processes race on the last disconnect.
func (s *Store) flushAvailability(ctx context.Context, operatorID string) {
	raw, err := s.client.GetDel(ctx, onlineKey(operatorID))
	if err != nil {
		if !errors.Is(err, broker.ErrNil) {
			s.warn(err, "availability.read", operatorID)
		}
		return
	}
	start, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log.Warn().Err(err).Str("operator_id", operatorID).Msg("invalid online-since marker")
		return
	}
	for day, seconds := range SplitByDay(start, s.now()) {
		key := AvailabilityKey(day)
		s.warn(s.client.ScoreIncr(ctx, key, operatorID, seconds), "availability.incr", operatorID)
		s.warn(s.client.Expire(ctx, key, availabilityTTL), "availability.ttl", operatorID)
	}
}

// SplitByDay distributes the interval [start, end) over UTC calendar days.
// The returned map is keyed by the UTC midnight that starts each day.
func SplitByDay(start, end time.Time) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	cursor := start.UTC()
	end = end.UTC()
	for cursor.Before(end) {
		dayStart := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, time.UTC)
		next := dayStart.AddDate(0, 0, 1)
		segEnd := end
		if next.Before(segEnd) {
			segEnd = next
		}
		out[dayStart] += segEnd.Sub(cursor).Seconds()
		cursor = segEnd
	}
	return out
}

// AddRoom records that operatorID joined roomID on this process.
func (s *Store) AddRoom(ctx context.Context, operatorID, roomID string) {
	roomsKey := operatorRoomsKey(operatorID, s.serverID)
	s.warn(s.client.SetAdd(ctx, roomsKey, roomID), "room.add", operatorID)
	s.warn(s.client.Expire(ctx, roomsKey, s.shardTTL()), "room.ttl", operatorID)
	s.warn(s.client.SetAdd(ctx, roomMembersKey(roomID), roomMember(operatorID, s.serverID)), "room.member_add", operatorID)
}

// RemoveRoom records that operatorID left roomID on this process.
func (s *Store) RemoveRoom(ctx context.Context, operatorID, roomID string) {
	s.warn(s.client.SetRemove(ctx, operatorRoomsKey(operatorID, s.serverID), roomID), "room.remove", operatorID)
	s.warn(s.client.SetRemove(ctx, roomMembersKey(roomID), roomMember(operatorID, s.serverID)), "room.member_remove", operatorID)
}

// ListOnline returns every operator whose heartbeat is inside the window,
// annotated with the number of distinct rooms joined across all processes.
func (s *Store) ListOnline(ctx context.Context) ([]Operator, error) {
	min := epoch(s.now().Add(-s.window))

	// trim entries left behind by processes that died without cleanup
	s.warn(s.client.ScoreRemoveRangeByScore(ctx, keyPresence, broker.ScoreMin, min-0.001), "list.trim", "")

	ids, err := s.client.ScoreRangeByScore(ctx, keyPresence, min, broker.ScoreMax)
	if err != nil {
		return nil, err
	}
	out := make([]Operator, 0, len(ids))
	for _, id := range ids {
		rooms, err := s.ActiveRooms(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Operator{ID: id, ActiveChats: len(rooms)})
	}
	return out, nil
}

// ActiveRooms unions operatorID's room shards over every live process.
func (s *Store) ActiveRooms(ctx context.Context, operatorID string) ([]string, error) {
	servers, err := s.liveServers(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, sid := range servers {
		rooms, err := s.client.SetMembers(ctx, operatorRoomsKey(operatorID, sid))
		if err != nil {
			return nil, err
		}
		for _, r := range rooms {
			seen[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

// InRoomOnAnyServer checks operatorID's room shards on every live process.
// Callers check local membership first; this is the distributed fallback.
func (s *Store) InRoomOnAnyServer(ctx context.Context, operatorID, roomID string) (bool, error) {
	servers, err := s.liveServers(ctx, operatorID)
	if err != nil {
		return false, err
	}
	for _, sid := range servers {
		ok, err := s.client.SetIsMember(ctx, operatorRoomsKey(operatorID, sid), roomID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RoomOperators lists the distinct operators watching roomID on any live
// process. Members whose connection key has expired belong to crashed
// processes and are pruned from the room set.
func (s *Store) RoomOperators(ctx context.Context, roomID string) ([]string, error) {
	key := roomMembersKey(roomID)
	members, err := s.client.SetMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, m := range members {
		op, sid, ok := parseRoomMember(m)
		if !ok {
			continue
		}
		alive, err := s.client.Exists(ctx, connectionKey(op, sid))
		if err != nil {
			return nil, err
		}
		if !alive {
			s.warn(s.client.SetRemove(ctx, key, m), "prune.room_member", op)
			continue
		}
		seen[op] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out, nil
}

// MarkRead stores the read marker for operatorID in conversationID.
func (s *Store) MarkRead(ctx context.Context, operatorID, conversationID string, at time.Time) error {
	return s.client.Set(ctx, ReadKey(operatorID, conversationID), at.UTC().Format(time.RFC3339Nano), readMarkerTTL)
}

// ReadAt returns the read marker, or nil when none is stored.
func (s *Store) ReadAt(ctx context.Context, operatorID, conversationID string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, ReadKey(operatorID, conversationID))
	if err != nil {
		if errors.Is(err, broker.ErrNil) {
			return nil, nil
		}
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log.Warn().Err(err).Str("operator_id", operatorID).Str("conversation_id", conversationID).Msg("ignoring unparsable read marker")
		return nil, nil
	}
	return &ts, nil
}

// ErrNoCounter is returned by UnreadCount when no InboundCounter was configured.
var ErrNoCounter = errors.New("presence: inbound counter not configured")

// UnreadCount counts inbound messages in conversationID newer than the
// operator's read marker. Without a marker every inbound message is unread.
func (s *Store) UnreadCount(ctx context.Context, conversationID, operatorID string) (int64, error) {
	if s.counter == nil {
		return 0, ErrNoCounter
	}
	since, err := s.ReadAt(ctx, operatorID, conversationID)
	if err != nil {
		s.warn(err, "unread.read_marker", operatorID)
		since = nil
	}
	return s.counter.CountInbound(ctx, conversationID, since)
}
