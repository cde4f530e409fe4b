package pubsub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/broker"
)

// ErrClosed is returned by a MemoryClient after Close.
var ErrClosed = errors.New("memory broker: client closed")

// MemoryStore is the shared state behind one or more MemoryClients. Several
// clients attached to the same store behave like several processes talking
// to one Redis.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	expiry  map[string]time.Time
	clients map[*MemoryClient]struct{}
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		expiry:  make(map[string]time.Time),
		clients: make(map[*MemoryClient]struct{}),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for key expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expireLocked drops key if its TTL has passed. Caller holds s.mu.
func (s *MemoryStore) expireLocked(key string) {
	at, ok := s.expiry[key]
	if !ok || s.now().Before(at) {
		return
	}
	s.deleteLocked(key)
}

func (s *MemoryStore) deleteLocked(key string) bool {
	_, a := s.strings[key]
	_, b := s.sets[key]
	_, c := s.zsets[key]
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.zsets, key)
	delete(s.expiry, key)
	return a || b || c
}

func (s *MemoryStore) existsLocked(key string) bool {
	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.zsets[key]
	return ok
}

// MemoryClient is a broker.Client backed by a MemoryStore. Each client owns
// its subscriptions, mirroring one process's connection to the broker.
type MemoryClient struct {
	store      *MemoryStore
	dispatcher *broker.Dispatcher
	log        zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]struct{}
	closed bool
	fault  error
}

var _ broker.Client = (*MemoryClient)(nil)

// NewMemoryClient attaches a new client to store.
func NewMemoryClient(store *MemoryStore, dispatcher *broker.Dispatcher, log zerolog.Logger) *MemoryClient {
	c := &MemoryClient{
		store:      store,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "memory-broker").Logger(),
		subs:       make(map[string]struct{}),
	}
	store.mu.Lock()
	store.clients[c] = struct{}{}
	store.mu.Unlock()
	return c
}

// SetUnavailable makes every subsequent call fail with err, simulating a
// broker outage. Passing nil restores the client.
func (c *MemoryClient) SetUnavailable(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = err
}

func (c *MemoryClient) check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.fault
}

func (c *MemoryClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// Publish implements broker.Client.
func (c *MemoryClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	c.store.mu.Lock()
	targets := make([]*MemoryClient, 0, len(c.store.clients))
	for client := range c.store.clients {
		targets = append(targets, client)
	}
	c.store.mu.Unlock()

	data := append([]byte(nil), payload...)
	for _, client := range targets {
		if client.subscribed(channel) {
			client.dispatcher.Dispatch(broker.Message{Channel: channel, Payload: data})
		}
	}
	return nil
}

// Subscribe implements broker.Client.
func (c *MemoryClient) Subscribe(ctx context.Context, channel string, handler broker.Handler) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[channel]; ok {
		return nil
	}
	c.dispatcher.Register(channel, handler)
	c.subs[channel] = struct{}{}
	return nil
}

// Unsubscribe implements broker.Client.
func (c *MemoryClient) Unsubscribe(ctx context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
	c.dispatcher.Remove(channel)
	return nil
}

// SetAdd implements broker.Client.
func (c *MemoryClient) SetAdd(ctx context.Context, key string, members ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SetRemove implements broker.Client.
func (c *MemoryClient) SetRemove(ctx context.Context, key string, members ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		s.deleteLocked(key)
	}
	return nil
}

// SetMembers implements broker.Client.
func (c *MemoryClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// SetIsMember implements broker.Client.
func (c *MemoryClient) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, ok := s.sets[key][member]
	return ok, nil
}

// ScoreSet implements broker.Client.
func (c *MemoryClient) ScoreSet(ctx context.Context, key, member string, score float64) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

// ScoreRemove implements broker.Client.
func (c *MemoryClient) ScoreRemove(ctx context.Context, key string, members ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(z, m)
	}
	if len(z) == 0 {
		s.deleteLocked(key)
	}
	return nil
}

// ScoreRangeByScore implements broker.Client. Results are ordered by score, then member.
func (c *MemoryClient) ScoreRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for m, score := range s.zsets[key] {
		if score >= min && score <= max {
			entries = append(entries, entry{m, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score == entries[j].score {
			return entries[i].member < entries[j].member
		}
		return entries[i].score < entries[j].score
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out, nil
}

// ScoreRemoveRangeByScore implements broker.Client.
func (c *MemoryClient) ScoreRemoveRangeByScore(ctx context.Context, key string, min, max float64) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for m, score := range z {
		if score >= min && score <= max {
			delete(z, m)
		}
	}
	if len(z) == 0 {
		s.deleteLocked(key)
	}
	return nil
}

// ScoreIncr implements broker.Client.
func (c *MemoryClient) ScoreIncr(ctx context.Context, key, member string, delta float64) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] += delta
	return nil
}

// Score returns a member's score. It exists for tests and diagnostics.
func (c *MemoryClient) Score(key, member string) (float64, bool) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.zsets[key][member]
	return v, ok
}

// Set implements broker.Client.
func (c *MemoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	}
	return nil
}

// SetNX implements broker.Client.
func (c *MemoryClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsLocked(key) {
		return false, nil
	}
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	}
	return true, nil
}

// Get implements broker.Client.
func (c *MemoryClient) Get(ctx context.Context, key string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.strings[key]
	if !ok {
		return "", broker.ErrNil
	}
	return v, nil
}

// GetDel implements broker.Client.
func (c *MemoryClient) GetDel(ctx context.Context, key string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.strings[key]
	if !ok {
		return "", broker.ErrNil
	}
	s.deleteLocked(key)
	return v, nil
}

// Delete implements broker.Client.
func (c *MemoryClient) Delete(ctx context.Context, keys ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.deleteLocked(k)
	}
	return nil
}

// Exists implements broker.Client.
func (c *MemoryClient) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(key), nil
}

// Expire implements broker.Client.
func (c *MemoryClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(key) {
		return nil
	}
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

// TTL returns the remaining lifetime of key, or -1 when it has none.
func (c *MemoryClient) TTL(key string) time.Duration {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.expiry[key]
	if !ok {
		return -1
	}
	return at.Sub(s.now())
}

// Ping implements broker.Client.
func (c *MemoryClient) Ping(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return nil
}

// Close detaches the client from its store and stops its dispatcher.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[string]struct{})
	c.mu.Unlock()

	c.store.mu.Lock()
	delete(c.store.clients, c)
	c.store.mu.Unlock()

	c.dispatcher.Close()
	return nil
}
