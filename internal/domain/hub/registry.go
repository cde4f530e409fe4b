// Package hub owns the live websocket connections of one process and fans
// events out to them, locally and through the shared broker.
package hub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/presence"
)

// ErrUnknownConnection is returned for connections that were never
// registered or have already been unregistered.
var ErrUnknownConnection = errors.New("connection not registered")

// Conn is a single operator socket. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// EvictHook runs when a connection leaves the registry, before presence is cleared.
type EvictHook func(ctx context.Context, conn Conn, operatorID string)

type entry struct {
	conn       Conn
	operatorID string
	analytics  bool
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Operators   int `json:"operators"`
}

// Registry binds connections to operators. It is the only holder of socket
// handles in the process.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*entry
	byOperator map[string]map[string]*entry

	hooksMu sync.RWMutex
	hooks   []EvictHook

	// opLocks orders presence writes of one operator so a late Unregister
	// never clears a shard that a newer Register just wrote.
	opLocksMu sync.Mutex
	opLocks   map[string]*operatorLock

	presence *presence.Store
	metrics  Metrics
	log      zerolog.Logger
}

// NewRegistry creates an empty registry. presence may be nil in tests that
// only exercise local delivery.
func NewRegistry(store *presence.Store, metrics Metrics, log zerolog.Logger) *Registry {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Registry{
		conns:      make(map[string]*entry),
		byOperator: make(map[string]map[string]*entry),
		opLocks:    make(map[string]*operatorLock),
		presence:   store,
		metrics:    metrics,
		log:        log.With().Str("component", "connection-registry").Logger(),
	}
}

// OnEvict adds a hook that runs on every Unregister.
func (r *Registry) OnEvict(hook EvictHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register binds conn to operatorID. The first local connection of an
// operator registers its presence shard; later ones only refresh it.
func (r *Registry) Register(ctx context.Context, conn Conn, operatorID string) {
	r.mu.Lock()
	e := &entry{conn: conn, operatorID: operatorID}
	if old, ok := r.conns[conn.ID()]; ok {
		delete(r.byOperator[old.operatorID], conn.ID())
	}
	r.conns[conn.ID()] = e
	ops, ok := r.byOperator[operatorID]
	if !ok {
		ops = make(map[string]*entry)
		r.byOperator[operatorID] = ops
	}
	first := len(ops) == 0
	ops[conn.ID()] = e
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	if r.presence != nil {
		unlock := r.lockOperator(operatorID)
		if first {
			r.presence.Register(ctx, operatorID)
		} else {
			r.presence.Touch(ctx, operatorID)
		}
		unlock()
	}

	r.log.Info().
		Str("connection_id", conn.ID()).
		Str("operator_id", operatorID).
		Bool("first_local", first).
		Msg("connection registered")
}

// Unregister removes conn. It returns the operator the connection belonged
// to and whether it was that operator's last local connection. Calling it
// twice for the same connection is harmless.
func (r *Registry) Unregister(ctx context.Context, conn Conn) (string, bool, error) {
	r.mu.RLock()
	e, ok := r.conns[conn.ID()]
	r.mu.RUnlock()
	if !ok || e.conn != conn {
		return "", false, ErrUnknownConnection
	}

	// hooks see the connection while it is still registered
	r.hooksMu.RLock()
	hooks := append([]EvictHook(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, conn, e.operatorID)
	}

	r.mu.Lock()
	current, ok := r.conns[conn.ID()]
	if !ok || current != e {
		r.mu.Unlock()
		return "", false, ErrUnknownConnection
	}
	delete(r.conns, conn.ID())
	ops := r.byOperator[e.operatorID]
	delete(ops, conn.ID())
	last := len(ops) == 0
	if last {
		delete(r.byOperator, e.operatorID)
	}
	r.mu.Unlock()

	r.metrics.ConnectionClosed()
	if last && r.presence != nil {
		unlock := r.lockOperator(e.operatorID)
		// a connection registered since the map update owns the shard now
		if !r.HasOperator(e.operatorID) {
			r.presence.Unregister(ctx, e.operatorID)
		}
		unlock()
	}

	r.log.Info().
		Str("connection_id", conn.ID()).
		Str("operator_id", e.operatorID).
		Bool("last_local", last).
		Msg("connection unregistered")
	return e.operatorID, last, nil
}

// OperatorOf returns the operator bound to connID.
func (r *Registry) OperatorOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return e.operatorID, true
}

// HasOperator reports whether operatorID has at least one local connection.
func (r *Registry) HasOperator(operatorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOperator[operatorID]) > 0
}

// Operators lists operators with at least one local connection.
func (r *Registry) Operators() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byOperator))
	for op := range r.byOperator {
		out = append(out, op)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// SetAnalytics toggles the live KPI subscription of a connection.
func (r *Registry) SetAnalytics(connID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	e.analytics = enabled
	return nil
}

// Stats returns connection and operator counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.conns), Operators: len(r.byOperator)}
}

// Send delivers data to one connection. A failed write unregisters it.
func (r *Registry) Send(ctx context.Context, connID string, data []byte) error {
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return r.deliver(ctx, e, data)
}

// SendToOperator delivers data to every local connection of operatorID and
// returns how many writes succeeded. Delivery is best effort.
func (r *Registry) SendToOperator(ctx context.Context, operatorID string, data []byte) int {
	return r.broadcast(ctx, r.collect(func(e *entry) bool { return e.operatorID == operatorID }), data)
}

// sendAll delivers to every local connection not owned by excludeOperator.
func (r *Registry) sendAll(ctx context.Context, excludeOperator string, data []byte) int {
	return r.broadcast(ctx, r.collect(func(e *entry) bool { return excludeOperator == "" || e.operatorID != excludeOperator }), data)
}

// sendAnalytics delivers to connections subscribed to live KPIs.
func (r *Registry) sendAnalytics(ctx context.Context, data []byte) int {
	return r.broadcast(ctx, r.collect(func(e *entry) bool { return e.analytics }), data)
}

// sendConns delivers to the given connection IDs.
func (r *Registry) sendConns(ctx context.Context, connIDs []string, data []byte) int {
	r.mu.RLock()
	targets := make([]*entry, 0, len(connIDs))
	for _, id := range connIDs {
		if e, ok := r.conns[id]; ok {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()
	return r.broadcast(ctx, targets, data)
}

func (r *Registry) collect(match func(*entry) bool) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.conns))
	for _, e := range r.conns {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) broadcast(ctx context.Context, targets []*entry, data []byte) int {
	sent := 0
	for _, e := range targets {
		if err := r.deliver(ctx, e, data); err == nil {
			sent++
		}
	}
	return sent
}

// deliver writes data to one socket. The caller's cancellation does not
// reach the write, which is bounded by the connection's own write timeout,
// and only a failed socket write prunes the connection.
func (r *Registry) deliver(ctx context.Context, e *entry, data []byte) error {
	ctx = context.WithoutCancel(ctx)
	err := e.conn.Send(ctx, data)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.log.Debug().Err(err).Str("connection_id", e.conn.ID()).Msg("write abandoned, keeping connection")
		return err
	}
	r.log.Warn().
		Err(err).
		Str("connection_id", e.conn.ID()).
		Str("operator_id", e.operatorID).
		Msg("pruning connection after failed write")
	_, _, _ = r.Unregister(ctx, e.conn)
	return err
}

type operatorLock struct {
	mu   sync.Mutex
	refs int
}

// lockOperator serialises presence I/O for operatorID and returns the
// unlock func. Idle locks are dropped.
func (r *Registry) lockOperator(operatorID string) func() {
	r.opLocksMu.Lock()
	l, ok := r.opLocks[operatorID]
	if !ok {
		l = &operatorLock{}
		r.opLocks[operatorID] = l
	}
	l.refs++
	r.opLocksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.opLocksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.opLocks, operatorID)
		}
		r.opLocksMu.Unlock()
	}
}
