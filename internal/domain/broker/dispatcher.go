package broker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultQueueSize bounds the per-channel backlog between the listener and a handler.
const DefaultQueueSize = 256

// Dispatcher fans messages from a single listener goroutine out to
// per-channel handlers. Each channel gets its own bounded queue and worker,
// so a slow room never stalls the listener and per-channel order is kept.
type Dispatcher struct {
	mu        sync.Mutex
	routes    map[string]*route
	queueSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    bool
	onDrop    func(channel string)
	log       zerolog.Logger
}

type route struct {
	handler Handler
	queue   chan Message
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithDropHook is called whenever a message is dropped because its channel queue is full.
func WithDropHook(fn func(channel string)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onDrop = fn
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		routes:    make(map[string]*route),
		queueSize: DefaultQueueSize,
		ctx:       ctx,
		cancel:    cancel,
		log:       log.With().Str("component", "broker-dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs a handler for channel and starts its worker.
// It returns false if the channel already has a handler or the dispatcher is closed.
func (d *Dispatcher) Register(channel string, handler Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if _, exists := d.routes[channel]; exists {
		return false
	}

	r := &route{handler: handler, queue: make(chan Message, d.queueSize)}
	d.routes[channel] = r
	d.wg.Add(1)
	go d.work(channel, r)
	return true
}

// Remove stops the worker for channel. Messages still queued are delivered first.
func (d *Dispatcher) Remove(channel string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.routes[channel]
	if !ok {
		return false
	}
	delete(d.routes, channel)
	close(r.queue)
	return true
}

// Has reports whether channel currently has a handler.
func (d *Dispatcher) Has(channel string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.routes[channel]
	return ok
}

// Channels returns the channels that currently have handlers.
func (d *Dispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.routes))
	for ch := range d.routes {
		out = append(out, ch)
	}
	return out
}

// Dispatch enqueues msg for its channel without blocking.
// It returns false if no handler is registered or the queue is full.
func (d *Dispatcher) Dispatch(msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.routes[msg.Channel]
	if !ok {
		return false
	}
	select {
	case r.queue <- msg:
		return true
	default:
		d.log.Warn().Str("channel", msg.Channel).Msg("dispatch queue full, dropping message")
		if d.onDrop != nil {
			d.onDrop(msg.Channel)
		}
		return false
	}
}

// Close stops every worker and waits for them to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for ch, r := range d.routes {
		close(r.queue)
		delete(d.routes, ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

func (d *Dispatcher) work(channel string, r *route) {
	defer d.wg.Done()
	for msg := range r.queue {
		d.invoke(channel, r.handler, msg)
	}
}

func (d *Dispatcher) invoke(channel string, handler Handler, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Interface("panic", rec).Str("channel", channel).Msg("broker handler panicked")
		}
	}()
	handler(d.ctx, msg)
}
