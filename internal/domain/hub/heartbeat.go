package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livechat-api/internal/domain/ratelimit"
)

// DefaultHeartbeatInterval keeps presence well inside the 90s window.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat periodically reconciles broker subscriptions and presence for
// every locally connected operator and drops idle rate-limit buckets.
type Heartbeat struct {
	registry    *Registry
	broadcaster *Broadcaster
	limiter     *ratelimit.Limiter
	bucketAge   time.Duration
	interval    time.Duration
	log         zerolog.Logger
	done        chan struct{}
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewHeartbeat creates a heartbeat loop. limiter may be nil.
func NewHeartbeat(
	registry *Registry,
	broadcaster *Broadcaster,
	limiter *ratelimit.Limiter,
	bucketAge time.Duration,
	interval time.Duration,
	log zerolog.Logger,
) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		registry:    registry,
		broadcaster: broadcaster,
		limiter:     limiter,
		bucketAge:   bucketAge,
		interval:    interval,
		log:         log.With().Str("component", "presence-heartbeat").Logger(),
		done:        make(chan struct{}),
	}
}

// Start begins the loop in background.
// Safe to call multiple times - only the first call starts it.
func (h *Heartbeat) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.run(ctx)
		h.log.Info().Dur("interval", h.interval).Msg("presence heartbeat started")
	})
}

// Stop shuts the loop down and waits for the current tick to finish.
// Safe to call multiple times - only the first call stops it.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.log.Info().Msg("presence heartbeat stopped")
	})
}

func (h *Heartbeat) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug().Msg("context cancelled, shutting down heartbeat")
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat round.
func (h *Heartbeat) Tick(ctx context.Context) {
	operators := h.registry.Operators()
	h.broadcaster.Reconcile(ctx, operators)

	removed := 0
	if h.limiter != nil && h.bucketAge > 0 {
		removed = h.limiter.CleanupStale(h.bucketAge)
	}

	h.log.Debug().
		Int("operators", len(operators)).
		Int("stale_buckets", removed).
		Msg("heartbeat")
}
