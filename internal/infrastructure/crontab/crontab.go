package crontab

import (
	"context"
	"sync"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"livechat-api/internal/utils/platformerrors"
)

const (
	// DefaultCleanupSchedule runs the stale session sweep every five minutes.
	DefaultCleanupSchedule = "*/5 * * * *"
	// CronJobTimeout bounds each job execution.
	CronJobTimeout = 2 * time.Minute
)

// SessionCleaner closes idle and unclaimed sessions.
type SessionCleaner interface {
	CleanupStaleSessions(ctx context.Context) (int, error)
}

// Crontab schedules the background maintenance jobs.
type Crontab struct {
	ctab     *crontab.Crontab
	cleaner  SessionCleaner
	schedule string
	log      zerolog.Logger

	// running prevents overlapping sweeps when one outlasts the schedule.
	running   sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCrontab creates a scheduler. An empty schedule uses DefaultCleanupSchedule.
func NewCrontab(cleaner SessionCleaner, schedule string, log zerolog.Logger) *Crontab {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	return &Crontab{
		ctab:     crontab.New(),
		cleaner:  cleaner,
		schedule: schedule,
		log:      log.With().Str("component", "session-cleanup").Logger(),
	}
}

// Start runs one sweep immediately and schedules the rest.
// Safe to call multiple times - only the first call schedules jobs.
func (c *Crontab) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		if addErr := c.ctab.AddJob(c.schedule, func() { c.sweep(ctx) }); addErr != nil {
			err = platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, addErr, "failed to add session cleanup job")
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.sweep(ctx)
		}()
		c.log.Info().Str("schedule", c.schedule).Msg("session cleanup scheduled")
	})
	return err
}

// Stop cancels the schedule and waits for an in-flight startup sweep.
// Safe to call multiple times.
func (c *Crontab) Stop() {
	c.stopOnce.Do(func() {
		c.ctab.Shutdown()
		c.wg.Wait()
		c.log.Info().Msg("session cleanup stopped")
	})
}

// RunOnce performs one sweep synchronously.
func (c *Crontab) RunOnce(ctx context.Context) (int, error) {
	c.running.Lock()
	defer c.running.Unlock()
	return c.run(ctx)
}

func (c *Crontab) run(ctx context.Context) (int, error) {
	jobCtx, cancel := context.WithTimeout(ctx, CronJobTimeout)
	defer cancel()
	return c.cleaner.CleanupStaleSessions(jobCtx)
}

func (c *Crontab) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !c.running.TryLock() {
		c.log.Debug().Msg("previous sweep still running, skipping")
		return
	}
	defer c.running.Unlock()

	closed, err := c.run(ctx)
	if err != nil {
		c.log.Error().Err(err).Int("closed", closed).Msg("session cleanup failed")
		return
	}
	c.log.Debug().Int("closed", closed).Msg("session cleanup finished")
}
