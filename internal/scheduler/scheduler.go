// Package scheduler decides when a (connection, facet) sync job runs:
// periodic cadence plus rate-limited manual triggers, with idempotent
// enqueue backed by the advisory pair lock.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the scheduler. Zero values fall back to engine defaults.
type Options struct {
	Cadence      time.Duration
	Tick         time.Duration
	ManualWindow time.Duration
	LockTTL      time.Duration
}

const (
	// How often and how long to re-check for the winning job row after
	// losing the pair-lock race.
	lockRaceLookups     = 3
	lockRaceLookupDelay = 25 * time.Millisecond
)

type Scheduler struct {
	store     domain.Store
	locks     domain.LockRepository
	submitter domain.JobSubmitter
	opts      Options
	logger    zerolog.Logger
}

func New(store domain.Store, locks domain.LockRepository, submitter domain.JobSubmitter, opts Options, logger *zerolog.Logger) *Scheduler {
	if opts.Cadence == 0 {
		opts.Cadence = time.Duration(models.DefaultCadenceHours) * time.Hour
	}
	if opts.Tick == 0 {
		opts.Tick = time.Duration(models.DefaultSchedulerTickSeconds) * time.Second
	}
	if opts.ManualWindow == 0 {
		opts.ManualWindow = time.Duration(models.DefaultManualSyncWindowSeconds) * time.Second
	}
	if opts.LockTTL == 0 {
		// Long enough to outlive any single job; reclaimed on executor crash.
		opts.LockTTL = 15 * time.Minute
	}

	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	return &Scheduler{
		store:     store,
		locks:     locks,
		submitter: submitter,
		opts:      opts,
		logger:    l,
	}
}

// Run drives the periodic cadence until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.logger.Info().Dur("tick", s.opts.Tick).Dur("cadence", s.opts.Cadence).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// tickOnce enqueues a scheduled job for every connected (connection, facet)
// pair whose cadence is due. Enqueue failures are skipped, not reported.
func (s *Scheduler) tickOnce(ctx context.Context) {
	conns, err := s.store.ListConnectionsByStatus(ctx, models.ConnConnected)
	if err != nil {
		s.logger.Error().Err(err).Msg("list connected connections")
		return
	}

	now := time.Now()
	for _, conn := range conns {
		for _, facet := range conn.Facets {
			if !s.due(conn, now) {
				continue
			}
			if _, err := s.Enqueue(ctx, conn, facet, models.TriggerScheduled); err != nil {
				s.logger.Debug().Err(err).
					Int64("connection_id", conn.ID).
					Str("facet", facet).
					Msg("scheduled enqueue skipped")
			}
		}
	}
}

func (s *Scheduler) due(conn *models.ChannelConnection, now time.Time) bool {
	if conn.NextSyncAt == nil {
		return true
	}
	return !now.Before(*conn.NextSyncAt)
}

// Enqueue creates one sync job for the pair unless one is already queued or
// running, in which case the existing job is returned. The pair lock is
// acquired before the job row is created and held until the executor
// finishes, which is what keeps enqueue idempotent under races.
func (s *Scheduler) Enqueue(ctx context.Context, conn *models.ChannelConnection, facet, triggeredBy string) (*models.SyncJob, error) {
	if conn.Status != models.ConnConnected {
		if triggeredBy == models.TriggerManual {
			return nil, channels.NewError(channels.CategoryNotConnected,
				fmt.Sprintf("channel %q is not connected", conn.ChannelType))
		}
		// Scheduled enqueue on a stale connection is silently skipped.
		return nil, nil
	}
	if !conn.HasFacet(facet) {
		if triggeredBy == models.TriggerManual {
			return nil, channels.NewError(channels.CategoryUnsupportedFacet,
				fmt.Sprintf("facet %q is not enabled on this connection", facet))
		}
		return nil, nil
	}

	if triggeredBy == models.TriggerManual {
		allowed, err := s.locks.AllowManualSync(ctx, conn.ID, facet, s.opts.ManualWindow)
		if err != nil {
			return nil, fmt.Errorf("manual sync rate check: %w", err)
		}
		if !allowed {
			return nil, channels.NewError(channels.CategoryRateLimited,
				"manual sync was triggered for this facet less than a minute ago")
		}
	}

	if existing, err := s.store.GetActiveJob(ctx, conn.ID, facet); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	acquired, err := s.locks.AcquireJobLock(ctx, conn.ID, facet, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire pair lock: %w", err)
	}
	if !acquired {
		// Lost the race. The winner's row may not be visible yet, so look a
		// few times before giving up.
		for attempt := 0; attempt < lockRaceLookups; attempt++ {
			existing, err := s.store.GetActiveJob(ctx, conn.ID, facet)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return existing, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(lockRaceLookupDelay):
			}
		}
		if triggeredBy == models.TriggerManual {
			return nil, channels.NewError(channels.CategoryConflict,
				"a sync for this facet is already in progress")
		}
		return nil, nil
	}

	job := &models.SyncJob{
		PublicID:     uuid.NewString(),
		ConnectionID: conn.ID,
		Facet:        facet,
		TriggeredBy:  triggeredBy,
		Status:       models.JobQueued,
	}
	if err := s.store.CreateSyncJob(ctx, job); err != nil {
		if relErr := s.locks.ReleaseJobLock(ctx, conn.ID, facet); relErr != nil {
			s.logger.Error().Err(relErr).Int64("connection_id", conn.ID).Str("facet", facet).Msg("release pair lock")
		}
		return nil, err
	}

	s.submitter.Submit(*job)
	s.logger.Info().
		Str("job_id", job.PublicID).
		Int64("connection_id", conn.ID).
		Str("facet", facet).
		Str("triggered_by", triggeredBy).
		Msg("sync job enqueued")
	return job, nil
}
