package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLockRepository routes to the primary (Redis) repository and falls
// back to the in-memory one when the primary errors, probing for recovery
// once a minute. Locks held in one backend are invisible to the other, so a
// failover window weakens the cross-process guarantee to per-process; the
// job-status check in the scheduler still prevents duplicates.
type FailoverLockRepository struct {
	primary   domain.LockRepository
	fallback  domain.LockRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

const recoveryInterval = time.Minute

func NewFailoverLockRepository(primary, fallback domain.LockRepository, logger *zerolog.Logger) *FailoverLockRepository {
	return &FailoverLockRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// active returns the repository to use, probing the primary for recovery when
// it has been down for longer than the recovery interval.
func (r *FailoverLockRepository) active() domain.LockRepository {
	if !r.isDown.Load() {
		return r.primary
	}

	r.mu.Lock()
	retry := time.Since(r.lastCheck) > recoveryInterval
	if retry {
		r.lastCheck = time.Now()
	}
	r.mu.Unlock()

	if retry {
		return r.primary
	}
	return r.fallback
}

func (r *FailoverLockRepository) markDown(err error) {
	if r.isDown.CompareAndSwap(false, true) {
		r.logger.Error().Err(err).Msg("Primary lock repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverLockRepository) markUp() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("Primary lock repository recovered")
	}
}

func (r *FailoverLockRepository) AcquireJobLock(ctx context.Context, connectionID int64, facet string, ttl time.Duration) (bool, error) {
	repo := r.active()
	ok, err := repo.AcquireJobLock(ctx, connectionID, facet, ttl)
	if err == nil {
		if repo == r.primary {
			r.markUp()
		}
		return ok, nil
	}
	if repo == r.primary {
		r.markDown(err)
		return r.fallback.AcquireJobLock(ctx, connectionID, facet, ttl)
	}
	return false, err
}

func (r *FailoverLockRepository) ReleaseJobLock(ctx context.Context, connectionID int64, facet string) error {
	// Release on both: the lock may have been acquired before a failover.
	errPrimary := r.primary.ReleaseJobLock(ctx, connectionID, facet)
	errFallback := r.fallback.ReleaseJobLock(ctx, connectionID, facet)
	if errPrimary != nil && errFallback != nil {
		return errPrimary
	}
	return nil
}

func (r *FailoverLockRepository) AllowManualSync(ctx context.Context, connectionID int64, facet string, window time.Duration) (bool, error) {
	repo := r.active()
	ok, err := repo.AllowManualSync(ctx, connectionID, facet, window)
	if err == nil {
		if repo == r.primary {
			r.markUp()
		}
		return ok, nil
	}
	if repo == r.primary {
		r.markDown(err)
		return r.fallback.AllowManualSync(ctx, connectionID, facet, window)
	}
	return false, err
}

func (r *FailoverLockRepository) SetCancelled(ctx context.Context, connectionID int64) error {
	// Cancellation must reach the executor, so set the flag in both backends.
	errPrimary := r.primary.SetCancelled(ctx, connectionID)
	errFallback := r.fallback.SetCancelled(ctx, connectionID)
	if errPrimary != nil {
		r.markDown(errPrimary)
	}
	if errPrimary != nil && errFallback != nil {
		return errPrimary
	}
	return nil
}

func (r *FailoverLockRepository) ClearCancelled(ctx context.Context, connectionID int64) error {
	errPrimary := r.primary.ClearCancelled(ctx, connectionID)
	errFallback := r.fallback.ClearCancelled(ctx, connectionID)
	if errPrimary != nil && errFallback != nil {
		return errPrimary
	}
	return nil
}

func (r *FailoverLockRepository) IsCancelled(ctx context.Context, connectionID int64) (bool, error) {
	repo := r.active()
	cancelled, err := repo.IsCancelled(ctx, connectionID)
	if err == nil {
		if repo == r.primary {
			r.markUp()
		}
		return cancelled, nil
	}
	if repo == r.primary {
		r.markDown(err)
		return r.fallback.IsCancelled(ctx, connectionID)
	}
	return false, err
}
