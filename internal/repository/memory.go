package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLockRepository is the single-process fallback when Redis is
// unavailable. Expiry is checked lazily on access.
type MemoryLockRepository struct {
	mu        sync.Mutex
	locks     map[string]time.Time
	manual    map[string]time.Time
	cancelled map[int64]bool
}

func NewMemoryLockRepository() *MemoryLockRepository {
	return &MemoryLockRepository{
		locks:     make(map[string]time.Time),
		manual:    make(map[string]time.Time),
		cancelled: make(map[int64]bool),
	}
}

func (r *MemoryLockRepository) AcquireJobLock(ctx context.Context, connectionID int64, facet string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := jobLockKey(connectionID, facet)
	if expires, ok := r.locks[key]; ok && time.Now().Before(expires) {
		return false, nil
	}
	r.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (r *MemoryLockRepository) ReleaseJobLock(ctx context.Context, connectionID int64, facet string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, jobLockKey(connectionID, facet))
	return nil
}

func (r *MemoryLockRepository) AllowManualSync(ctx context.Context, connectionID int64, facet string, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := manualSyncKey(connectionID, facet)
	if expires, ok := r.manual[key]; ok && time.Now().Before(expires) {
		return false, nil
	}
	r.manual[key] = time.Now().Add(window)
	return true, nil
}

func (r *MemoryLockRepository) SetCancelled(ctx context.Context, connectionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[connectionID] = true
	return nil
}

func (r *MemoryLockRepository) ClearCancelled(ctx context.Context, connectionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, connectionID)
	return nil
}

func (r *MemoryLockRepository) IsCancelled(ctx context.Context, connectionID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[connectionID], nil
}
