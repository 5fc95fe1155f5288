// Package worker runs sync jobs to completion: a bounded pool of executors
// consuming from an in-memory queue with a database polling fallback, one
// in-flight job per (connection, facet) pair.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/database"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/events"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/metrics"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/reconcile"

	"github.com/rs/zerolog"
)

// Config tunes the executor pool. Zero values fall back to engine defaults.
type Config struct {
	Workers           int
	HorizonDays       int
	Cadence           time.Duration
	AdapterTimeout    time.Duration
	FailureThreshold  int
	CalendarBatchSize int
	PollInterval      time.Duration
	Backoff           BackoffPolicy
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = models.DefaultWorkerCount
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = models.DefaultSyncHorizonDays
	}
	if c.Cadence <= 0 {
		c.Cadence = time.Duration(models.DefaultCadenceHours) * time.Hour
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = time.Duration(models.DefaultAdapterTimeoutSeconds) * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = models.DefaultFailureThreshold
	}
	if c.CalendarBatchSize <= 0 {
		c.CalendarBatchSize = models.DefaultCalendarBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = BackoffPolicy{
			Base:   c.Cadence,
			Factor: 2,
			Cap:    time.Duration(models.DefaultBackoffCapFactor) * c.Cadence,
		}
	}
}

type Pool struct {
	store      domain.Store
	locks      domain.LockRepository
	adapters   *channels.AdapterSet
	reconciler *reconcile.Engine
	catalog    domain.ListingCatalog
	eventBus   domain.EventPublisher
	cfg        Config
	queue      chan models.SyncJob
	logger     zerolog.Logger
}

func NewPool(store domain.Store, locks domain.LockRepository, adapters *channels.AdapterSet,
	reconciler *reconcile.Engine, catalog domain.ListingCatalog, eventBus domain.EventPublisher,
	cfg Config, logger *zerolog.Logger) *Pool {

	cfg.applyDefaults()

	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "executor").Logger()
	}
	return &Pool{
		store:      store,
		locks:      locks,
		adapters:   adapters,
		reconciler: reconciler,
		catalog:    catalog,
		eventBus:   eventBus,
		cfg:        cfg,
		queue:      make(chan models.SyncJob, models.WorkerQueueSize),
		logger:     l,
	}
}

// Submit hands a queued job to the pool. A full queue is not an error; the
// polling fallback will pick the job up.
func (p *Pool) Submit(job models.SyncJob) {
	select {
	case p.queue <- job:
	default:
		p.logger.Warn().Str("job_id", job.PublicID).Msg("queue full, job left for polling")
	}
}

// Run starts the workers and the polling fallback, blocking until ctx is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runPoller(ctx)
	}()

	p.logger.Info().Int("workers", p.cfg.Workers).Msg("executor pool started")
	wg.Wait()
	p.logger.Info().Msg("executor pool stopped")
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.Execute(ctx, job)
		}
	}
}

// runPoller rescues jobs that never made it into the in-memory queue, e.g.
// after a restart or a queue overflow.
func (p *Pool) runPoller(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.store.GetQueuedJobs(ctx, models.WorkerQueueSize)
			if err != nil {
				p.logger.Error().Err(err).Msg("poll queued jobs")
				continue
			}
			for _, job := range jobs {
				p.Submit(job)
			}
		}
	}
}

// Execute runs exactly one job. The queued→running transition is a
// compare-and-set, so a job delivered twice (queue plus poller) runs once.
func (p *Pool) Execute(ctx context.Context, job models.SyncJob) {
	if err := p.store.MarkJobRunning(ctx, job.ID); err != nil {
		if !errors.Is(err, database.ErrJobNotFound) {
			p.logger.Error().Err(err).Str("job_id", job.PublicID).Msg("mark job running")
		}
		return
	}

	defer func() {
		if err := p.locks.ReleaseJobLock(ctx, job.ConnectionID, job.Facet); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.PublicID).Msg("release pair lock")
		}
	}()

	conn, err := p.store.GetConnectionByID(ctx, job.ConnectionID)
	if err != nil {
		p.finishFailure(ctx, &job, nil, err)
		return
	}

	if err := p.checkCancelled(ctx, conn); err != nil {
		p.finishFailure(ctx, &job, conn, err)
		return
	}

	items, err := p.runFacet(ctx, conn, &job)
	if err != nil {
		p.finishFailure(ctx, &job, conn, err)
		return
	}
	p.finishSuccess(ctx, &job, conn, items)
}

func (p *Pool) runFacet(ctx context.Context, conn *models.ChannelConnection, job *models.SyncJob) (int, error) {
	adapter, err := p.adapters.Get(conn.ChannelType)
	if err != nil {
		return 0, err
	}

	listing, ok := p.catalog.Listing(conn.ListingID)
	if !ok {
		return 0, fmt.Errorf("listing %d not found in catalog", conn.ListingID)
	}

	switch job.Facet {
	case models.FacetCalendar:
		return p.syncCalendar(ctx, conn, adapter)
	case models.FacetPricing:
		return p.syncPricing(ctx, conn, listing, adapter)
	case models.FacetBookings:
		return p.syncBookings(ctx, conn, adapter)
	default:
		return 0, channels.NewError(channels.CategoryUnsupportedFacet,
			fmt.Sprintf("unknown facet %q", job.Facet))
	}
}

// syncCalendar pulls the channel's view, then pushes the canonical
// availability for the horizon in batches, checking the cancellation flag
// between batches. Each batch is snapshotted under the listing lock so a
// concurrent reconciliation never produces a half-updated batch.
func (p *Pool) syncCalendar(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (int, error) {
	from := models.DateOnly(time.Now())
	to := from.AddDate(0, 0, p.cfg.HorizonDays)

	remote, err := p.pullCalendar(ctx, conn, adapter, from, to)
	if err != nil {
		return 0, err
	}

	dates := models.DatesBetween(from, to)
	pushed := 0
	for start := 0; start < len(dates); start += p.cfg.CalendarBatchSize {
		if err := p.checkCancelled(ctx, conn); err != nil {
			return 0, err
		}

		end := start + p.cfg.CalendarBatchSize
		if end > len(dates) {
			end = len(dates)
		}
		batchDates := dates[start:end]

		var batch []channels.CalendarDay
		err := p.reconciler.WithListingLock(conn.ListingID, func() error {
			unavailable, err := p.store.GetUnavailableDates(ctx, conn.ListingID, batchDates[0], batchDates[len(batchDates)-1].AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			blocked := make(map[string]bool, len(unavailable))
			for _, entry := range unavailable {
				blocked[entry.Date.Format("2006-01-02")] = true
			}
			batch = make([]channels.CalendarDay, 0, len(batchDates))
			for _, d := range batchDates {
				batch = append(batch, channels.CalendarDay{Date: d, Available: !blocked[d.Format("2006-01-02")]})
			}
			return nil
		})
		if err != nil {
			return 0, err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.AdapterTimeout)
		err = adapter.PushCalendar(callCtx, conn.Credentials, conn.ExternalListingID, batch)
		cancel()
		if err != nil {
			// Partial success is failure for the whole job.
			return 0, err
		}
		pushed += len(batch)
	}

	if len(remote) > 0 {
		p.logger.Debug().
			Int64("connection_id", conn.ID).
			Int("remote_days", len(remote)).
			Int("pushed", pushed).
			Msg("calendar sync complete")
	}
	return pushed, nil
}

func (p *Pool) pullCalendar(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter, from, to time.Time) ([]channels.CalendarDay, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AdapterTimeout)
	defer cancel()
	return adapter.PullCalendar(callCtx, conn.Credentials, conn.ExternalListingID, from, to)
}

// syncPricing pushes the nightly price table for the horizon: listing base
// price, season overrides, then per-date calendar overrides.
func (p *Pool) syncPricing(ctx context.Context, conn *models.ChannelConnection, listing *models.Listing, adapter channels.Adapter) (int, error) {
	from := models.DateOnly(time.Now())
	to := from.AddDate(0, 0, p.cfg.HorizonDays)

	overrides, err := p.store.GetPriceOverrides(ctx, conn.ListingID, from, to)
	if err != nil {
		return 0, err
	}

	dates := models.DatesBetween(from, to)
	days := make([]channels.PriceDay, 0, len(dates))
	for _, d := range dates {
		price := listing.NightlyPrice(d)
		if override, ok := overrides[d.Format("2006-01-02")]; ok {
			price = override
		}
		days = append(days, channels.PriceDay{Date: d, Nightly: price})
	}

	if err := p.checkCancelled(ctx, conn); err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AdapterTimeout)
	defer cancel()
	if err := adapter.PushPricing(callCtx, conn.Credentials, conn.ExternalListingID, days); err != nil {
		return 0, err
	}
	return len(days), nil
}

// syncBookings pulls new and changed bookings and reconciles them one at a
// time, in the channel's delivery order.
func (p *Pool) syncBookings(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (int, error) {
	var since time.Time
	if conn.LastSyncAt != nil {
		since = *conn.LastSyncAt
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AdapterTimeout)
	records, err := adapter.PullBookings(callCtx, conn.Credentials, conn.ExternalListingID, since)
	cancel()
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, rec := range records {
		if err := p.checkCancelled(ctx, conn); err != nil {
			return 0, err
		}
		if _, err := p.reconciler.Ingest(ctx, conn.ListingID, conn.ChannelType, rec); err != nil {
			return 0, fmt.Errorf("reconcile booking %q: %w", rec.ExternalID, err)
		}
		ingested++
	}
	return ingested, nil
}

func (p *Pool) checkCancelled(ctx context.Context, conn *models.ChannelConnection) error {
	cancelled, err := p.locks.IsCancelled(ctx, conn.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return channels.NewError(channels.CategoryCancelled, "connection was disconnected")
	}
	return nil
}

func (p *Pool) finishSuccess(ctx context.Context, job *models.SyncJob, conn *models.ChannelConnection, items int) {
	if err := p.store.CompleteSyncJob(ctx, job.ID, items); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.PublicID).Msg("complete job")
	}

	now := time.Now()
	if err := p.store.RecordSyncSuccess(ctx, conn.ID, now, now.Add(p.cfg.Cadence)); err != nil {
		p.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("record sync success")
	}

	metrics.IncSyncJob(job.Facet, "succeeded")
	p.publishOutcome(events.EventSyncSucceeded, job, conn, items, "", "")
	p.logger.Info().
		Str("job_id", job.PublicID).
		Str("facet", job.Facet).
		Int("items_synced", items).
		Msg("sync job succeeded")
}

// finishFailure categorizes the error, updates job and connection state, and
// applies the failure policy: cancellations are not counted, auth expiry
// forces an immediate error state, rate limits double the next cadence up to
// the cap, and crossing the consecutive-failure threshold forces
// connected → error.
func (p *Pool) finishFailure(ctx context.Context, job *models.SyncJob, conn *models.ChannelConnection, cause error) {
	category := channels.CategoryOf(cause)
	detail := channels.DetailOf(cause)

	if err := p.store.FailSyncJob(ctx, job.ID, string(category), detail); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.PublicID).Msg("fail job")
	}

	metrics.IncSyncJob(job.Facet, "failed")
	p.publishOutcome(events.EventSyncFailed, job, conn, 0, string(category), detail)

	logEvent := p.logger.Warn().
		Str("job_id", job.PublicID).
		Str("facet", job.Facet).
		Str("category", string(category)).
		Str("detail", detail)

	if conn == nil {
		logEvent.Msg("sync job failed before connection load")
		return
	}
	logEvent.Int64("connection_id", conn.ID).Msg("sync job failed")

	switch category {
	case channels.CategoryCancelled:
		// Aborted by disconnect; not an error. If the connection was
		// reconnected while this job drained, the flag has done its work:
		// drop it so the reconnected connection's jobs run.
		if current, err := p.store.GetConnectionByID(ctx, conn.ID); err == nil && current.Status == models.ConnConnected {
			if err := p.locks.ClearCancelled(ctx, conn.ID); err != nil {
				p.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("clear cancel flag")
			}
		}
		return

	case channels.CategoryAuthExpired:
		p.forceError(ctx, conn, detail)
		return
	}

	now := time.Now()
	next := now.Add(p.cfg.Cadence)
	if category == channels.CategoryRateLimited {
		next = now.Add(p.cfg.Backoff.NextDelay(conn.ErrorCount + 1))
	}

	count, err := p.store.RecordSyncFailure(ctx, conn.ID, detail, next)
	if err != nil {
		p.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("record sync failure")
		return
	}
	if count >= p.cfg.FailureThreshold {
		p.forceError(ctx, conn, fmt.Sprintf("%d consecutive sync failures: %s", count, detail))
	}
}

func (p *Pool) forceError(ctx context.Context, conn *models.ChannelConnection, detail string) {
	if err := p.store.UpdateConnectionStatus(ctx, conn.ID, models.ConnError, detail); err != nil {
		p.logger.Error().Err(err).Int64("connection_id", conn.ID).Msg("force connection error")
		return
	}
	p.logger.Warn().
		Int64("connection_id", conn.ID).
		Str("channel", conn.ChannelType).
		Msg("connection forced to error, manual reconnect required")

	if p.eventBus != nil {
		_ = p.eventBus.PublishJSON(events.EventConnectionError, events.ConnectionEventPayload{
			ConnectionID: conn.ID,
			ListingID:    conn.ListingID,
			ChannelType:  conn.ChannelType,
			Status:       models.ConnError,
			Detail:       detail,
		})
	}
}

func (p *Pool) publishOutcome(eventType string, job *models.SyncJob, conn *models.ChannelConnection, items int, category, detail string) {
	if p.eventBus == nil {
		return
	}
	payload := events.SyncEventPayload{
		JobID:         job.PublicID,
		ConnectionID:  job.ConnectionID,
		Facet:         job.Facet,
		TriggeredBy:   job.TriggeredBy,
		ItemsSynced:   items,
		ErrorCategory: category,
		ErrorDetail:   detail,
		OccurredAt:    time.Now(),
	}
	if conn != nil {
		payload.ListingID = conn.ListingID
		payload.ChannelType = conn.ChannelType
	}
	_ = p.eventBus.PublishJSON(eventType, payload)
}
