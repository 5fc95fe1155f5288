package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/database"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	probeErr error
}

func (s *stubAdapter) Type() string { return models.ChannelStayHub }

func (s *stubAdapter) Probe(ctx context.Context, creds channels.Credentials) error {
	return s.probeErr
}

func (s *stubAdapter) PullCalendar(ctx context.Context, creds channels.Credentials, ext string, from, to time.Time) ([]channels.CalendarDay, error) {
	return nil, nil
}

func (s *stubAdapter) PushCalendar(ctx context.Context, creds channels.Credentials, ext string, days []channels.CalendarDay) error {
	return nil
}

func (s *stubAdapter) PushPricing(ctx context.Context, creds channels.Credentials, ext string, days []channels.PriceDay) error {
	return nil
}

func (s *stubAdapter) PullBookings(ctx context.Context, creds channels.Credentials, ext string, since time.Time) ([]channels.BookingRecord, error) {
	return nil, nil
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	facets []string
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, conn *models.ChannelConnection, facet, triggeredBy string) (*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facets = append(r.facets, facet)
	return &models.SyncJob{PublicID: uuid.NewString(), ConnectionID: conn.ID, Facet: facet, Status: models.JobQueued}, nil
}

type connectionFixture struct {
	svc      *ConnectionService
	status   *StatusService
	db       *database.DB
	locks    *repository.MemoryLockRepository
	adapter  *stubAdapter
	enqueuer *recordingEnqueuer
}

func setupConnectionService(t *testing.T) *connectionFixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zerolog.Nop()
	locks := repository.NewMemoryLockRepository()
	adapter := &stubAdapter{}
	enqueuer := &recordingEnqueuer{}
	catalog := NewCatalog([]models.Listing{
		{ID: 1, Name: "Loft", BasePrice: 100, IsActive: true},
		{ID: 2, Name: "Ático", BasePrice: 140, IsActive: true},
	})

	svc := NewConnectionService(db, channels.DefaultRegistry(), channels.NewAdapterSet(adapter),
		locks, enqueuer, nil, catalog, time.Second, &logger)
	status := NewStatusService(db, catalog)

	return &connectionFixture{svc: svc, status: status, db: db, locks: locks, adapter: adapter, enqueuer: enqueuer}
}

var validCreds = map[string]string{"api_key": "k", "account_id": "a"}

func TestConnect_Success(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	conn, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar, models.FacetBookings}, "ext-9")
	require.NoError(t, err)
	assert.Equal(t, models.ConnConnected, conn.Status)
	assert.Equal(t, "ext-9", conn.ExternalListingID)

	// One immediate sync per enabled facet.
	assert.ElementsMatch(t, []string{models.FacetCalendar, models.FacetBookings}, f.enqueuer.facets)
}

func TestConnect_DefaultsExternalListingID(t *testing.T) {
	f := setupConnectionService(t)

	conn, err := f.svc.Connect(context.Background(), 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	require.NoError(t, err)
	assert.Equal(t, "1", conn.ExternalListingID)
}

func TestConnect_UnknownListing(t *testing.T) {
	f := setupConnectionService(t)

	_, err := f.svc.Connect(context.Background(), 99, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestConnect_ValidationFailures(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, 1, "nosuch", validCreds, []string{models.FacetCalendar}, "")
	assert.Equal(t, channels.CategoryUnknownChannel, channels.CategoryOf(err))

	_, err = f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds, nil, "")
	assert.Equal(t, channels.CategoryUnsupportedFacet, channels.CategoryOf(err))

	_, err = f.svc.Connect(ctx, 1, models.ChannelStayHub, map[string]string{"api_key": "k"},
		[]string{models.FacetCalendar}, "")
	assert.Equal(t, channels.CategoryInvalidCredentials, channels.CategoryOf(err))

	// Nothing was persisted and no syncs were scheduled.
	_, err = f.db.GetConnection(ctx, 1, models.ChannelStayHub)
	assert.ErrorIs(t, err, database.ErrConnectionNotFound)
	assert.Empty(t, f.enqueuer.facets)
}

func TestConnect_ProbeFailureLandsInError(t *testing.T) {
	f := setupConnectionService(t)
	f.adapter.probeErr = channels.NewError(channels.CategoryInvalidCredentials, "channel rejected credentials")

	conn, err := f.svc.Connect(context.Background(), 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	require.NoError(t, err)
	assert.Equal(t, models.ConnError, conn.Status)
	assert.Equal(t, "channel rejected credentials", conn.LastError)
	assert.Empty(t, f.enqueuer.facets)
}

func TestRetry_FromErrorState(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	f.adapter.probeErr = channels.NewError(channels.CategoryNetworkError, "channel unreachable")
	_, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds, []string{models.FacetCalendar}, "ext-9")
	require.NoError(t, err)

	// Partner recovered; retry reuses the stored credentials.
	f.adapter.probeErr = nil
	conn, err := f.svc.Retry(ctx, 1, models.ChannelStayHub)
	require.NoError(t, err)
	assert.Equal(t, models.ConnConnected, conn.Status)
	assert.Equal(t, "ext-9", conn.ExternalListingID)

	// Retry on a healthy connection is rejected.
	_, err = f.svc.Retry(ctx, 1, models.ChannelStayHub)
	assert.Equal(t, channels.CategoryNotConnected, channels.CategoryOf(err))
}

func TestDisconnect_CancelsQueuedWork(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	conn, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	require.NoError(t, err)

	job := &models.SyncJob{
		PublicID:     uuid.NewString(),
		ConnectionID: conn.ID,
		Facet:        models.FacetCalendar,
		TriggeredBy:  models.TriggerScheduled,
		Status:       models.JobQueued,
	}
	require.NoError(t, f.db.CreateSyncJob(ctx, job))

	require.NoError(t, f.svc.Disconnect(ctx, 1, models.ChannelStayHub))

	got, err := f.db.GetConnection(ctx, 1, models.ChannelStayHub)
	require.NoError(t, err)
	assert.Equal(t, models.ConnDisconnected, got.Status)

	// Queued job is cancelled; the cooperative flag is raised for running ones.
	j, err := f.db.GetSyncJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, j.Status)
	assert.Equal(t, "cancelled", j.ErrorCategory)

	cancelled, err := f.locks.IsCancelled(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// History survives disconnect.
	jobs, err := f.db.ListRecentJobs(ctx, conn.ID, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, jobs)
}

func TestDisconnect_RunningJobKeepsLockAndFlag(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	conn, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	require.NoError(t, err)

	// A job mid-execution: running row plus the pair lock it holds.
	job := &models.SyncJob{
		PublicID:     uuid.NewString(),
		ConnectionID: conn.ID,
		Facet:        models.FacetCalendar,
		TriggeredBy:  models.TriggerScheduled,
		Status:       models.JobQueued,
	}
	require.NoError(t, f.db.CreateSyncJob(ctx, job))
	acquired, err := f.locks.AcquireJobLock(ctx, conn.ID, models.FacetCalendar, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, f.db.MarkJobRunning(ctx, job.ID))

	require.NoError(t, f.svc.Disconnect(ctx, 1, models.ChannelStayHub))

	// The running job keeps its pair lock until it aborts on its own.
	acquired, err = f.locks.AcquireJobLock(ctx, conn.ID, models.FacetCalendar, time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	j, err := f.db.GetSyncJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, j.Status)

	// Reconnecting before the job drains must not un-cancel it.
	_, err = f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds, []string{models.FacetCalendar}, "")
	require.NoError(t, err)

	cancelled, err := f.locks.IsCancelled(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestDisconnect_FreesQueuedJobLock(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	conn, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	require.NoError(t, err)

	job := &models.SyncJob{
		PublicID:     uuid.NewString(),
		ConnectionID: conn.ID,
		Facet:        models.FacetCalendar,
		TriggeredBy:  models.TriggerScheduled,
		Status:       models.JobQueued,
	}
	require.NoError(t, f.db.CreateSyncJob(ctx, job))
	acquired, err := f.locks.AcquireJobLock(ctx, conn.ID, models.FacetCalendar, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, f.svc.Disconnect(ctx, 1, models.ChannelStayHub))

	// The cancelled queued job's lock is released with it.
	acquired, err = f.locks.AcquireJobLock(ctx, conn.ID, models.FacetCalendar, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestConnect_AfterDisconnectClearsCancelFlag(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	conn, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds, []string{models.FacetCalendar}, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Disconnect(ctx, 1, models.ChannelStayHub))

	_, err = f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds, []string{models.FacetCalendar}, "")
	require.NoError(t, err)

	cancelled, err := f.locks.IsCancelled(ctx, conn.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestUpdateFacets(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar}, "")
	require.NoError(t, err)

	conn, err := f.svc.UpdateFacets(ctx, 1, models.ChannelStayHub,
		[]string{models.FacetCalendar, models.FacetPricing})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{models.FacetCalendar, models.FacetPricing}, conn.Facets)

	_, err = f.svc.UpdateFacets(ctx, 1, models.ChannelStayHub, []string{"messaging"})
	assert.Equal(t, channels.CategoryUnsupportedFacet, channels.CategoryOf(err))

	require.NoError(t, f.svc.Disconnect(ctx, 1, models.ChannelStayHub))
	_, err = f.svc.UpdateFacets(ctx, 1, models.ChannelStayHub, []string{models.FacetCalendar})
	assert.Equal(t, channels.CategoryNotConnected, channels.CategoryOf(err))
}

func TestStatus_Projection(t *testing.T) {
	f := setupConnectionService(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, 1, models.ChannelStayHub, validCreds,
		[]string{models.FacetCalendar, models.FacetBookings}, "")
	require.NoError(t, err)

	booking := &models.ExternalBooking{
		ListingID:   1,
		ChannelType: models.ChannelStayHub,
		ExternalID:  "bk-1",
		CheckIn:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC),
		State:       models.BookingConfirmed,
	}
	_, err = f.db.UpsertExternalBooking(ctx, booking)
	require.NoError(t, err)
	require.NoError(t, f.db.SetBookingConflicting(ctx, booking.ID, true))

	statuses, err := f.status.Status(ctx, 1)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ChannelStayHub, statuses[0].ChannelType)
	assert.Equal(t, models.ConnConnected, statuses[0].Status)
	assert.Equal(t, []int64{booking.ID}, statuses[0].ConflictingBookingIDs)

	// Disconnected connections still appear.
	require.NoError(t, f.svc.Disconnect(ctx, 1, models.ChannelStayHub))
	statuses, err = f.status.Status(ctx, 1)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.ConnDisconnected, statuses[0].Status)

	// A listing with no connections yields an empty projection, not an error.
	statuses, err = f.status.Status(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	_, err = f.status.Status(ctx, 99)
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestCatalog(t *testing.T) {
	catalog := NewCatalog([]models.Listing{
		{ID: 2, Name: "B", IsActive: true},
		{ID: 1, Name: "A", IsActive: true},
		{ID: 3, Name: "C", IsActive: false},
	})

	l, ok := catalog.Listing(1)
	require.True(t, ok)
	assert.Equal(t, "A", l.Name)

	_, ok = catalog.Listing(9)
	assert.False(t, ok)

	active := catalog.Active()
	require.Len(t, active, 2)
	assert.Equal(t, int64(1), active[0].ID)
	assert.Equal(t, int64(2), active[1].ID)
}
