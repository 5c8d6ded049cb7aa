package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/db"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/reconciler"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
)

type fakeClient struct {
	mu         sync.Mutex
	batch      adapter.Batch
	fetchErr   error
	ratesErr   error
	availErr   error
	lastChange *time.Time
	rates      []models.RoomRate
	avail      []models.RoomAvailability
	confirmed  []string
}

func (c *fakeClient) FetchReservations(_ context.Context, lastChange *time.Time) (adapter.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChange = lastChange
	return c.batch, c.fetchErr
}

func (c *fakeClient) PushRates(_ context.Context, rates []models.RoomRate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = rates
	return c.ratesErr
}

func (c *fakeClient) PushAvailability(_ context.Context, avail []models.RoomAvailability) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avail = avail
	return c.availErr
}

func (c *fakeClient) Confirm(_ context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, externalID)
	return nil
}

type countingScanner struct {
	calls [][]string
}

func (s *countingScanner) Scan(_ context.Context, ids ...string) ([]models.ConflictReport, error) {
	s.calls = append(s.calls, ids)
	return nil, nil
}

type capturedRuns struct {
	runs []models.SyncRun
}

func (p *capturedRuns) PublishRun(_ context.Context, run models.SyncRun) error {
	p.runs = append(p.runs, run)
	return nil
}

func fixedClient(c *fakeClient) ClientFunc {
	return func(models.ChannelConfig) (Client, error) { return c, nil }
}

func bookedReservation(id, property, in, out string) models.Reservation {
	ci, _ := models.ParseDate(in)
	co, _ := models.ParseDate(out)
	return models.Reservation{
		ExternalID: id,
		Channel:    models.ChannelOTA,
		PropertyID: property,
		CheckIn:    ci,
		CheckOut:   co,
		Status:     models.StatusNew,
		TotalPrice: decimal.NewFromInt(300),
		Currency:   "EUR",
	}
}

func fullConfig() models.ChannelConfig {
	cfg := enabledConfig("ota-1")
	cfg.AutoAcceptReservations = true
	cfg.PushPrices = true
	cfg.PushAvailability = true
	cfg.Properties = []string{"P1"}
	return cfg
}

func seededStore(now time.Time) *db.MemoryStore {
	store := db.NewMemoryStore()
	day := models.TruncateDate(now)
	store.PutInventory(
		[]models.RoomRate{{RoomID: "P1", Date: day, Price: decimal.NewFromInt(120), Currency: "EUR"}},
		[]models.RoomAvailability{{RoomID: "P1", Date: day, Available: 2, Status: "open"}},
	)
	return store
}

func newTestRunner(store *db.MemoryStore, client *fakeClient, opts ...RunnerOption) *Runner {
	imp := reconciler.NewImporter(store, discardLogger())
	return NewRunner(fixedClient(client), store, store, imp, discardLogger(), opts...)
}

func TestExecuteFullRunSucceeds(t *testing.T) {
	now := time.Now()
	store := seededStore(now)
	client := &fakeClient{batch: adapter.Batch{Records: []models.Reservation{
		bookedReservation("R100", "P1", "2025-03-01", "2025-03-04"),
	}}}
	scanner := &countingScanner{}
	pub := &capturedRuns{}
	r := newTestRunner(store, client, WithConflictScan(scanner), WithRunPublisher(pub))

	run := r.Execute(context.Background(), fullConfig())

	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Empty(t, run.Errors)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, models.Counts{Fetched: 1, Created: 1}, run.Counts[models.EntityReservations])
	assert.Equal(t, models.Counts{Fetched: 1, Updated: 1}, run.Counts[models.EntityRates])
	assert.Equal(t, models.Counts{Fetched: 1, Updated: 1}, run.Counts[models.EntityAvailability])
	assert.Equal(t, []string{"R100"}, client.confirmed)
	assert.Len(t, client.rates, 1)
	assert.Len(t, client.avail, 1)
	assert.Equal(t, [][]string{{"P1"}}, scanner.calls)
	require.Len(t, pub.runs, 1)

	stored, err := store.Reservation(context.Background(), models.ChannelOTA, "R100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)

	runs, err := store.Runs(context.Background(), "ota-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSuccess, runs[0].Status)
}

func TestExecuteStepsAreIndependent(t *testing.T) {
	store := seededStore(time.Now())
	client := &fakeClient{
		fetchErr: &syncerr.Error{Kind: syncerr.KindUnavailable, Op: "fetch", Err: errors.New("503")},
	}
	r := newTestRunner(store, client)

	run := r.Execute(context.Background(), fullConfig())

	assert.Equal(t, models.RunPartial, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, models.StepPull, run.Errors[0].Step)
	assert.Equal(t, string(syncerr.KindUnavailable), run.Errors[0].Kind)
	assert.Len(t, client.rates, 1, "rates still pushed after a failed pull")
	assert.Len(t, client.avail, 1)

	cursor, err := store.Cursor(context.Background(), "ota-1")
	require.NoError(t, err)
	assert.Nil(t, cursor, "cursor must not move after a failed pull")
}

func TestExecuteAllStepsFailed(t *testing.T) {
	store := seededStore(time.Now())
	fault := syncerr.Faultf("channel_response", "fault 7: unknown hotel")
	client := &fakeClient{fetchErr: fault, ratesErr: fault, availErr: fault}
	r := newTestRunner(store, client)

	run := r.Execute(context.Background(), fullConfig())
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Len(t, run.Errors, 3)
	assert.Equal(t, models.Counts{Fetched: 1, Failed: 1}, run.Counts[models.EntityRates])
}

func TestExecuteParseFailuresMakeRunPartial(t *testing.T) {
	store := seededStore(time.Now())
	client := &fakeClient{batch: adapter.Batch{
		Records: []models.Reservation{
			bookedReservation("R1", "P1", "2025-03-01", "2025-03-04"),
			bookedReservation("R2", "P1", "2025-03-05", "2025-03-06"),
		},
		Failures: []adapter.ParseFailure{{Index: 1, ExternalID: "R-bad", Reason: "missing checkin"}},
	}}
	cfg := fullConfig()
	cfg.PushPrices = false
	cfg.PushAvailability = false
	r := newTestRunner(store, client)

	run := r.Execute(context.Background(), cfg)
	assert.Equal(t, models.RunPartial, run.Status)
	counts := run.Counts[models.EntityReservations]
	assert.Equal(t, 3, counts.Fetched)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 2, counts.Created+counts.Updated)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "R-bad", run.Errors[0].Ref)
}

func TestExecuteAdvancesCursor(t *testing.T) {
	store := seededStore(time.Now())
	client := &fakeClient{}
	cfg := fullConfig()
	r := newTestRunner(store, client)
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Execute(context.Background(), cfg)
	assert.Nil(t, client.lastChange)

	r.Execute(context.Background(), cfg)
	require.NotNil(t, client.lastChange)
	assert.Equal(t, fixed, *client.lastChange)
}

type failingUpserts struct {
	*db.MemoryStore
	fail map[string]bool
}

func (s *failingUpserts) Upsert(ctx context.Context, r *models.Reservation) (bool, error) {
	if s.fail[r.ExternalID] {
		return false, errors.New("connection reset by peer")
	}
	return s.MemoryStore.Upsert(ctx, r)
}

func TestExecuteKeepsCursorWhenStoreWriteFails(t *testing.T) {
	ctx := context.Background()
	store := seededStore(time.Now())
	previous := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetCursor(ctx, "ota-1", previous))

	writes := &failingUpserts{MemoryStore: store, fail: map[string]bool{"R1": true}}
	client := &fakeClient{batch: adapter.Batch{Records: []models.Reservation{
		bookedReservation("R1", "P1", "2025-03-01", "2025-03-04"),
		bookedReservation("R2", "P1", "2025-03-05", "2025-03-06"),
	}}}
	r := NewRunner(fixedClient(client), store, store, reconciler.NewImporter(writes, discardLogger()), discardLogger())
	r.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }

	cfg := fullConfig()
	cfg.PushPrices = false
	cfg.PushAvailability = false
	run := r.Execute(ctx, cfg)

	assert.Equal(t, models.RunPartial, run.Status)
	assert.Equal(t, models.Counts{Fetched: 2, Created: 1, Failed: 1}, run.Counts[models.EntityReservations])
	require.Len(t, run.Errors, 1)
	assert.Equal(t, string(syncerr.KindStore), run.Errors[0].Kind)
	assert.Equal(t, "R1", run.Errors[0].Ref)

	cursor, err := store.Cursor(ctx, "ota-1")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, previous, *cursor)

	// the next pull asks for the same window and the record lands
	delete(writes.fail, "R1")
	r.Execute(ctx, cfg)
	require.NotNil(t, client.lastChange)
	assert.Equal(t, previous, *client.lastChange)
	_, err = store.Reservation(ctx, models.ChannelOTA, "R1")
	assert.NoError(t, err)
}

func TestExecuteFailedFetchKeepsPreviousCursor(t *testing.T) {
	ctx := context.Background()
	store := seededStore(time.Now())
	previous := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetCursor(ctx, "ota-1", previous))

	client := &fakeClient{fetchErr: &syncerr.Error{Kind: syncerr.KindTransport, Op: "fetch", Err: errors.New("connection refused")}}
	r := newTestRunner(store, client)
	r.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }

	run := r.Execute(ctx, fullConfig())
	assert.Equal(t, models.RunPartial, run.Status)

	cursor, err := store.Cursor(ctx, "ota-1")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, previous, *cursor)
}

func TestExecuteNothingEnabledIsSuccess(t *testing.T) {
	store := db.NewMemoryStore()
	cfg := enabledConfig("ota-1")
	cfg.PullReservations = false
	r := newTestRunner(store, &fakeClient{})

	run := r.Execute(context.Background(), cfg)
	assert.Equal(t, models.RunSuccess, run.Status)
}

func TestExecuteClientSetupFailure(t *testing.T) {
	store := db.NewMemoryStore()
	r := NewRunner(func(models.ChannelConfig) (Client, error) {
		return nil, errors.New("no protocol adapter")
	}, store, store, reconciler.NewImporter(store, discardLogger()), discardLogger())

	run := r.Execute(context.Background(), fullConfig())
	assert.Equal(t, models.RunFailed, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, models.StepSetup, run.Errors[0].Step)
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, models.RunSuccess, runStatus(0, 0, 0))
	assert.Equal(t, models.RunSuccess, runStatus(3, 0, 0))
	assert.Equal(t, models.RunPartial, runStatus(3, 1, 1))
	assert.Equal(t, models.RunPartial, runStatus(1, 0, 2))
	assert.Equal(t, models.RunFailed, runStatus(2, 2, 2))
}
