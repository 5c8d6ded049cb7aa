package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/channel"
	"github.com/Guizzs26/go-channel-sync/internal/db"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/reconciler"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

// Client is the slice of the channel client a run needs
type Client interface {
	FetchReservations(ctx context.Context, lastChange *time.Time) (adapter.Batch, error)
	PushRates(ctx context.Context, rates []models.RoomRate) error
	PushAvailability(ctx context.Context, avail []models.RoomAvailability) error
	Confirm(ctx context.Context, externalID string) error
}

// ClientFunc builds a client for the configuration read at the start of a run
type ClientFunc func(cfg models.ChannelConfig) (Client, error)

// ChannelClients adapts the HTTP client factory
func ChannelClients(f *channel.Factory) ClientFunc {
	return func(cfg models.ChannelConfig) (Client, error) {
		c, err := f.ClientFor(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// RunStore persists run history and the pull cursor
type RunStore interface {
	CreateRun(ctx context.Context, run *models.SyncRun) error
	FinishRun(ctx context.Context, run *models.SyncRun) error
	Cursor(ctx context.Context, channelID string) (*time.Time, error)
	SetCursor(ctx context.Context, channelID string, t time.Time) error
}

// Inventory supplies the current rates and availability to push
type Inventory interface {
	Rates(ctx context.Context, propertyIDs []string, window db.DateRange) ([]models.RoomRate, error)
	Availability(ctx context.Context, propertyIDs []string, window db.DateRange) ([]models.RoomAvailability, error)
}

type Importer interface {
	ImportBatch(ctx context.Context, cfg models.ChannelConfig, records []models.Reservation, confirmer reconciler.Confirmer) (models.ImportStats, []models.RunError)
}

type ConflictScanner interface {
	Scan(ctx context.Context, propertyIDs ...string) ([]models.ConflictReport, error)
}

type RunPublisher interface {
	PublishRun(ctx context.Context, run models.SyncRun) error
}

type RunnerOption func(*Runner)

// WithConflictScan rescans the properties touched by a pull
func WithConflictScan(s ConflictScanner) RunnerOption {
	return func(r *Runner) { r.conflicts = s }
}

func WithRunPublisher(p RunPublisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// WithHorizon sets how many days ahead rates and availability are pushed
func WithHorizon(days int) RunnerOption {
	return func(r *Runner) {
		if days > 0 {
			r.horizonDays = days
		}
	}
}

// Runner executes one pull/push cycle for a channel
type Runner struct {
	clients     ClientFunc
	runs        RunStore
	inventory   Inventory
	importer    Importer
	conflicts   ConflictScanner
	publisher   RunPublisher
	horizonDays int
	logger      *slog.Logger
	now         func() time.Time
}

func NewRunner(clients ClientFunc, runs RunStore, inventory Inventory, importer Importer, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		clients:     clients,
		runs:        runs,
		inventory:   inventory,
		importer:    importer,
		horizonDays: 90,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runState accumulates step outcomes while a run is in flight
type runState struct {
	run       models.SyncRun
	attempted int
	failed    int
}

func (s *runState) fail(step string, err error) {
	s.failed++
	s.run.Errors = append(s.run.Errors, models.RunError{
		Step:    step,
		Kind:    syncerr.KindLabel(err),
		Message: err.Error(),
	})
	metrics.StepOutcomes.WithLabelValues(s.run.ChannelID, step, syncerr.KindLabel(err)).Inc()
}

func (s *runState) ok(step string) {
	metrics.StepOutcomes.WithLabelValues(s.run.ChannelID, step, "ok").Inc()
}

// Execute runs the enabled steps independently; a failing step never blocks its siblings.
// The returned run is finalized and has already been persisted.
func (r *Runner) Execute(ctx context.Context, cfg models.ChannelConfig) models.SyncRun {
	logger := r.logger.With("channel_id", cfg.ChannelID)
	st := &runState{run: models.SyncRun{
		ID:        uuid.NewString(),
		ChannelID: cfg.ChannelID,
		StartedAt: r.now().UTC(),
		Counts:    map[string]models.Counts{},
		Errors:    []models.RunError{},
	}}

	if err := r.runs.CreateRun(ctx, &st.run); err != nil {
		logger.Error("Failed to record sync run start", "run_id", st.run.ID, "error", err)
	}
	logger.Info("Sync run started", "run_id", st.run.ID)

	client, err := r.clients(cfg)
	if err != nil {
		st.attempted++
		st.fail(models.StepSetup, syncerr.New(syncerr.KindChannelRejected, "client", err))
	} else {
		if cfg.PullReservations {
			r.pull(ctx, cfg, client, st, logger)
		}
		window := db.Horizon(r.now(), r.horizonDays)
		if cfg.PushPrices {
			r.pushRates(ctx, cfg, client, window, st)
		}
		if cfg.PushAvailability {
			r.pushAvailability(ctx, cfg, client, window, st)
		}
	}

	return r.finish(ctx, st, logger)
}

func (r *Runner) pull(ctx context.Context, cfg models.ChannelConfig, client Client, st *runState, logger *slog.Logger) {
	st.attempted++
	pullStart := r.now().UTC()

	cursor, err := r.runs.Cursor(ctx, cfg.ChannelID)
	if err != nil {
		st.fail(models.StepPull, syncerr.New(syncerr.KindStore, "load_cursor", err))
		return
	}

	batch, err := client.FetchReservations(ctx, cursor)
	if err != nil {
		st.fail(models.StepPull, err)
		return
	}

	for _, f := range batch.Failures {
		st.run.Errors = append(st.run.Errors, models.RunError{
			Step:    models.StepPull,
			Kind:    string(syncerr.KindParse),
			Ref:     f.ExternalID,
			Message: f.Error(),
		})
	}

	for i := range batch.Records {
		if batch.Records[i].ChannelID == "" {
			batch.Records[i].ChannelID = cfg.ChannelID
		}
	}

	stats, recordErrs := r.importer.ImportBatch(ctx, cfg, batch.Records, client)
	stats.Fetched = batch.Total()
	stats.Failed += len(batch.Failures)
	st.run.Errors = append(st.run.Errors, recordErrs...)
	st.run.Counts[models.EntityReservations] = models.Counts(stats)
	st.ok(models.StepPull)

	// The cursor only moves after a pull the channel answered and every record reached the store.
	// Otherwise the next pull asks for the same window again.
	if storeFailed(recordErrs) {
		logger.Warn("Cursor kept after store failures")
	} else if err := r.runs.SetCursor(ctx, cfg.ChannelID, pullStart); err != nil {
		st.run.Errors = append(st.run.Errors, models.RunError{
			Step:    models.StepPull,
			Kind:    string(syncerr.KindStore),
			Message: err.Error(),
		})
	}

	if r.conflicts != nil && stats.Created+stats.Updated > 0 {
		if _, err := r.conflicts.Scan(ctx, affectedProperties(batch.Records)...); err != nil {
			logger.Warn("Conflict rescan after import failed", "error", err)
		}
	}
}

func storeFailed(errs []models.RunError) bool {
	for _, e := range errs {
		if e.Step == models.StepPull && e.Kind == string(syncerr.KindStore) {
			return true
		}
	}
	return false
}

func (r *Runner) pushRates(ctx context.Context, cfg models.ChannelConfig, client Client, window db.DateRange, st *runState) {
	st.attempted++
	rates, err := r.inventory.Rates(ctx, cfg.Properties, window)
	if err != nil {
		st.fail(models.StepPushRates, syncerr.New(syncerr.KindStore, "load_rates", err))
		return
	}
	if len(rates) > 0 {
		if err := client.PushRates(ctx, rates); err != nil {
			st.run.Counts[models.EntityRates] = models.Counts{Fetched: len(rates), Failed: len(rates)}
			st.fail(models.StepPushRates, err)
			return
		}
	}
	st.run.Counts[models.EntityRates] = models.Counts{Fetched: len(rates), Updated: len(rates)}
	st.ok(models.StepPushRates)
}

func (r *Runner) pushAvailability(ctx context.Context, cfg models.ChannelConfig, client Client, window db.DateRange, st *runState) {
	st.attempted++
	avail, err := r.inventory.Availability(ctx, cfg.Properties, window)
	if err != nil {
		st.fail(models.StepPushAvail, syncerr.New(syncerr.KindStore, "load_availability", err))
		return
	}
	if len(avail) > 0 {
		if err := client.PushAvailability(ctx, avail); err != nil {
			st.run.Counts[models.EntityAvailability] = models.Counts{Fetched: len(avail), Failed: len(avail)}
			st.fail(models.StepPushAvail, err)
			return
		}
	}
	st.run.Counts[models.EntityAvailability] = models.Counts{Fetched: len(avail), Updated: len(avail)}
	st.ok(models.StepPushAvail)
}

func (r *Runner) finish(ctx context.Context, st *runState, logger *slog.Logger) models.SyncRun {
	finished := r.now().UTC()
	st.run.FinishedAt = &finished
	st.run.Status = runStatus(st.attempted, st.failed, len(st.run.Errors))

	if err := r.runs.FinishRun(ctx, &st.run); err != nil && !errors.Is(err, db.ErrRunFinalized) {
		logger.Error("Failed to finalize sync run", "run_id", st.run.ID, "error", err)
	}

	metrics.SyncRuns.WithLabelValues(st.run.ChannelID, string(st.run.Status)).Inc()
	metrics.RunDuration.WithLabelValues(st.run.ChannelID).Observe(finished.Sub(st.run.StartedAt).Seconds())

	if r.publisher != nil {
		if err := r.publisher.PublishRun(ctx, st.run); err != nil {
			logger.Warn("Failed to publish sync run", "run_id", st.run.ID, "error", err)
		}
	}

	logger.Info("Sync run finished",
		"run_id", st.run.ID,
		"status", st.run.Status,
		"errors", len(st.run.Errors),
		"duration", finished.Sub(st.run.StartedAt),
	)
	return st.run
}

// runStatus never reports success while errors were recorded
func runStatus(attempted, failed, errs int) models.RunStatus {
	switch {
	case attempted > 0 && failed == attempted:
		return models.RunFailed
	case failed > 0 || errs > 0:
		return models.RunPartial
	default:
		return models.RunSuccess
	}
}

func affectedProperties(records []models.Reservation) []string {
	var ids []string
	for _, r := range records {
		if r.PropertyID != "" && !slices.Contains(ids, r.PropertyID) {
			ids = append(ids, r.PropertyID)
		}
	}
	return ids
}
