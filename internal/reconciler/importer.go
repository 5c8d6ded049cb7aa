// Package reconciler applies decoded channel reservations to the central store.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

// Store is the write side of the central reservation store
type Store interface {
	// Upsert inserts or updates by (channel, external id) and reports whether a row was created.
	// It fills in the store-assigned ID on r.
	Upsert(ctx context.Context, r *models.Reservation) (created bool, err error)
	SetStatus(ctx context.Context, channel models.Channel, externalID string, status models.ReservationStatus) error
}

// Confirmer accepts a reservation on the channel side
type Confirmer interface {
	Confirm(ctx context.Context, externalID string) error
}

type Importer struct {
	store  Store
	logger *slog.Logger
}

func NewImporter(store Store, logger *slog.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// ImportBatch writes every record independently; one bad record never aborts the rest.
// Confirmation failures are reported as run errors but the record still counts as imported.
func (i *Importer) ImportBatch(ctx context.Context, cfg models.ChannelConfig, records []models.Reservation, confirmer Confirmer) (models.ImportStats, []models.RunError) {
	stats := models.ImportStats{Fetched: len(records)}
	var runErrs []models.RunError
	logger := i.logger.With("channel_id", cfg.ChannelID)

	for idx := range records {
		r := records[idx]
		if r.ChannelID == "" {
			r.ChannelID = cfg.ChannelID
		}

		if err := r.Validate(); err != nil {
			stats.Failed++
			runErrs = append(runErrs, recordError(models.StepPull, r.ExternalID, syncerr.New(syncerr.KindParse, "validate", err)))
			metrics.ReservationsImported.WithLabelValues(cfg.ChannelID, "failed").Inc()
			continue
		}

		created, err := i.store.Upsert(ctx, &r)
		if err != nil {
			stats.Failed++
			runErrs = append(runErrs, recordError(models.StepPull, r.ExternalID, syncerr.New(syncerr.KindStore, "upsert", err)))
			metrics.ReservationsImported.WithLabelValues(cfg.ChannelID, "failed").Inc()
			logger.Error("Failed to store reservation", "external_id", r.ExternalID, "error", err)
			continue
		}

		if created {
			stats.Created++
			metrics.ReservationsImported.WithLabelValues(cfg.ChannelID, "created").Inc()
		} else {
			stats.Updated++
			metrics.ReservationsImported.WithLabelValues(cfg.ChannelID, "updated").Inc()
		}

		// r.Status is the stored status after the merge, so a row whose earlier confirmation
		// failed is still new and gets another attempt
		if cfg.AutoAcceptReservations && r.Status == models.StatusNew && confirmer != nil {
			if rerr := i.confirm(ctx, cfg, r, confirmer); rerr != nil {
				runErrs = append(runErrs, *rerr)
			}
		}
	}

	logger.Info("Reservations reconciled",
		"fetched", stats.Fetched,
		"created", stats.Created,
		"updated", stats.Updated,
		"failed", stats.Failed,
	)
	return stats, runErrs
}

func (i *Importer) confirm(ctx context.Context, cfg models.ChannelConfig, r models.Reservation, confirmer Confirmer) *models.RunError {
	if err := confirmer.Confirm(ctx, r.ExternalID); err != nil {
		metrics.Confirmations.WithLabelValues(cfg.ChannelID, "failed").Inc()
		i.logger.Warn("Auto-accept failed", "channel_id", cfg.ChannelID, "external_id", r.ExternalID, "error", err)
		e := recordError(models.StepConfirmation, r.ExternalID, err)
		return &e
	}

	if err := i.store.SetStatus(ctx, r.Channel, r.ExternalID, models.StatusConfirmed); err != nil {
		metrics.Confirmations.WithLabelValues(cfg.ChannelID, "failed").Inc()
		e := recordError(models.StepConfirmation, r.ExternalID, syncerr.New(syncerr.KindStore, "set_status", err))
		return &e
	}

	metrics.Confirmations.WithLabelValues(cfg.ChannelID, "ok").Inc()
	return nil
}

func recordError(step, ref string, err error) models.RunError {
	return models.RunError{
		Step:    step,
		Kind:    syncerr.KindLabel(err),
		Ref:     ref,
		Message: err.Error(),
	}
}
