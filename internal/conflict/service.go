package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

// Reader is the read-only view of the central store the detector needs
type Reader interface {
	ReservationsByProperty(ctx context.Context, propertyIDs []string) ([]models.Reservation, error)
	PropertyIDs(ctx context.Context) ([]string, error)
}

// Publisher forwards reports to dashboard collaborators
type Publisher interface {
	PublishConflict(ctx context.Context, report models.ConflictReport) error
}

type Service struct {
	store     Reader
	publisher Publisher
	logger    *slog.Logger
}

// NewService builds the scan service. publisher may be nil when reports are only returned.
func NewService(store Reader, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, publisher: publisher, logger: logger}
}

// Scan runs the detector over the given properties, or over every known property when none are given.
// The result is a best-effort snapshot; imports may interleave with it.
func (s *Service) Scan(ctx context.Context, propertyIDs ...string) ([]models.ConflictReport, error) {
	if len(propertyIDs) == 0 {
		ids, err := s.store.PropertyIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list properties: %w", err)
		}
		propertyIDs = ids
	}
	if len(propertyIDs) == 0 {
		return nil, nil
	}

	reservations, err := s.store.ReservationsByProperty(ctx, propertyIDs)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	reports := Detect(reservations)

	perProperty := make(map[string]int, len(propertyIDs))
	for _, id := range propertyIDs {
		perProperty[id] = 0
	}
	for _, r := range reports {
		perProperty[r.PropertyID]++
	}
	for id, n := range perProperty {
		metrics.OverbookedNights.WithLabelValues(id).Set(float64(n))
	}

	if len(reports) > 0 {
		s.logger.Warn("Overbooking detected", "properties", len(propertyIDs), "nights", len(reports))
	}

	if s.publisher != nil {
		for _, r := range reports {
			if err := s.publisher.PublishConflict(ctx, r); err != nil {
				// Reports are derived data; the next scan republishes them
				s.logger.Error("Failed to publish conflict report",
					"property_id", r.PropertyID,
					"date", r.Date.Format(models.DateLayout),
					"error", err,
				)
			}
		}
	}

	return reports, nil
}
