package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

type reservationKey struct {
	channel    models.Channel
	externalID string
}

// MemoryStore is an in-process implementation of the central store used by tests
// and by single-node dry runs. It is safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	reservations map[reservationKey]models.Reservation
	configs      map[string]models.ChannelConfig
	runs         map[string]models.SyncRun
	cursors      map[string]time.Time
	rates        []models.RoomRate
	availability []models.RoomAvailability
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations: make(map[reservationKey]models.Reservation),
		configs:      make(map[string]models.ChannelConfig),
		runs:         make(map[string]models.SyncRun),
		cursors:      make(map[string]time.Time),
		now:          time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, r *models.Reservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := reservationKey{r.Channel, r.ExternalID}
	stored, ok := s.reservations[key]
	if ok {
		r.ID = stored.ID
		r.Status = models.MergeStatus(stored.Status, r.Status)
		r.CreatedAt = stored.CreatedAt
		r.UpdatedAt = now
		s.reservations[key] = *r
		return false, nil
	}

	r.ID = uuid.NewString()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.reservations[key] = *r
	return true, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, channel models.Channel, externalID string, status models.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reservationKey{channel, externalID}
	r, ok := s.reservations[key]
	if !ok {
		return fmt.Errorf("reservation %s/%s: %w", channel, externalID, ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = s.now().UTC()
	s.reservations[key] = r
	return nil
}

func (s *MemoryStore) Reservation(_ context.Context, channel models.Channel, externalID string) (models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[reservationKey{channel, externalID}]
	if !ok {
		return models.Reservation{}, fmt.Errorf("reservation %s/%s: %w", channel, externalID, ErrNotFound)
	}
	return r, nil
}

// ReservationsByProperty returns every non-cancelled reservation of the given properties
func (s *MemoryStore) ReservationsByProperty(_ context.Context, propertyIDs []string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.StatusCancelled || !slices.Contains(propertyIDs, r.PropertyID) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.Reservation) int {
		return cmp.Or(a.CheckIn.Compare(b.CheckIn), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *MemoryStore) PropertyIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, r := range s.reservations {
		if !slices.Contains(ids, r.PropertyID) {
			ids = append(ids, r.PropertyID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// PutChannelConfig stands in for the settings collaborator
func (s *MemoryStore) PutChannelConfig(cfg models.ChannelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ChannelID] = cfg
}

func (s *MemoryStore) ChannelConfig(_ context.Context, channelID string) (models.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[channelID]
	if !ok {
		return models.ChannelConfig{}, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return cfg, nil
}

func (s *MemoryStore) ChannelConfigs(_ context.Context) ([]models.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChannelConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	slices.SortFunc(out, func(a, b models.ChannelConfig) int { return cmp.Compare(a.ChannelID, b.ChannelID) })
	return out, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return ErrDuplicateRunID
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("sync run %s: %w", run.ID, ErrNotFound)
	}
	if stored.Finished() {
		return ErrRunFinalized
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

// Runs returns the latest runs of a channel, newest first
func (s *MemoryStore) Runs(_ context.Context, channelID string, limit int) ([]models.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SyncRun
	for _, r := range s.runs {
		if r.ChannelID == channelID {
			out = append(out, cloneRun(r))
		}
	}
	slices.SortFunc(out, func(a, b models.SyncRun) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Cursor(_ context.Context, channelID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.cursors[channelID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) SetCursor(_ context.Context, channelID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[channelID] = t
	return nil
}

// PutInventory replaces the rate and availability calendar
func (s *MemoryStore) PutInventory(rates []models.RoomRate, avail []models.RoomAvailability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = slices.Clone(rates)
	s.availability = slices.Clone(avail)
}

func (s *MemoryStore) Rates(_ context.Context, propertyIDs []string, window DateRange) ([]models.RoomRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RoomRate
	for _, r := range s.rates {
		if slices.Contains(propertyIDs, r.RoomID) && window.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Availability(_ context.Context, propertyIDs []string, window DateRange) ([]models.RoomAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RoomAvailability
	for _, a := range s.availability {
		if slices.Contains(propertyIDs, a.RoomID) && window.Contains(a.Date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func cloneRun(r models.SyncRun) models.SyncRun {
	counts := make(map[string]models.Counts, len(r.Counts))
	for k, v := range r.Counts {
		counts[k] = v
	}
	r.Counts = counts
	r.Errors = slices.Clone(r.Errors)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}
