package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

func TestMemoryUpsertKeepsOneRowPerKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	in, _ := models.ParseDate("2025-01-01")
	out, _ := models.ParseDate("2025-01-03")

	r1 := models.Reservation{ExternalID: "R1", Channel: models.ChannelOTA, PropertyID: "P1", CheckIn: in, CheckOut: out, Status: models.StatusConfirmed}
	created, err := s.Upsert(ctx, &r1)
	require.NoError(t, err)
	assert.True(t, created)

	r2 := r1
	r2.ID = ""
	r2.Status = models.StatusNew
	r2.GuestName = "Updated"
	created, err = s.Upsert(ctx, &r2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r1.ID, r2.ID)
	assert.Equal(t, models.StatusConfirmed, r2.Status)

	all, err := s.ReservationsByProperty(ctx, []string{"P1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Updated", all[0].GuestName)
}

func TestMemoryRunIsFinalizedOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := &models.SyncRun{ID: "run-1", ChannelID: "ota-1", StartedAt: time.Now()}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.ErrorIs(t, s.CreateRun(ctx, run), ErrDuplicateRunID)

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunSuccess
	require.NoError(t, s.FinishRun(ctx, run))
	assert.ErrorIs(t, s.FinishRun(ctx, run), ErrRunFinalized)

	runs, err := s.Runs(ctx, "ota-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSuccess, runs[0].Status)
}

func TestMemoryInventoryWindow(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	window := Horizon(now, 2)

	d0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s.PutInventory(nil, []models.RoomAvailability{
		{RoomID: "P1", Date: d0, Available: 1},
		{RoomID: "P1", Date: d0.AddDate(0, 0, 1), Available: 1},
		{RoomID: "P1", Date: d0.AddDate(0, 0, 2), Available: 1},
		{RoomID: "P2", Date: d0, Available: 1},
	})

	got, err := s.Availability(context.Background(), []string{"P1"}, window)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c, err := s.Cursor(ctx, "ota-1")
	require.NoError(t, err)
	assert.Nil(t, c)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCursor(ctx, "ota-1", at))
	c, err = s.Cursor(ctx, "ota-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, at, *c)
}

func TestLegacyHelpers(t *testing.T) {
	assert.Equal(t, "?,?,?", placeholders(3))
	assert.Equal(t, "closed", legacyStatus("s"))
	assert.Equal(t, "open", legacyStatus(""))
}
