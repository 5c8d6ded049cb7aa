package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

func TestLoadDefaultsAndClamping(t *testing.T) {
	t.Setenv("PUSH_HORIZON_DAYS", "9999")
	t.Setenv("CHANNEL_MAX_ATTEMPTS", "0")
	t.Setenv("INVENTORY_SOURCE", "mongo")
	t.Setenv("CHANNEL_TIMEOUT_SEC", "12")
	t.Setenv("CONFLICT_SCAN_AFTER_IMPORT", "false")

	cfg := Load()
	assert.Equal(t, MaxHorizonDays, cfg.PushHorizonDays)
	assert.Equal(t, MinChannelAttempts, cfg.ChannelAttempts)
	assert.Equal(t, InventoryPostgres, cfg.InventorySource)
	assert.Equal(t, 12*time.Second, cfg.ChannelTimeout)
	assert.False(t, cfg.ScanAfterImport)
}

func validChannel() models.ChannelConfig {
	return models.ChannelConfig{
		ChannelID:           "ota-1",
		Type:                models.ChannelOTA,
		BaseURL:             "https://supply.example.com/xml",
		HotelID:             "H1",
		Credentials:         models.Credentials{Username: "u", Password: "p"},
		Currency:            "EUR",
		SyncIntervalMinutes: 15,
	}
}

func TestValidateChannel(t *testing.T) {
	require.NoError(t, ValidateChannel(validChannel()))

	c := validChannel()
	c.SyncIntervalMinutes = 2
	err := ValidateChannel(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyncIntervalMinutes(min)")

	c = validChannel()
	c.SyncIntervalMinutes = 121
	require.Error(t, ValidateChannel(c))

	c = validChannel()
	c.Type = models.ChannelDirect
	require.Error(t, ValidateChannel(c))

	c = validChannel()
	c.Credentials = models.Credentials{Username: "only-user"}
	require.Error(t, ValidateChannel(c))

	c.Credentials = models.Credentials{APIKey: "k"}
	require.NoError(t, ValidateChannel(c))
}
