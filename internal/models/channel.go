package models

import "time"

const (
	MinSyncIntervalMinutes = 5
	MaxSyncIntervalMinutes = 120
)

// Credentials are opaque to the sync core; they are only turned into auth headers
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// ChannelConfig is owned by the settings collaborator and read-only at run time
type ChannelConfig struct {
	ChannelID              string      `json:"channel_id" db:"channel_id" validate:"required"`
	Type                   Channel     `json:"type" db:"type" validate:"required,oneof=ota pms"`
	BaseURL                string      `json:"base_url" db:"base_url" validate:"required,url"`
	HotelID                string      `json:"hotel_id" db:"hotel_id" validate:"required"`
	Credentials            Credentials `json:"credentials" db:"credentials"`
	Currency               string      `json:"currency" db:"currency" validate:"required,len=3"`
	Properties             []string    `json:"properties" db:"properties"`
	SyncIntervalMinutes    int         `json:"sync_interval_minutes" db:"sync_interval_minutes" validate:"min=5,max=120"`
	AutoAcceptReservations bool        `json:"auto_accept_reservations" db:"auto_accept_reservations"`
	PushPrices             bool        `json:"push_prices" db:"push_prices"`
	PushAvailability       bool        `json:"push_availability" db:"push_availability"`
	PullReservations       bool        `json:"pull_reservations" db:"pull_reservations"`
	Enabled                bool        `json:"enabled" db:"enabled"`
}

// Interval returns the scheduling period, clamped to the recognized range
func (c ChannelConfig) Interval() time.Duration {
	m := min(max(c.SyncIntervalMinutes, MinSyncIntervalMinutes), MaxSyncIntervalMinutes)
	return time.Duration(m) * time.Minute
}
