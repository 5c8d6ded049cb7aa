package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format shared by every channel protocol
const DateLayout = "2006-01-02"

// Channel identifies where a reservation was sourced from
type Channel string

const (
	ChannelOTA    Channel = "ota"
	ChannelPMS    Channel = "pms"
	ChannelDirect Channel = "direct"
)

func (c Channel) Valid() bool {
	return c == ChannelOTA || c == ChannelPMS || c == ChannelDirect
}

type ReservationStatus string

const (
	StatusNew       ReservationStatus = "new"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusModified  ReservationStatus = "modified"
)

// ParseReservationStatus maps channel status words onto the canonical set
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch s {
	case "new", "booked", "":
		return StatusNew, nil
	case "confirmed", "accepted":
		return StatusConfirmed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "modified":
		return StatusModified, nil
	default:
		return "", fmt.Errorf("unknown reservation status %q", s)
	}
}

// Reservation is the channel-agnostic representation stored in the central store.
// (Channel, ExternalID) is the natural key; ID is assigned by the store.
type Reservation struct {
	ID         string            `json:"id" db:"id"`
	ExternalID string            `json:"external_id" db:"external_id"`
	Channel    Channel           `json:"channel" db:"channel"`
	ChannelID  string            `json:"channel_id" db:"channel_id"`
	PropertyID string            `json:"property_id" db:"property_id"`
	GuestID    string            `json:"guest_id,omitempty" db:"guest_id"`
	GuestName  string            `json:"guest_name,omitempty" db:"guest_name"`
	GuestEmail string            `json:"guest_email,omitempty" db:"guest_email"`
	GuestPhone string            `json:"guest_phone,omitempty" db:"guest_phone"`
	Adults     int               `json:"adults" db:"adults"`
	Children   int               `json:"children" db:"children"`
	CheckIn    time.Time         `json:"check_in" db:"check_in"`
	CheckOut   time.Time         `json:"check_out" db:"check_out"`
	Status     ReservationStatus `json:"status" db:"status"`
	TotalPrice decimal.Decimal   `json:"total_price" db:"total_price"`
	Currency   string            `json:"currency" db:"currency"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// Nights returns the number of occupied nights. Checkout day is not occupied.
func (r Reservation) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Validate enforces the structural invariants every stored reservation must hold
func (r Reservation) Validate() error {
	if r.ExternalID == "" {
		return fmt.Errorf("external id is required")
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("invalid channel %q", r.Channel)
	}
	if r.PropertyID == "" {
		return fmt.Errorf("property id is required")
	}
	if r.CheckIn.IsZero() || r.CheckOut.IsZero() {
		return fmt.Errorf("check-in and check-out dates are required")
	}
	if !r.CheckIn.Before(r.CheckOut) {
		return fmt.Errorf("check-in %s must be before check-out %s",
			r.CheckIn.Format(DateLayout), r.CheckOut.Format(DateLayout))
	}
	return nil
}

// MergeStatus decides the stored status when a channel re-sends a known reservation.
// A channel echoing "new" for a booking we already confirmed must not undo the confirmation.
func MergeStatus(stored, incoming ReservationStatus) ReservationStatus {
	if incoming == StatusNew && stored == StatusConfirmed {
		return stored
	}
	return incoming
}

// ParseDate parses a calendar date and normalizes it to UTC midnight
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// TruncateDate drops the clock part of t, keeping its calendar date
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ImportStats summarizes one reconciliation pass
type ImportStats struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}
