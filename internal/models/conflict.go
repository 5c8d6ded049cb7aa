package models

import "time"

// ConflictEntry is the slice of a reservation a dashboard needs to remediate an overbooking
type ConflictEntry struct {
	ID         string            `json:"id"`
	ExternalID string            `json:"external_id"`
	CheckIn    time.Time         `json:"check_in"`
	CheckOut   time.Time         `json:"check_out"`
	Status     ReservationStatus `json:"status"`
	Channel    Channel           `json:"channel"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ConflictReport lists every reservation occupying a property on an overbooked night.
// It is derived data; SuggestedCancellation is advisory and never executed by the sync core.
type ConflictReport struct {
	PropertyID            string          `json:"property_id"`
	Date                  time.Time       `json:"date"`
	Reservations          []ConflictEntry `json:"reservations"`
	SuggestedCancellation string          `json:"suggested_cancellation"`
}
