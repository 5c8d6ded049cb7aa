package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoomAvailability is produced from the central store for outbound push; RoomID maps to a property id
type RoomAvailability struct {
	RoomID    string    `json:"room_id"`
	Date      time.Time `json:"date"`
	Available int       `json:"available"`
	Status    string    `json:"status"` // open | closed
}

// RoomRate is produced from the central store for outbound push
type RoomRate struct {
	RoomID   string          `json:"room_id"`
	Date     time.Time       `json:"date"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	MinStay  *int            `json:"min_stay,omitempty"`
	MaxStay  *int            `json:"max_stay,omitempty"`
}
