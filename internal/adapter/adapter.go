// Package adapter defines the per-channel translation between wire payloads and the canonical model.
package adapter

import (
	"fmt"
	"time"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

// Request is a fully built outbound call; the channel client only adds auth and transport
type Request struct {
	Method      string
	Path        string
	Body        []byte
	ContentType string
}

// ParseFailure describes one record that could not be decoded. Decoding continues past it.
type ParseFailure struct {
	Index      int
	ExternalID string
	Reason     string
}

func (f ParseFailure) Error() string {
	if f.ExternalID != "" {
		return fmt.Sprintf("record %d (%s): %s", f.Index, f.ExternalID, f.Reason)
	}
	return fmt.Sprintf("record %d: %s", f.Index, f.Reason)
}

// Batch is the outcome of decoding one pull response
type Batch struct {
	Records  []models.Reservation
	Failures []ParseFailure
}

// Total is the number of records the channel sent, parsable or not
func (b Batch) Total() int {
	return len(b.Records) + len(b.Failures)
}

// Codec is implemented once per channel protocol. Implementations are stateless apart from
// their construction-time settings and safe for concurrent use.
type Codec interface {
	// ContentType is the media type the protocol speaks
	ContentType() string
	ReservationsRequest(lastChange *time.Time) Request
	AvailabilityRequest(records []models.RoomAvailability) (Request, error)
	RatesRequest(records []models.RoomRate) (Request, error)
	ConfirmRequest(externalID string) Request
	RejectRequest(externalID, reason string) Request
	// DecodeReservations never fails on a single record; it returns a fault error only when
	// the payload as a whole is an error indicator or cannot be read at all
	DecodeReservations(body []byte) (Batch, error)
	// CheckAck returns a fault error when a push/confirm response carries an error indicator
	CheckAck(body []byte) error
}

// Settings are the channel configuration values a codec needs
type Settings struct {
	ChannelID string
	HotelID   string
	Currency  string // canonical channel currency, applied when a record omits it
}

func SettingsFrom(cfg models.ChannelConfig) Settings {
	return Settings{ChannelID: cfg.ChannelID, HotelID: cfg.HotelID, Currency: cfg.Currency}
}
