// Package pms speaks the REST/JSON API of the property-management-system channel.
package pms

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
)

const contentType = "application/json"

// Codec implements adapter.Codec for the PMS channel
type Codec struct {
	settings adapter.Settings
	validate *validator.Validate
	now      func() time.Time
}

func New(s adapter.Settings) *Codec {
	return &Codec{
		settings: s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

func (c *Codec) ContentType() string {
	return contentType
}

type wireAvailability struct {
	RoomID    string `json:"room_id"`
	Date      string `json:"date"`
	Available int    `json:"available"`
	Status    string `json:"status,omitempty"`
}

type wireRate struct {
	RoomID   string          `json:"room_id"`
	Date     string          `json:"date"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	MinStay  *int            `json:"min_stay,omitempty"`
	MaxStay  *int            `json:"max_stay,omitempty"`
}

func (c *Codec) AvailabilityRequest(records []models.RoomAvailability) (adapter.Request, error) {
	if len(records) == 0 {
		return adapter.Request{}, fmt.Errorf("no availability records to encode")
	}
	payload := struct {
		HotelID      string             `json:"hotel_id"`
		Availability []wireAvailability `json:"availability"`
	}{HotelID: c.settings.HotelID, Availability: make([]wireAvailability, 0, len(records))}

	for _, r := range records {
		payload.Availability = append(payload.Availability, wireAvailability{
			RoomID:    r.RoomID,
			Date:      r.Date.Format(models.DateLayout),
			Available: max(r.Available, 0),
			Status:    r.Status,
		})
	}
	return c.encode(http.MethodPut, "/availability", payload)
}

func (c *Codec) RatesRequest(records []models.RoomRate) (adapter.Request, error) {
	if len(records) == 0 {
		return adapter.Request{}, fmt.Errorf("no rate records to encode")
	}
	payload := struct {
		HotelID string     `json:"hotel_id"`
		Rates   []wireRate `json:"rates"`
	}{HotelID: c.settings.HotelID, Rates: make([]wireRate, 0, len(records))}

	for _, r := range records {
		currency := r.Currency
		if currency == "" {
			currency = c.settings.Currency
		}
		payload.Rates = append(payload.Rates, wireRate{
			RoomID:   r.RoomID,
			Date:     r.Date.Format(models.DateLayout),
			Price:    r.Price,
			Currency: currency,
			MinStay:  r.MinStay,
			MaxStay:  r.MaxStay,
		})
	}
	return c.encode(http.MethodPut, "/rates", payload)
}

func (c *Codec) ReservationsRequest(lastChange *time.Time) adapter.Request {
	q := url.Values{}
	q.Set("hotel_id", c.settings.HotelID)
	if lastChange != nil {
		q.Set("last_change", lastChange.UTC().Format(time.RFC3339))
	}
	return adapter.Request{
		Method:      http.MethodGet,
		Path:        "/reservations?" + q.Encode(),
		ContentType: contentType,
	}
}

func (c *Codec) ConfirmRequest(externalID string) adapter.Request {
	req, _ := c.encode(http.MethodPost, "/reservations/"+url.PathEscape(externalID)+"/confirm",
		map[string]string{"hotel_id": c.settings.HotelID})
	return req
}

func (c *Codec) RejectRequest(externalID, reason string) adapter.Request {
	req, _ := c.encode(http.MethodPost, "/reservations/"+url.PathEscape(externalID)+"/reject",
		map[string]string{"hotel_id": c.settings.HotelID, "reason": reason})
	return req
}

// wireReservation is the explicit shape of a PMS reservation record
type wireReservation struct {
	ID         string          `json:"id" validate:"required"`
	RoomID     string          `json:"room_id" validate:"required"`
	Status     string          `json:"status"`
	GuestID    string          `json:"guest_id"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	Email      string          `json:"email" validate:"omitempty,email"`
	Phone      string          `json:"phone"`
	CheckIn    string          `json:"checkin" validate:"required,datetime=2006-01-02"`
	CheckOut   string          `json:"checkout" validate:"required,datetime=2006-01-02"`
	Adults     *int            `json:"adults" validate:"omitempty,min=1"`
	Children   *int            `json:"children" validate:"omitempty,min=0"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency_code" validate:"omitempty,len=3"`
	CreatedAt  string          `json:"created_at"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type reservationsEnvelope struct {
	Reservations []json.RawMessage `json:"reservations"`
	Error        *wireError        `json:"error"`
}

func (c *Codec) DecodeReservations(body []byte) (adapter.Batch, error) {
	var env reservationsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return adapter.Batch{}, syncerr.New(syncerr.KindFault, "decode_reservations", fmt.Errorf("json envelope: %w", err))
	}
	if env.Error != nil {
		return adapter.Batch{}, syncerr.Faultf("channel_response", "error %s: %s", env.Error.Code, env.Error.Message)
	}

	var batch adapter.Batch
	for i, raw := range env.Reservations {
		r, ref, err := c.decodeReservation(raw)
		if err != nil {
			batch.Failures = append(batch.Failures, adapter.ParseFailure{Index: i, ExternalID: ref, Reason: err.Error()})
			continue
		}
		batch.Records = append(batch.Records, r)
	}
	return batch, nil
}

func (c *Codec) decodeReservation(raw json.RawMessage) (models.Reservation, string, error) {
	var w wireReservation
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.Reservation{}, "", fmt.Errorf("malformed record: %w", err)
	}
	if err := c.validate.Struct(w); err != nil {
		return models.Reservation{}, w.ID, fmt.Errorf("invalid record: %w", err)
	}

	status, err := models.ParseReservationStatus(strings.ToLower(w.Status))
	if err != nil {
		return models.Reservation{}, w.ID, err
	}
	checkIn, _ := models.ParseDate(w.CheckIn)
	checkOut, _ := models.ParseDate(w.CheckOut)

	adults, children := 1, 0
	if w.Adults != nil {
		adults = *w.Adults
	}
	if w.Children != nil {
		children = *w.Children
	}

	currency := w.Currency
	if currency == "" {
		currency = c.settings.Currency
	}

	createdAt := c.now().UTC()
	if w.CreatedAt != "" {
		createdAt, err = time.Parse(time.RFC3339, w.CreatedAt)
		if err != nil {
			return models.Reservation{}, w.ID, fmt.Errorf("bad created_at %q", w.CreatedAt)
		}
		createdAt = createdAt.UTC()
	}

	r := models.Reservation{
		ExternalID: w.ID,
		Channel:    models.ChannelPMS,
		ChannelID:  c.settings.ChannelID,
		PropertyID: w.RoomID,
		GuestID:    w.GuestID,
		GuestName:  strings.TrimSpace(w.FirstName + " " + w.LastName),
		GuestEmail: w.Email,
		GuestPhone: w.Phone,
		Adults:     adults,
		Children:   children,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     status,
		TotalPrice: w.TotalPrice,
		Currency:   strings.ToUpper(currency),
		CreatedAt:  createdAt,
	}
	if err := r.Validate(); err != nil {
		return models.Reservation{}, w.ID, err
	}
	return r, w.ID, nil
}

// CheckAck accepts empty bodies and any JSON document without a top-level error
func (c *Codec) CheckAck(body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var env struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return syncerr.New(syncerr.KindFault, "ack", fmt.Errorf("json: %w", err))
	}
	if env.Error != nil {
		return syncerr.Faultf("channel_response", "error %s: %s", env.Error.Code, env.Error.Message)
	}
	return nil
}

func (c *Codec) encode(method, path string, payload any) (adapter.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return adapter.Request{}, fmt.Errorf("json encode: %w", err)
	}
	return adapter.Request{Method: method, Path: path, Body: body, ContentType: contentType}, nil
}
