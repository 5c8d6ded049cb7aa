// Package ota speaks the OTA-style XML dialect used by the online travel agency channel.
package ota

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
	"github.com/Guizzs26/go-channel-sync/internal/xmldoc"
)

const (
	contentType = "text/xml; charset=utf-8"
	otaNS       = "http://www.opentravel.org/OTA/2003/05"
	otaVersion  = "1.0"

	pathAvailability = "/OTA_HotelAvailNotif"
	pathRates        = "/OTA_HotelRateAmountNotif"
	pathReservations = "/reservations"
	pathConfirm      = "/reservations/confirm"
	pathReject       = "/reservations/reject"
)

// Codec implements adapter.Codec for the OTA channel
type Codec struct {
	settings adapter.Settings
	now      func() time.Time
	token    func() string
}

func New(s adapter.Settings) *Codec {
	return &Codec{
		settings: s,
		now:      time.Now,
		token:    uuid.NewString,
	}
}

func (c *Codec) ContentType() string {
	return contentType
}

type statusApplicationControl struct {
	Start       string `xml:"Start,attr"`
	End         string `xml:"End,attr"`
	InvTypeCode string `xml:"InvTypeCode,attr"`
	RatePlan    string `xml:"RatePlanCode,attr,omitempty"`
}

type restrictionStatus struct {
	Status string `xml:"Status,attr"`
}

type availStatusMessage struct {
	BookingLimit int                      `xml:"BookingLimit,attr"`
	Control      statusApplicationControl `xml:"StatusApplicationControl"`
	Restriction  *restrictionStatus       `xml:"RestrictionStatus,omitempty"`
}

type availStatusMessages struct {
	HotelCode string               `xml:"HotelCode,attr"`
	Messages  []availStatusMessage `xml:"AvailStatusMessage"`
}

type availNotifRQ struct {
	XMLName   xml.Name            `xml:"OTA_HotelAvailNotifRQ"`
	Xmlns     string              `xml:"xmlns,attr"`
	EchoToken string              `xml:"EchoToken,attr"`
	TimeStamp string              `xml:"TimeStamp,attr"`
	Version   string              `xml:"Version,attr"`
	Messages  availStatusMessages `xml:"AvailStatusMessages"`
}

// AvailabilityRequest batches every record of the cycle into one OTA_HotelAvailNotifRQ
func (c *Codec) AvailabilityRequest(records []models.RoomAvailability) (adapter.Request, error) {
	if len(records) == 0 {
		return adapter.Request{}, fmt.Errorf("no availability records to encode")
	}

	rq := availNotifRQ{
		Xmlns:     otaNS,
		EchoToken: c.token(),
		TimeStamp: c.now().UTC().Format(time.RFC3339),
		Version:   otaVersion,
		Messages: availStatusMessages{
			HotelCode: c.settings.HotelID,
			Messages:  make([]availStatusMessage, 0, len(records)),
		},
	}

	for _, r := range records {
		day := r.Date.Format(models.DateLayout)
		msg := availStatusMessage{
			BookingLimit: max(r.Available, 0),
			Control:      statusApplicationControl{Start: day, End: day, InvTypeCode: r.RoomID},
		}
		if r.Status != "" {
			msg.Restriction = &restrictionStatus{Status: otaRestriction(r.Status)}
		}
		rq.Messages.Messages = append(rq.Messages.Messages, msg)
	}

	body, err := marshal(rq)
	if err != nil {
		return adapter.Request{}, err
	}
	return c.post(pathAvailability, body), nil
}

type baseByGuestAmt struct {
	AmountAfterTax string `xml:"AmountAfterTax,attr"`
	CurrencyCode   string `xml:"CurrencyCode,attr"`
}

type lengthOfStay struct {
	Time        int    `xml:"Time,attr"`
	MessageType string `xml:"MinMaxMessageType,attr"`
}

type rate struct {
	Amounts       []baseByGuestAmt `xml:"BaseByGuestAmts>BaseByGuestAmt"`
	LengthsOfStay []lengthOfStay   `xml:"LengthsOfStay>LengthOfStay,omitempty"`
}

type rateAmountMessage struct {
	Control statusApplicationControl `xml:"StatusApplicationControl"`
	Rates   []rate                   `xml:"Rates>Rate"`
}

type rateAmountMessages struct {
	HotelCode string              `xml:"HotelCode,attr"`
	Messages  []rateAmountMessage `xml:"RateAmountMessage"`
}

type rateAmountNotifRQ struct {
	XMLName   xml.Name           `xml:"OTA_HotelRateAmountNotifRQ"`
	Xmlns     string             `xml:"xmlns,attr"`
	EchoToken string             `xml:"EchoToken,attr"`
	TimeStamp string             `xml:"TimeStamp,attr"`
	Version   string             `xml:"Version,attr"`
	Messages  rateAmountMessages `xml:"RateAmountMessages"`
}

// RatesRequest batches every rate of the cycle into one OTA_HotelRateAmountNotifRQ
func (c *Codec) RatesRequest(records []models.RoomRate) (adapter.Request, error) {
	if len(records) == 0 {
		return adapter.Request{}, fmt.Errorf("no rate records to encode")
	}

	rq := rateAmountNotifRQ{
		Xmlns:     otaNS,
		EchoToken: c.token(),
		TimeStamp: c.now().UTC().Format(time.RFC3339),
		Version:   otaVersion,
		Messages: rateAmountMessages{
			HotelCode: c.settings.HotelID,
			Messages:  make([]rateAmountMessage, 0, len(records)),
		},
	}

	for _, r := range records {
		day := r.Date.Format(models.DateLayout)
		currency := r.Currency
		if currency == "" {
			currency = c.settings.Currency
		}

		rt := rate{Amounts: []baseByGuestAmt{{
			AmountAfterTax: r.Price.StringFixed(2),
			CurrencyCode:   currency,
		}}}
		if r.MinStay != nil {
			rt.LengthsOfStay = append(rt.LengthsOfStay, lengthOfStay{Time: *r.MinStay, MessageType: "SetMinLOS"})
		}
		if r.MaxStay != nil {
			rt.LengthsOfStay = append(rt.LengthsOfStay, lengthOfStay{Time: *r.MaxStay, MessageType: "SetMaxLOS"})
		}

		rq.Messages.Messages = append(rq.Messages.Messages, rateAmountMessage{
			Control: statusApplicationControl{Start: day, End: day, InvTypeCode: r.RoomID},
			Rates:   []rate{rt},
		})
	}

	body, err := marshal(rq)
	if err != nil {
		return adapter.Request{}, err
	}
	return c.post(pathRates, body), nil
}

type summaryRequest struct {
	XMLName    xml.Name `xml:"request"`
	HotelID    string   `xml:"hotel_id"`
	LastChange string   `xml:"last_change,omitempty"`
}

// ReservationsRequest asks for the booking summary, optionally only changes since lastChange
func (c *Codec) ReservationsRequest(lastChange *time.Time) adapter.Request {
	rq := summaryRequest{HotelID: c.settings.HotelID}
	if lastChange != nil {
		rq.LastChange = lastChange.UTC().Format("2006-01-02 15:04:05")
	}
	body, _ := marshal(rq)
	return c.post(pathReservations, body)
}

type decisionRequest struct {
	XMLName       xml.Name `xml:"request"`
	HotelID       string   `xml:"hotel_id"`
	ReservationID string   `xml:"reservation_id"`
	Reason        string   `xml:"reason,omitempty"`
}

func (c *Codec) ConfirmRequest(externalID string) adapter.Request {
	body, _ := marshal(decisionRequest{HotelID: c.settings.HotelID, ReservationID: externalID})
	return c.post(pathConfirm, body)
}

func (c *Codec) RejectRequest(externalID, reason string) adapter.Request {
	body, _ := marshal(decisionRequest{HotelID: c.settings.HotelID, ReservationID: externalID, Reason: reason})
	return c.post(pathReject, body)
}

// DecodeReservations turns a booking summary into canonical reservations
func (c *Codec) DecodeReservations(body []byte) (adapter.Batch, error) {
	root, err := xmldoc.Parse(body)
	if err != nil {
		return adapter.Batch{}, syncerr.New(syncerr.KindFault, "decode_reservations", err)
	}
	if err := fault(root); err != nil {
		return adapter.Batch{}, err
	}

	var batch adapter.Batch
	for i, node := range root.FindAll("reservation") {
		r, err := c.decodeReservation(node)
		if err != nil {
			batch.Failures = append(batch.Failures, adapter.ParseFailure{
				Index:      i,
				ExternalID: node.ChildText("id"),
				Reason:     err.Error(),
			})
			continue
		}
		batch.Records = append(batch.Records, r)
	}
	return batch, nil
}

func (c *Codec) decodeReservation(n *xmldoc.Node) (models.Reservation, error) {
	id := n.ChildText("id")
	if id == "" {
		return models.Reservation{}, fmt.Errorf("missing reservation id")
	}

	room := n.Child("room")
	if room == nil {
		return models.Reservation{}, fmt.Errorf("missing room block")
	}

	status, err := models.ParseReservationStatus(strings.ToLower(n.ChildText("status")))
	if err != nil {
		return models.Reservation{}, err
	}

	checkIn, err := models.ParseDate(room.ChildText("arrival_date"))
	if err != nil {
		return models.Reservation{}, fmt.Errorf("bad arrival_date: %w", err)
	}
	checkOut, err := models.ParseDate(room.ChildText("departure_date"))
	if err != nil {
		return models.Reservation{}, fmt.Errorf("bad departure_date: %w", err)
	}

	// The protocol only carries a single headcount
	adults := 1
	if raw := room.ChildText("numberofguests"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 {
			return models.Reservation{}, fmt.Errorf("bad numberofguests %q", raw)
		}
		adults = count
	}

	priceRaw := n.ChildText("totalprice")
	if priceRaw == "" {
		priceRaw = room.ChildText("totalprice")
	}
	price := decimal.Zero
	if priceRaw != "" {
		price, err = decimal.NewFromString(priceRaw)
		if err != nil {
			return models.Reservation{}, fmt.Errorf("bad totalprice %q", priceRaw)
		}
	}

	currency := n.ChildText("currencycode")
	if currency == "" {
		currency = room.ChildText("currencycode")
	}
	if currency == "" {
		currency = c.settings.Currency
	}

	createdAt := c.now().UTC()
	if raw := n.ChildText("date"); raw != "" {
		createdAt, err = parseTimestamp(raw)
		if err != nil {
			return models.Reservation{}, fmt.Errorf("bad date %q", raw)
		}
	}

	customer := n.Child("customer")
	name := strings.TrimSpace(customer.ChildText("first_name") + " " + customer.ChildText("last_name"))

	r := models.Reservation{
		ExternalID: id,
		Channel:    models.ChannelOTA,
		ChannelID:  c.settings.ChannelID,
		PropertyID: room.ChildText("id"),
		GuestID:    customer.ChildText("cc_id"),
		GuestName:  name,
		GuestEmail: customer.ChildText("email"),
		GuestPhone: customer.ChildText("telephone"),
		Adults:     adults,
		Children:   0,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     status,
		TotalPrice: price,
		Currency:   strings.ToUpper(currency),
		CreatedAt:  createdAt,
	}
	if err := r.Validate(); err != nil {
		return models.Reservation{}, err
	}
	return r, nil
}

// CheckAck inspects push/confirm responses for an error indicator
func (c *Codec) CheckAck(body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	root, err := xmldoc.Parse(body)
	if err != nil {
		return syncerr.New(syncerr.KindFault, "ack", err)
	}
	return fault(root)
}

// fault detects both the legacy <fault code string/> and the OTA <Errors><Error/></Errors> forms
func fault(root *xmldoc.Node) error {
	if f := root.Find("fault"); f != nil {
		code := f.Attr("code")
		msg := f.Attr("string")
		if msg == "" {
			msg = strings.TrimSpace(f.Text)
		}
		return syncerr.Faultf("channel_response", "fault %s: %s", code, msg)
	}
	if errs := root.Find("Errors"); errs != nil {
		for _, e := range errs.FindAll("Error") {
			msg := e.Attr("ShortText")
			if msg == "" {
				msg = strings.TrimSpace(e.Text)
			}
			return syncerr.Faultf("channel_response", "error %s: %s", e.Attr("Code"), msg)
		}
	}
	return nil
}

func (c *Codec) post(path string, body []byte) adapter.Request {
	return adapter.Request{Method: http.MethodPost, Path: path, Body: body, ContentType: contentType}
}

func marshal(v any) ([]byte, error) {
	out, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("xml encode: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func otaRestriction(status string) string {
	switch strings.ToLower(status) {
	case "closed", "close", "stop_sell":
		return "Close"
	default:
		return "Open"
	}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", models.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp")
}
