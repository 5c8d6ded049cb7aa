package ota

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
	"github.com/Guizzs26/go-channel-sync/internal/xmldoc"
)

func newTestCodec() *Codec {
	c := New(adapter.Settings{ChannelID: "ota-1", HotelID: "H42", Currency: "EUR"})
	c.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	c.token = func() string { return "echo-1" }
	return c
}

func day(s string) time.Time {
	t, _ := models.ParseDate(s)
	return t
}

func TestAvailabilityRequestBatchesAllRecords(t *testing.T) {
	c := newTestCodec()
	req, err := c.AvailabilityRequest([]models.RoomAvailability{
		{RoomID: "P1", Date: day("2025-03-01"), Available: 2, Status: "open"},
		{RoomID: "P1", Date: day("2025-03-02"), Available: 0, Status: "closed"},
		{RoomID: "P2", Date: day("2025-03-01"), Available: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "/OTA_HotelAvailNotif", req.Path)
	assert.Equal(t, "POST", req.Method)

	root, err := xmldoc.Parse(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "OTA_HotelAvailNotifRQ", root.Name)
	assert.Equal(t, "echo-1", root.Attr("EchoToken"))
	assert.Equal(t, "2025-02-01T12:00:00Z", root.Attr("TimeStamp"))
	assert.Equal(t, "H42", root.Find("AvailStatusMessages").Attr("HotelCode"))

	msgs := root.FindAll("AvailStatusMessage")
	require.Len(t, msgs, 3)
	assert.Equal(t, "2", msgs[0].Attr("BookingLimit"))
	ctl := msgs[1].Child("StatusApplicationControl")
	assert.Equal(t, "2025-03-02", ctl.Attr("Start"))
	assert.Equal(t, "P1", ctl.Attr("InvTypeCode"))
	assert.Equal(t, "Close", msgs[1].Child("RestrictionStatus").Attr("Status"))
	assert.Nil(t, msgs[2].Child("RestrictionStatus"))
}

func TestRatesRequestOptionalLengthOfStay(t *testing.T) {
	c := newTestCodec()
	minStay := 2
	req, err := c.RatesRequest([]models.RoomRate{
		{RoomID: "P1", Date: day("2025-03-01"), Price: decimal.RequireFromString("120.5"), Currency: "USD", MinStay: &minStay},
		{RoomID: "P1", Date: day("2025-03-02"), Price: decimal.RequireFromString("99")},
	})
	require.NoError(t, err)

	root, err := xmldoc.Parse(req.Body)
	require.NoError(t, err)
	msgs := root.FindAll("RateAmountMessage")
	require.Len(t, msgs, 2)

	amt := msgs[0].Find("BaseByGuestAmt")
	assert.Equal(t, "120.50", amt.Attr("AmountAfterTax"))
	assert.Equal(t, "USD", amt.Attr("CurrencyCode"))
	los := msgs[0].FindAll("LengthOfStay")
	require.Len(t, los, 1)
	assert.Equal(t, "SetMinLOS", los[0].Attr("MinMaxMessageType"))
	assert.Equal(t, "2", los[0].Attr("Time"))

	// missing currency falls back to the configured channel currency
	assert.Equal(t, "EUR", msgs[1].Find("BaseByGuestAmt").Attr("CurrencyCode"))
	assert.Empty(t, msgs[1].FindAll("LengthsOfStay"))
}

func TestEmptyPushIsRejected(t *testing.T) {
	c := newTestCodec()
	_, err := c.RatesRequest(nil)
	require.Error(t, err)
	_, err = c.AvailabilityRequest(nil)
	require.Error(t, err)
}

func TestReservationsRequestCursor(t *testing.T) {
	c := newTestCodec()
	req := c.ReservationsRequest(nil)
	assert.NotContains(t, string(req.Body), "last_change")
	assert.Contains(t, string(req.Body), "<hotel_id>H42</hotel_id>")

	since := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	req = c.ReservationsRequest(&since)
	assert.Contains(t, string(req.Body), "<last_change>2025-01-02 03:04:05</last_change>")
}

const summary = `<?xml version="1.0" encoding="UTF-8"?>
<reservations>
  <reservation>
    <id>R100</id>
    <status>new</status>
    <date>2025-02-20 10:15:00</date>
    <customer><first_name>Ana</first_name><last_name>Souza</last_name><email>ana@example.com</email><telephone>+5511</telephone></customer>
    <room><id>P1</id><arrival_date>2025-03-01</arrival_date><departure_date>2025-03-04</departure_date><numberofguests>2</numberofguests></room>
    <totalprice>450.00</totalprice>
    <currencycode>BRL</currencycode>
  </reservation>
  <reservation>
    <id>R101</id>
    <room><id>P1</id><arrival_date>not-a-date</arrival_date><departure_date>2025-03-04</departure_date></room>
  </reservation>
  <reservation>
    <id>R102</id>
    <status>cancelled</status>
    <room><id>P2</id><arrival_date>2025-03-05</arrival_date><departure_date>2025-03-06</departure_date></room>
  </reservation>
</reservations>`

func TestDecodeReservationsSkipsMalformed(t *testing.T) {
	c := newTestCodec()
	batch, err := c.DecodeReservations([]byte(summary))
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, 3, batch.Total())
	assert.Equal(t, "R101", batch.Failures[0].ExternalID)

	r := batch.Records[0]
	assert.Equal(t, "R100", r.ExternalID)
	assert.Equal(t, models.ChannelOTA, r.Channel)
	assert.Equal(t, "ota-1", r.ChannelID)
	assert.Equal(t, "P1", r.PropertyID)
	assert.Equal(t, "Ana Souza", r.GuestName)
	assert.Equal(t, 2, r.Adults)
	assert.Equal(t, 0, r.Children)
	assert.Equal(t, day("2025-03-01"), r.CheckIn)
	assert.Equal(t, day("2025-03-04"), r.CheckOut)
	assert.Equal(t, models.StatusNew, r.Status)
	assert.True(t, decimal.RequireFromString("450").Equal(r.TotalPrice))
	assert.Equal(t, "BRL", r.Currency)
	assert.Equal(t, time.Date(2025, 2, 20, 10, 15, 0, 0, time.UTC), r.CreatedAt)

	// defaults: single headcount missing -> 1 adult, currency from config
	r2 := batch.Records[1]
	assert.Equal(t, 1, r2.Adults)
	assert.Equal(t, "EUR", r2.Currency)
	assert.Equal(t, models.StatusCancelled, r2.Status)
}

func TestDecodeReservationsFault(t *testing.T) {
	c := newTestCodec()
	_, err := c.DecodeReservations([]byte(`<reservations><fault code="401" string="bad hotel"/></reservations>`))
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindFault))
	assert.Contains(t, err.Error(), "bad hotel")

	_, err = c.DecodeReservations([]byte(`<<<`))
	assert.True(t, syncerr.Is(err, syncerr.KindFault))
}

func TestCheckAck(t *testing.T) {
	c := newTestCodec()
	assert.NoError(t, c.CheckAck(nil))
	assert.NoError(t, c.CheckAck([]byte(`<OTA_HotelAvailNotifRS><Success/></OTA_HotelAvailNotifRS>`)))

	err := c.CheckAck([]byte(`<OTA_HotelRateAmountNotifRS><Errors><Error Code="392" ShortText="Invalid room"/></Errors></OTA_HotelRateAmountNotifRS>`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Invalid room"))
}

func TestConfirmAndRejectRequests(t *testing.T) {
	c := newTestCodec()
	req := c.ConfirmRequest("R100")
	assert.Equal(t, "/reservations/confirm", req.Path)
	assert.Contains(t, string(req.Body), "<reservation_id>R100</reservation_id>")

	req = c.RejectRequest("R100", "overbooked")
	assert.Equal(t, "/reservations/reject", req.Path)
	assert.Contains(t, string(req.Body), "<reason>overbooked</reason>")
}
