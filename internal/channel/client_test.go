package channel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
)

func testConfig(baseURL string, typ models.Channel) models.ChannelConfig {
	return models.ChannelConfig{
		ChannelID:           "ch-1",
		Type:                typ,
		BaseURL:             baseURL,
		HotelID:             "H1",
		Credentials:         models.Credentials{Username: "hotel", Password: "secret"},
		Currency:            "EUR",
		SyncIntervalMinutes: 15,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, typ models.Channel, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)
	c, err := NewFactory(opts...).ClientFor(testConfig(srv.URL, typ))
	require.NoError(t, err)
	return c
}

func TestSendAppliesAuthAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "hotel", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))
		assert.Equal(t, "text/xml", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "<ping/>", string(body))
		_, _ = w.Write([]byte("<pong/>"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, models.ChannelOTA)
	out, err := c.Send(context.Background(), "/ping", http.MethodPost, []byte("<ping/>"), "text/xml; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "<pong/>", string(out))
}

func TestSendClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		kind   syncerr.Kind
	}{
		{http.StatusUnauthorized, syncerr.KindAuth},
		{http.StatusForbidden, syncerr.KindAuth},
		{http.StatusTooManyRequests, syncerr.KindRateLimited},
		{http.StatusBadGateway, syncerr.KindUnavailable},
		{http.StatusServiceUnavailable, syncerr.KindUnavailable},
		{http.StatusBadRequest, syncerr.KindChannelRejected},
		{http.StatusUnprocessableEntity, syncerr.KindChannelRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := newTestClient(t, srv, models.ChannelPMS)
		_, err := c.Send(context.Background(), "/x", http.MethodGet, nil, "")
		require.Error(t, err)
		assert.Equal(t, tc.kind, syncerr.KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestSendTransportErrorOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, models.ChannelPMS, WithTimeout(20*time.Millisecond))
	_, err := c.Send(context.Background(), "/slow", http.MethodGet, nil, "")
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindTransport))
	assert.True(t, syncerr.Retryable(err))
}

func TestTimeoutLeavesSharedHTTPClientUntouched(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}
	cfg := testConfig("http://127.0.0.1:1", models.ChannelPMS)

	after := NewClient(cfg, nil, WithHTTPClient(shared), WithTimeout(5*time.Second))
	before := NewClient(cfg, nil, WithTimeout(5*time.Second), WithHTTPClient(shared))

	assert.Equal(t, time.Minute, shared.Timeout)
	assert.Equal(t, 5*time.Second, after.http.Timeout)
	assert.Equal(t, 5*time.Second, before.http.Timeout)
	assert.NotSame(t, shared, after.http)
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"reservations":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, models.ChannelPMS)
	batch, err := c.FetchReservations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Total())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, models.ChannelPMS, WithMaxAttempts(4))
	_, err := c.FetchReservations(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindRateLimited))
	assert.Equal(t, int32(4), calls.Load())
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, models.ChannelOTA)
	err := c.Confirm(context.Background(), "R1")
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindAuth))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPushDetectsFaultPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/OTA_HotelRateAmountNotif", r.URL.Path)
		_, _ = w.Write([]byte(`<OTA_HotelRateAmountNotifRS><Errors><Error Code="15" ShortText="Invalid date"/></Errors></OTA_HotelRateAmountNotifRS>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, models.ChannelOTA)
	err := c.PushRates(context.Background(), []models.RoomRate{{RoomID: "P1", Date: time.Now(), Price: decimal.NewFromInt(10)}})
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindFault))
}

func TestBearerAuthWithAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, models.ChannelPMS)
	cfg.Credentials = models.Credentials{APIKey: "k-123"}
	c, err := NewFactory().ClientFor(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Reject(context.Background(), "X1", "duplicate"))
}

func TestTestConnection(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<reservations/>`))
	}))
	defer ok.Close()
	assert.True(t, newTestClient(t, ok, models.ChannelOTA).TestConnection(context.Background()))

	fault := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<reservations><fault code="7" string="unknown hotel"/></reservations>`))
	}))
	defer fault.Close()
	assert.False(t, newTestClient(t, fault, models.ChannelOTA).TestConnection(context.Background()))

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer denied.Close()
	assert.False(t, newTestClient(t, denied, models.ChannelOTA).TestConnection(context.Background()))

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()
	assert.False(t, newTestClient(t, dead, models.ChannelOTA).TestConnection(context.Background()))
}

func TestFactoryRejectsDirectChannel(t *testing.T) {
	_, err := NewFactory().ClientFor(testConfig("http://x", models.ChannelDirect))
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}
