// Package channel is the authenticated HTTP transport to external distribution channels.
// It classifies failures but holds no business logic.
package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Guizzs26/go-channel-sync/internal/adapter"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
	"github.com/Guizzs26/go-channel-sync/pkg/infra"
	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

const maxResponseBytes = 16 << 20

// Client talks to one configured channel using that channel's codec
type Client struct {
	cfg         models.ChannelConfig
	codec       adapter.Codec
	http        *http.Client
	timeout     time.Duration
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request; expiry is classified as a transport error
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.minDelay = minDelay
		c.maxDelay = maxDelay
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(cfg models.ChannelConfig, codec adapter.Codec, opts ...Option) *Client {
	c := &Client{
		cfg:         cfg,
		codec:       codec,
		http:        &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		minDelay:    time.Second,
		maxDelay:    30 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// applied on a copy so a caller-supplied client is never mutated
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	c.logger = c.logger.With("channel_id", cfg.ChannelID)
	return c
}

func (c *Client) ChannelID() string {
	return c.cfg.ChannelID
}

// Send performs one authenticated request and returns the raw body of a 2xx response.
// Non-2xx statuses and network failures come back as *syncerr.Error.
func (c *Client) Send(ctx context.Context, endpoint, method string, body []byte, contentType string) ([]byte, error) {
	target := strings.TrimRight(c.cfg.BaseURL, "/") + endpoint

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &syncerr.Error{Kind: syncerr.KindChannelRejected, Op: "build_request", Channel: c.cfg.ChannelID, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", acceptFor(contentType))
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &syncerr.Error{Kind: syncerr.KindTransport, Op: method + " " + endpoint, Channel: c.cfg.ChannelID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &syncerr.Error{Kind: syncerr.KindTransport, Op: method + " " + endpoint, Channel: c.cfg.ChannelID, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, c.classify(resp, method+" "+endpoint, raw)
}

func (c *Client) classify(resp *http.Response, op string, body []byte) error {
	e := &syncerr.Error{
		Op:      op,
		Channel: c.cfg.ChannelID,
		Status:  resp.StatusCode,
		Err:     fmt.Errorf("%s", snippet(body)),
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Kind = syncerr.KindAuth
	case code == http.StatusTooManyRequests:
		e.Kind = syncerr.KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
		e.Kind = syncerr.KindUnavailable
	case code >= 400 && code < 500:
		e.Kind = syncerr.KindChannelRejected
	default:
		// Remaining 5xx (500, 504...) are treated as a temporary outage of the channel
		e.Kind = syncerr.KindUnavailable
	}
	return e
}

func (c *Client) authorize(req *http.Request) {
	creds := c.cfg.Credentials
	if creds.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
		return
	}
	if creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
}

// do runs a codec request with bounded retries for transient failures and checks the ack body
func (c *Client) do(ctx context.Context, op string, r adapter.Request) ([]byte, error) {
	backoff := infra.NewBackoff(c.minDelay, c.maxDelay, 2.0)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		body, err := c.Send(ctx, r.Path, r.Method, r.Body, r.ContentType)
		metrics.ChannelLatency.WithLabelValues(c.cfg.ChannelID, op).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.ChannelRequests.WithLabelValues(c.cfg.ChannelID, op, "ok").Inc()
			return body, nil
		}

		lastErr = err
		metrics.ChannelRequests.WithLabelValues(c.cfg.ChannelID, op, syncerr.KindLabel(err)).Inc()

		if !syncerr.Retryable(err) || attempt == c.maxAttempts {
			break
		}

		c.logger.Warn("Transient channel failure, retrying",
			"operation", op,
			"attempt", attempt,
			"error", err,
		)
		if werr := backoff.Wait(ctx, syncerr.RetryAfter(err)); werr != nil {
			return nil, &syncerr.Error{Kind: syncerr.KindTransport, Op: op, Channel: c.cfg.ChannelID, Err: werr}
		}
	}
	return nil, lastErr
}

// FetchReservations pulls the booking summary changed since lastChange and decodes it
func (c *Client) FetchReservations(ctx context.Context, lastChange *time.Time) (adapter.Batch, error) {
	body, err := c.do(ctx, "fetch_reservations", c.codec.ReservationsRequest(lastChange))
	if err != nil {
		return adapter.Batch{}, err
	}
	batch, err := c.codec.DecodeReservations(body)
	if err != nil {
		return adapter.Batch{}, withChannel(err, c.cfg.ChannelID)
	}
	return batch, nil
}

func (c *Client) PushRates(ctx context.Context, rates []models.RoomRate) error {
	req, err := c.codec.RatesRequest(rates)
	if err != nil {
		return err
	}
	return c.push(ctx, "push_rates", req)
}

func (c *Client) PushAvailability(ctx context.Context, avail []models.RoomAvailability) error {
	req, err := c.codec.AvailabilityRequest(avail)
	if err != nil {
		return err
	}
	return c.push(ctx, "push_availability", req)
}

// Confirm accepts a reservation on the channel side
func (c *Client) Confirm(ctx context.Context, externalID string) error {
	return c.push(ctx, "confirm_reservation", c.codec.ConfirmRequest(externalID))
}

// Reject declines a reservation on the channel side with a human readable reason
func (c *Client) Reject(ctx context.Context, externalID, reason string) error {
	return c.push(ctx, "reject_reservation", c.codec.RejectRequest(externalID, reason))
}

func (c *Client) push(ctx context.Context, op string, req adapter.Request) error {
	body, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	return withChannel(c.codec.CheckAck(body), c.cfg.ChannelID)
}

// TestConnection issues a minimal read-only request. It reports false on any failure
// and never returns an error to the caller.
func (c *Client) TestConnection(ctx context.Context) bool {
	now := time.Now().UTC()
	r := c.codec.ReservationsRequest(&now)

	body, err := c.Send(ctx, r.Path, r.Method, r.Body, r.ContentType)
	if err != nil {
		c.logger.Warn("Connection test failed", "kind", syncerr.KindLabel(err), "error", err)
		return false
	}
	if _, err := c.codec.DecodeReservations(body); err != nil {
		c.logger.Warn("Connection test returned an error payload", "error", err)
		return false
	}
	return true
}

func withChannel(err error, channelID string) error {
	if err == nil {
		return nil
	}
	var e *syncerr.Error
	if errors.As(err, &e) && e.Channel == "" {
		e.Channel = channelID
	}
	return err
}

func acceptFor(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return contentType
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}
