package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

const (
	ExchangeSync     = "channel.sync.topic"
	ExchangeSettings = "settings.topic"

	confirmTimeout = 10 * time.Second
)

// RunRoutingKey is sync.run.<channel>.<status>
func RunRoutingKey(run models.SyncRun) string {
	return fmt.Sprintf("sync.run.%s.%s", run.ChannelID, run.Status)
}

// ConflictRoutingKey is conflict.property.<property>
func ConflictRoutingKey(report models.ConflictReport) string {
	return fmt.Sprintf("conflict.property.%s", report.PropertyID)
}

// RabbitMQClient publishes run summaries and conflict reports for dashboard collaborators
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	mu         sync.Mutex
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRabbitMQClient initializes a connection and a channel, enabling Publisher Confirms by default
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeSync, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.BrokerHealthy.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			metrics.BrokerHealthy.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			metrics.BrokerHealthy.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-client.ctx.Done():
			return
		}
	}()
	l.Info("Successfully connected to RabbitMQ and monitors established")
	return client, nil
}

// PublishRun sends a finished run summary
func (r *RabbitMQClient) PublishRun(ctx context.Context, run models.SyncRun) error {
	err := r.Publish(ctx, RunRoutingKey(run), run.ID, run)
	metrics.Publications.WithLabelValues("sync_run", result(err)).Inc()
	return err
}

// PublishConflict sends one overbooking report
func (r *RabbitMQClient) PublishConflict(ctx context.Context, report models.ConflictReport) error {
	correlationID := report.PropertyID + ":" + report.Date.Format(models.DateLayout)
	err := r.Publish(ctx, ConflictRoutingKey(report), correlationID, report)
	metrics.Publications.WithLabelValues("conflict", result(err)).Inc()
	return err
}

// Publish sends a JSON payload and blocks until a confirmation (ACK/NACK) is received
func (r *RabbitMQClient) Publish(ctx context.Context, routingKey, correlationID string, payload any) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	l := r.logger.With(
		"correlation_id", correlationID,
		"routing_key", routingKey,
	)

	// amqp channels are not safe for concurrent publishing; runs of different channels share this one
	r.mu.Lock()
	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		ExchangeSync,
		routingKey,
		false,
		false,
		amqp.Publishing{
			Headers: amqp.Table{
				"correlation_id": correlationID,
			},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	r.mu.Unlock()
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
