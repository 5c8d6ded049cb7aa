package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

const (
	settingsQueue      = "channel.sync.settings"
	settingsRoutingKey = "settings.channel.#"
)

// SettingsEvent is emitted by the settings collaborator whenever a channel configuration changes
type SettingsEvent struct {
	ChannelID string    `json:"channel_id"`
	Action    string    `json:"action"` // created | updated | deleted
	At        time.Time `json:"at"`
}

// Reloader applies a configuration change to the running scheduler
type Reloader interface {
	Reload(ctx context.Context, channelID string) error
}

// SettingsConsumer manages the connection and message flow from the settings exchange
type SettingsConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	reloader Reloader
	logger   *slog.Logger
}

func NewSettingsConsumer(url string, reloader Reloader, logger *slog.Logger) (*SettingsConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// QoS: Prefetch 1 keeps reloads for the same channel in publish order
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &SettingsConsumer{
		conn:     conn,
		channel:  ch,
		reloader: reloader,
		logger:   logger,
	}, nil
}

// Listen binds the settings queue and applies events until ctx is done or the broker drops us
func (c *SettingsConsumer) Listen(ctx context.Context) error {
	if err := c.channel.ExchangeDeclare(ExchangeSettings, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare settings exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(settingsQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, settingsRoutingKey, ExchangeSettings, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Settings consumer is online", "queue", q.Name, "routing_key", settingsRoutingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *SettingsConsumer) handle(ctx context.Context, d amqp.Delivery) {
	event, err := DecodeSettingsEvent(d.Body)
	if err != nil {
		metrics.SettingsEvents.WithLabelValues("malformed").Inc()
		c.logger.Error("Failed to decode settings event", "error", err)
		d.Nack(false, false) // Drop malformed messages
		return
	}

	if err := c.reloader.Reload(ctx, event.ChannelID); err != nil {
		metrics.SettingsEvents.WithLabelValues("failed").Inc()
		c.logger.Error("Reload failed, requeueing", "channel_id", event.ChannelID, "error", err)
		time.Sleep(5 * time.Second) // Throttling retries
		d.Nack(false, true)
		return
	}

	metrics.SettingsEvents.WithLabelValues("applied").Inc()
	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to Ack settings event", "channel_id", event.ChannelID, "error", err)
	}
}

func DecodeSettingsEvent(body []byte) (SettingsEvent, error) {
	var event SettingsEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return SettingsEvent{}, fmt.Errorf("invalid settings event: %w", err)
	}
	if event.ChannelID == "" {
		return SettingsEvent{}, fmt.Errorf("settings event without channel_id")
	}
	return event, nil
}

// Close gracefully terminates RabbitMQ resources
func (c *SettingsConsumer) Close() {
	c.logger.Info("Shutting down settings consumer")
	c.channel.Close()
	c.conn.Close()
}
