package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/pkg/infra"
)

var ErrBrokerUnavailable = errors.New("broker link is down")

// Link keeps a healthy publisher around, reconnecting with backoff when RabbitMQ drops.
// Publishing while the link is down fails fast instead of blocking a sync run.
type Link struct {
	url     string
	logger  *slog.Logger
	current atomic.Pointer[RabbitMQClient]
}

func NewLink(url string, logger *slog.Logger) *Link {
	return &Link{url: url, logger: logger}
}

// Run maintains the connection until ctx is canceled
func (l *Link) Run(ctx context.Context) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	healthCheck := time.NewTicker(5 * time.Second)
	defer healthCheck.Stop()

	for {
		client := l.current.Load()
		if client == nil || !client.IsHealthy() {
			if client != nil {
				client.Close()
				l.current.Store(nil)
			}

			newClient, err := NewRabbitMQClient(l.url, l.logger)
			if err != nil {
				wait := backoff.Next()
				l.logger.Error("RabbitMQ link failure, retrying", "wait", wait, "error", err)
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return
				}
			}

			l.logger.Info("RabbitMQ link established")
			l.current.Store(newClient)
			backoff.Reset()
		}

		select {
		case <-healthCheck.C:
		case <-ctx.Done():
			if c := l.current.Swap(nil); c != nil {
				c.Close()
			}
			return
		}
	}
}

func (l *Link) PublishRun(ctx context.Context, run models.SyncRun) error {
	c := l.current.Load()
	if c == nil {
		return ErrBrokerUnavailable
	}
	return c.PublishRun(ctx, run)
}

func (l *Link) PublishConflict(ctx context.Context, report models.ConflictReport) error {
	c := l.current.Load()
	if c == nil {
		return ErrBrokerUnavailable
	}
	return c.PublishConflict(ctx, report)
}

// Check is a health probe for the API
func (l *Link) Check(context.Context) error {
	if c := l.current.Load(); c == nil || !c.IsHealthy() {
		return ErrBrokerUnavailable
	}
	return nil
}
