// Package lock provides the cross-replica run guard backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:channel-sync:"

// Release frees an obtained lock
type Release func(ctx context.Context) error

// RedisLocker makes sure two replicas never run the same channel at once
type RedisLocker struct {
	rdb    *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLocker(ctx context.Context, addr, password string, ttl time.Duration, logger *slog.Logger) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		PoolSize: 10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Connected to Redis", "addr", addr)
	return &RedisLocker{
		rdb:    rdb,
		locker: redislock.New(rdb),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// TryLock obtains the channel lock without waiting. ok is false when another replica holds it.
func (l *RedisLocker) TryLock(ctx context.Context, channelID string) (Release, bool, error) {
	lk, err := l.locker.Obtain(ctx, Key(channelID), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock for channel %s: %w", channelID, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(lk, channelID, stop)
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("Failed to release channel lock", "channel_id", channelID, "error", err)
			return err
		}
		return nil
	}, true, nil
}

type refresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive extends the lock every half TTL until stop is closed, so a run longer
// than the TTL keeps its channel. It gives up once a refresh fails.
func (l *RedisLocker) keepAlive(lk refresher, channelID string, stop <-chan struct{}) {
	if l.ttl <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := lk.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				l.logger.Error("Channel lock lost during run", "channel_id", channelID, "error", err)
				return
			}
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

func Key(channelID string) string {
	return keyPrefix + channelID
}
