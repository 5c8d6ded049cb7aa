package lock

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/stretchr/testify/assert"
)

type countingLock struct {
	calls atomic.Int32
	err   error
}

func (c *countingLock) Refresh(_ context.Context, _ time.Duration, _ *redislock.Options) error {
	c.calls.Add(1)
	return c.err
}

func testLocker(ttl time.Duration) *RedisLocker {
	return &RedisLocker{ttl: ttl, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestKeyIsScopedPerChannel(t *testing.T) {
	assert.Equal(t, "lock:channel-sync:ota-1", Key("ota-1"))
	assert.NotEqual(t, Key("ota-1"), Key("pms-1"))
}

func TestKeepAliveRefreshesUntilStopped(t *testing.T) {
	l := testLocker(20 * time.Millisecond)
	lk := &countingLock{}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(lk, "ota-1", stop)
	}()

	assert.Eventually(t, func() bool { return lk.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done

	after := lk.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, lk.calls.Load())
}

func TestKeepAliveStopsAfterLostLock(t *testing.T) {
	l := testLocker(10 * time.Millisecond)
	lk := &countingLock{err: redislock.ErrNotObtained}
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(lk, "ota-1", make(chan struct{}))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept running after a failed refresh")
	}
	assert.Equal(t, int32(1), lk.calls.Load())
}
