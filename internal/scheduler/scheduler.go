// Package scheduler owns one periodic sync task per enabled channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Guizzs26/go-channel-sync/internal/db"
	"github.com/Guizzs26/go-channel-sync/internal/lock"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/pkg/metrics"
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
)

func (s State) gauge() float64 {
	switch s {
	case StateRunning:
		return 1
	case StateDisabled:
		return 2
	default:
		return 0
	}
}

// ConfigSource is the settings collaborator; configs are read fresh for every run
type ConfigSource interface {
	ChannelConfig(ctx context.Context, channelID string) (models.ChannelConfig, error)
}

// Locker guards a channel across replicas
type Locker interface {
	TryLock(ctx context.Context, channelID string) (lock.Release, bool, error)
}

type Executor interface {
	Execute(ctx context.Context, cfg models.ChannelConfig) models.SyncRun
}

// intervalSchedule lets an interval edit apply on the next scheduling decision
type intervalSchedule struct {
	interval atomic.Int64
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s.interval.Load()))
}

type channelEntry struct {
	enabled  bool
	running  bool
	schedule *intervalSchedule
	entryID  cron.EntryID
	armed    bool
}

func (e *channelEntry) state() State {
	switch {
	case e.running:
		return StateRunning
	case !e.enabled:
		return StateDisabled
	default:
		return StateIdle
	}
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// Scheduler runs each channel on its own timer. At most one run per channel is in flight;
// a trigger arriving while a run is active is dropped, never queued.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	configs  ConfigSource
	runner   Executor
	locker   Locker
	channels map[string]*channelEntry
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func New(configs ConfigSource, runner Executor, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:     cron.New(),
		configs:  configs,
		runner:   runner,
		channels: make(map[string]*channelEntry),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the channel timer and triggers one run right away.
// A disabled channel is recorded as such and nothing is scheduled.
func (s *Scheduler) Start(ctx context.Context, channelID string) error {
	cfg, err := s.configs.ChannelConfig(ctx, channelID)
	if err != nil {
		return fmt.Errorf("load channel %s: %w", channelID, err)
	}

	if !s.apply(cfg) {
		s.logger.Info("Channel is disabled, not scheduling", "channel_id", channelID)
		return nil
	}

	s.logger.Info("Channel scheduled", "channel_id", channelID, "interval", cfg.Interval())
	s.Trigger(ctx, channelID)
	return nil
}

// Reload re-reads the configuration after a settings change. Interval edits apply from the
// next scheduling decision; enabling starts the channel and disabling stops it.
func (s *Scheduler) Reload(ctx context.Context, channelID string) error {
	cfg, err := s.configs.ChannelConfig(ctx, channelID)
	if errors.Is(err, db.ErrNotFound) {
		s.Stop(channelID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload channel %s: %w", channelID, err)
	}

	s.mu.Lock()
	e, ok := s.channels[channelID]
	wasArmed := ok && e.armed
	s.mu.Unlock()

	if !cfg.Enabled {
		s.Stop(channelID)
		return nil
	}
	if wasArmed {
		s.apply(cfg)
		s.logger.Info("Channel settings reloaded", "channel_id", channelID, "interval", cfg.Interval())
		return nil
	}
	return s.Start(ctx, channelID)
}

// apply records the configuration and arms or disarms the timer. It reports whether the channel is enabled.
func (s *Scheduler) apply(cfg models.ChannelConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(cfg.ChannelID)
	e.enabled = cfg.Enabled
	if !cfg.Enabled {
		s.disarm(e)
		s.publishState(cfg.ChannelID, e)
		return false
	}

	e.schedule.interval.Store(int64(cfg.Interval()))
	if !e.armed {
		channelID := cfg.ChannelID
		e.entryID = s.cron.Schedule(e.schedule, cron.FuncJob(func() {
			s.Trigger(context.Background(), channelID)
		}))
		e.armed = true
	}
	s.publishState(cfg.ChannelID, e)
	return true
}

// Stop cancels the timer. An in-flight run finishes; no new run starts.
func (s *Scheduler) Stop(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.channels[channelID]
	if !ok {
		return
	}
	e.enabled = false
	s.disarm(e)
	s.publishState(channelID, e)
	s.logger.Info("Channel stopped", "channel_id", channelID)
}

// Trigger starts a run unless one is already in flight or the channel is not enabled.
// It returns whether a run was started; the run itself proceeds in the background.
func (s *Scheduler) Trigger(ctx context.Context, channelID string) bool {
	s.mu.Lock()
	e, ok := s.channels[channelID]
	switch {
	case !ok || !e.enabled:
		s.mu.Unlock()
		s.drop(channelID, "disabled")
		return false
	case e.running:
		s.mu.Unlock()
		s.drop(channelID, "in_flight")
		return false
	}
	e.running = true
	s.publishState(channelID, e)
	s.wg.Add(1)
	s.mu.Unlock()

	// Disabling a channel never cancels a run that already started
	go s.run(context.WithoutCancel(ctx), channelID)
	return true
}

func (s *Scheduler) run(ctx context.Context, channelID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if e, ok := s.channels[channelID]; ok {
			e.running = false
			s.publishState(channelID, e)
		}
		s.mu.Unlock()
	}()

	logger := s.logger.With("channel_id", channelID)

	cfg, err := s.configs.ChannelConfig(ctx, channelID)
	if err != nil {
		logger.Error("Failed to load channel configuration for run", "error", err)
		return
	}
	if !cfg.Enabled {
		logger.Info("Channel was disabled before the run started")
		return
	}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, channelID)
		if err != nil {
			logger.Error("Failed to acquire channel lock", "error", err)
			metrics.DroppedTriggers.WithLabelValues(channelID, "lock_error").Inc()
			return
		}
		if !ok {
			s.drop(channelID, "locked")
			return
		}
		defer release(context.Background())
	}

	s.runner.Execute(ctx, cfg)
}

func (s *Scheduler) drop(channelID, reason string) {
	metrics.DroppedTriggers.WithLabelValues(channelID, reason).Inc()
	s.logger.Debug("Sync trigger dropped", "channel_id", channelID, "reason", reason)
}

// State returns the scheduler state of a channel; unknown channels report disabled
func (s *Scheduler) State(channelID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.channels[channelID]; ok {
		return e.state()
	}
	return StateDisabled
}

// Run starts the timers and blocks until ctx is done, then waits for in-flight runs
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("Scheduler started")

	<-ctx.Done()

	s.logger.Info("Scheduler shutting down, waiting for in-flight runs")
	<-s.cron.Stop().Done()
	s.Wait()
}

// Wait blocks until every started run has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) entry(channelID string) *channelEntry {
	e, ok := s.channels[channelID]
	if !ok {
		e = &channelEntry{schedule: &intervalSchedule{}}
		s.channels[channelID] = e
	}
	return e
}

func (s *Scheduler) disarm(e *channelEntry) {
	if e.armed {
		s.cron.Remove(e.entryID)
		e.armed = false
	}
}

func (s *Scheduler) publishState(channelID string, e *channelEntry) {
	metrics.ChannelState.WithLabelValues(channelID).Set(e.state().gauge())
}
