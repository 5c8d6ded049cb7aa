package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Guizzs26/go-channel-sync/internal/api"
	"github.com/Guizzs26/go-channel-sync/internal/broker"
	"github.com/Guizzs26/go-channel-sync/internal/channel"
	"github.com/Guizzs26/go-channel-sync/internal/config"
	"github.com/Guizzs26/go-channel-sync/internal/conflict"
	"github.com/Guizzs26/go-channel-sync/internal/db"
	"github.com/Guizzs26/go-channel-sync/internal/lock"
	"github.com/Guizzs26/go-channel-sync/internal/reconciler"
	"github.com/Guizzs26/go-channel-sync/internal/scheduler"
	"github.com/Guizzs26/go-channel-sync/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Channel sync daemon initializing", "pid", os.Getpid(), "inventory_source", cfg.InventorySource)

	if cfg.MigrateOnStartup {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Error("FATAL: Failed to apply migrations", "error", err)
			os.Exit(1)
		}
	}

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("FATAL: Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	var inventory scheduler.Inventory = postgres
	if cfg.InventorySource == config.InventoryFirebird {
		fbRepo, err := db.NewFirebirdRepository(cfg.FirebirdURL, logger)
		if err != nil {
			logger.Error("FATAL: Failed to connect to Firebird inventory", "error", err)
			os.Exit(1)
		}
		defer fbRepo.Close()
		inventory = fbRepo
	}

	link := broker.NewLink(cfg.RabbitMQURL, logger)

	factory := channel.NewFactory(
		channel.WithTimeout(cfg.ChannelTimeout),
		channel.WithMaxAttempts(cfg.ChannelAttempts),
		channel.WithLogger(logger),
	)

	conflicts := conflict.NewService(postgres, link, logger)

	runnerOpts := []scheduler.RunnerOption{
		scheduler.WithHorizon(cfg.PushHorizonDays),
		scheduler.WithRunPublisher(link),
	}
	if cfg.ScanAfterImport {
		runnerOpts = append(runnerOpts, scheduler.WithConflictScan(conflicts))
	}
	runner := scheduler.NewRunner(
		scheduler.ChannelClients(factory),
		postgres,
		inventory,
		reconciler.NewImporter(postgres, logger),
		logger,
		runnerOpts...,
	)

	var schedOpts []scheduler.Option
	if cfg.RedisAddr != "" {
		locker, err := lock.NewRedisLocker(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.LockTTL, logger)
		if err != nil {
			logger.Error("FATAL: Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer locker.Close()
		schedOpts = append(schedOpts, scheduler.WithLocker(locker))
	}
	sched := scheduler.New(postgres, runner, logger, schedOpts...)

	checks := map[string]api.HealthCheck{
		"postgres": postgres.Ping,
		"broker":   link.Check,
	}
	server := api.NewServer(postgres, sched, conflicts, api.ChannelRemotes(factory), checks, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		link.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runSettingsConsumer(ctx, cfg.RabbitMQURL, sched, logger)
	}()

	startChannels(ctx, postgres, sched, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * cfg.ChannelTimeout,
	}
	go func() {
		logger.Info("Dashboard API online", "url", "http://localhost:"+cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Dashboard API failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}

	wg.Wait()
	logger.Info("Channel sync daemon shut down successfully")
}

// startChannels schedules every configured channel; disabled ones are recorded as such
func startChannels(ctx context.Context, repo *db.PostgresRepository, sched *scheduler.Scheduler, logger *slog.Logger) {
	channels, err := repo.ChannelConfigs(ctx)
	if err != nil {
		logger.Error("Failed to list channel configurations", "error", err)
		return
	}

	for _, ch := range channels {
		if ch.Enabled {
			if err := config.ValidateChannel(ch); err != nil {
				logger.Error("Skipping invalid channel configuration", "channel_id", ch.ChannelID, "error", err)
				continue
			}
		}
		if err := sched.Start(ctx, ch.ChannelID); err != nil {
			logger.Error("Failed to start channel", "channel_id", ch.ChannelID, "error", err)
		}
	}
	logger.Info("Channels loaded", "count", len(channels))
}

// runSettingsConsumer reloads channels on settings events, reconnecting with backoff
func runSettingsConsumer(ctx context.Context, url string, reloader broker.Reloader, logger *slog.Logger) {
	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		consumer, err := broker.NewSettingsConsumer(url, reloader, logger)
		if err != nil {
			wait := connBackoff.Next()
			logger.Error("Settings consumer connection failed, retrying", "wait_duration", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		connBackoff.Reset()
		if err := consumer.Listen(ctx); err != nil {
			logger.Error("Settings consumer connection lost", "error", err)
		}
		consumer.Close()
	}
}
