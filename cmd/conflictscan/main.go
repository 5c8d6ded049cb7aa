package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Guizzs26/go-channel-sync/internal/broker"
	"github.com/Guizzs26/go-channel-sync/internal/config"
	"github.com/Guizzs26/go-channel-sync/internal/conflict"
	"github.com/Guizzs26/go-channel-sync/internal/db"
	"github.com/Guizzs26/go-channel-sync/pkg/infra"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean, 1 failure, 2 overbooking found
func run() int {
	properties := flag.String("properties", "", "comma separated property ids (default: every property)")
	publish := flag.Bool("publish", false, "publish reports to the dashboard exchange")
	flag.Parse()

	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("FATAL: Failed to connect to Postgres", "error", err)
		return 1
	}
	defer postgres.Close()

	var publisher conflict.Publisher
	if *publish {
		rabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Error("FATAL: Failed to connect to RabbitMQ", "error", err)
			return 1
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	svc := conflict.NewService(postgres, publisher, logger)
	reports, err := svc.Scan(ctx, splitIDs(*properties)...)
	if err != nil {
		logger.Error("Conflict scan failed", "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		logger.Error("Failed to write reports", "error", err)
		return 1
	}

	logger.Info("Conflict scan complete", "overbooked_nights", len(reports))
	if len(reports) > 0 {
		return 2
	}
	return 0
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
