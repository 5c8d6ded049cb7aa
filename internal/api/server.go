// Package api exposes run history, scheduler state and conflict reports to dashboard collaborators.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Guizzs26/go-channel-sync/internal/channel"
	"github.com/Guizzs26/go-channel-sync/internal/db"
	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/internal/scheduler"
	"github.com/Guizzs26/go-channel-sync/internal/syncerr"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

type Store interface {
	ChannelConfig(ctx context.Context, channelID string) (models.ChannelConfig, error)
	Runs(ctx context.Context, channelID string, limit int) ([]models.SyncRun, error)
	SetStatus(ctx context.Context, channel models.Channel, externalID string, status models.ReservationStatus) error
}

type Scheduler interface {
	Trigger(ctx context.Context, channelID string) bool
	State(channelID string) scheduler.State
}

type ConflictScanner interface {
	Scan(ctx context.Context, propertyIDs ...string) ([]models.ConflictReport, error)
}

// Remote is the part of a channel client driven directly by dashboard actions
type Remote interface {
	TestConnection(ctx context.Context) bool
	Confirm(ctx context.Context, externalID string) error
	Reject(ctx context.Context, externalID, reason string) error
}

type RemoteFunc func(cfg models.ChannelConfig) (Remote, error)

// ChannelRemotes adapts the HTTP client factory
func ChannelRemotes(f *channel.Factory) RemoteFunc {
	return func(cfg models.ChannelConfig) (Remote, error) {
		c, err := f.ClientFor(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// HealthCheck reports an unhealthy dependency by returning an error
type HealthCheck func(ctx context.Context) error

type Server struct {
	store     Store
	scheduler Scheduler
	conflicts ConflictScanner
	remotes   RemoteFunc
	checks    map[string]HealthCheck
	logger    *slog.Logger
}

func NewServer(store Store, sched Scheduler, conflicts ConflictScanner, remotes RemoteFunc, checks map[string]HealthCheck, logger *slog.Logger) *Server {
	return &Server{
		store:     store,
		scheduler: sched,
		conflicts: conflicts,
		remotes:   remotes,
		checks:    checks,
		logger:    logger,
	}
}

// Router builds the gin engine with CORS, recovery and request logging
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(s.logger))
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/channels/:id/runs", s.listRuns)
		api.GET("/channels/:id/state", s.channelState)
		api.POST("/channels/:id/test", s.testConnection)
		api.POST("/channels/:id/sync", s.triggerSync)
		api.POST("/channels/:id/reservations/:externalId/confirm", s.confirmReservation)
		api.POST("/channels/:id/reservations/:externalId/reject", s.rejectReservation)
		api.GET("/properties/:id/conflicts", s.propertyConflicts)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

func (s *Server) listRuns(c *gin.Context) {
	limit := defaultRunLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.store.Runs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.internalError(c, "list runs", err)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": c.Param("id"), "runs": runs})
}

func (s *Server) channelState(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"channel_id": id, "state": s.scheduler.State(id)})
}

func (s *Server) triggerSync(c *gin.Context) {
	id := c.Param("id")
	if !s.scheduler.Trigger(c.Request.Context(), id) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "sync not started: a run is in flight or the channel is disabled",
			"state": s.scheduler.State(id),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"channel_id": id, "accepted": true})
}

func (s *Server) testConnection(c *gin.Context) {
	cfg, remote, ok := s.remote(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": cfg.ChannelID, "ok": remote.TestConnection(c.Request.Context())})
}

func (s *Server) confirmReservation(c *gin.Context) {
	cfg, remote, ok := s.remote(c)
	if !ok {
		return
	}
	externalID := c.Param("externalId")

	if err := remote.Confirm(c.Request.Context(), externalID); err != nil {
		s.channelError(c, err)
		return
	}
	s.applyStatus(c, cfg, externalID, models.StatusConfirmed)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) rejectReservation(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	cfg, remote, ok := s.remote(c)
	if !ok {
		return
	}
	externalID := c.Param("externalId")

	if err := remote.Reject(c.Request.Context(), externalID, req.Reason); err != nil {
		s.channelError(c, err)
		return
	}
	s.applyStatus(c, cfg, externalID, models.StatusCancelled)
}

func (s *Server) applyStatus(c *gin.Context, cfg models.ChannelConfig, externalID string, status models.ReservationStatus) {
	err := s.store.SetStatus(c.Request.Context(), cfg.Type, externalID, status)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.internalError(c, "update reservation status", err)
		return
	}
	// The channel accepted the decision; an unknown local row is picked up by the next pull
	c.JSON(http.StatusOK, gin.H{"channel_id": cfg.ChannelID, "external_id": externalID, "status": status})
}

func (s *Server) propertyConflicts(c *gin.Context) {
	reports, err := s.conflicts.Scan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "scan conflicts", err)
		return
	}
	if reports == nil {
		reports = []models.ConflictReport{}
	}
	c.JSON(http.StatusOK, gin.H{"property_id": c.Param("id"), "conflicts": reports})
}

// remote loads the channel configuration and builds its client, writing the error response itself
func (s *Server) remote(c *gin.Context) (models.ChannelConfig, Remote, bool) {
	cfg, err := s.store.ChannelConfig(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return cfg, nil, false
	}
	if err != nil {
		s.internalError(c, "load channel", err)
		return cfg, nil, false
	}

	remote, err := s.remotes(cfg)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return cfg, nil, false
	}
	return cfg, remote, true
}

func (s *Server) channelError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if syncerr.Is(err, syncerr.KindChannelRejected) || syncerr.Is(err, syncerr.KindFault) {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": syncerr.KindLabel(err)})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error("Request failed", "op", op, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		switch {
		case status >= 500:
			logger.Error("HTTP request", attrs...)
		case c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/health":
			logger.Debug("HTTP request", attrs...)
		default:
			logger.Info("HTTP request", attrs...)
		}
	}
}
