package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"livechat-api/internal/config"
	"livechat-api/internal/domain/broker"
	"livechat-api/internal/domain/hub"
	"livechat-api/internal/infrastructure/metrics"
)

// Check is one readiness dependency.
type Check func(ctx context.Context) error

// ReadinessChecks are the named checks behind /readyz. The broker check is
// always present.
type ReadinessChecks map[string]Check

// HealthHandler serves the health and readiness endpoints.
type HealthHandler struct {
	cfg         *config.Config
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	broker      broker.Client
	health      *metrics.WSHealth
	checks      ReadinessChecks
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(
	cfg *config.Config,
	registry *hub.Registry,
	broadcaster *hub.Broadcaster,
	client broker.Client,
	health *metrics.WSHealth,
	checks ReadinessChecks,
) *HealthHandler {
	all := ReadinessChecks{"broker": client.Ping}
	for name, check := range checks {
		all[name] = check
	}
	return &HealthHandler{
		cfg:         cfg,
		registry:    registry,
		broadcaster: broadcaster,
		broker:      client,
		health:      health,
		checks:      all,
	}
}

// Root returns service info.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   h.cfg.ServiceName,
		"server_id": h.broadcaster.ServerID(),
		"status":    "ok",
	})
}

// Liveness always succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Readiness runs every check and fails with 503 if any of them fails.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}

// WebSocket reports websocket health. An unhealthy report answers 503.
func (h *HealthHandler) WebSocket(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	report := h.health.Report(ctx, metrics.Topology{
		ServerID:  h.broadcaster.ServerID(),
		Operators: h.registry.Stats().Operators,
		Rooms:     h.broadcaster.RoomCount(),
	}, h.broker.Ping)

	code := http.StatusOK
	if report.Status == metrics.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
