package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/arenamesh/zarena/internal/v1/logging"
	"go.uber.org/zap"
)

// RoleReporter exposes the one fact a readiness probe needs from a
// running Node: whether its last step() call succeeded. It is
// satisfied by *arenanode.Node without this package importing it back.
type RoleReporter interface {
	// CurrentRole returns the node's RoleState as a lowercase string
	// ("searching", "client", "host" or "stopped").
	CurrentRole() string
	// Healthy reports whether the node's last step() call completed
	// without error.
	Healthy() bool
}

// Handler manages health check endpoints for an arena node: liveness
// (process is up) and readiness (transport reachable and the node's
// role machine isn't stuck).
type Handler struct {
	redisClient *redis.Client
	node        RoleReporter
}

// NewHandler creates a health check handler. redisClient may be nil in
// tests; node may be nil before the Node has finished spinning up.
func NewHandler(redisClient *redis.Client, node RoleReporter) *Handler {
	return &Handler{redisClient: redisClient, node: node}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It returns 200 whenever the
// process is running, with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. It returns 200 only if the
// transport is reachable and the node's role machine is not stuck;
// 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.node != nil {
		roleStatus := "healthy"
		if !h.node.Healthy() {
			roleStatus = "unhealthy"
			allHealthy = false
		}
		checks["role"] = roleStatus + ":" + h.node.CurrentRole()
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies transport connectivity using PING.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisClient == nil {
		return "healthy"
	}
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "transport health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
