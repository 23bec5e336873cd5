package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/utils"
)

// readinessTimeout bounds all dependency checks of one readiness probe
const readinessTimeout = 5 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      *sql.DB
	auditDB *sql.DB
	redis   redis.UniversalClient
	logger  *zap.Logger
}

// HealthOption adds an optional dependency to the readiness probe
type HealthOption func(*HealthHandler)

// WithAuditDB checks the audit database when it is a separate pool
func WithAuditDB(db *sql.DB) HealthOption {
	return func(h *HealthHandler) {
		h.auditDB = db
	}
}

// WithRedis checks the shared Redis client
func WithRedis(client redis.UniversalClient) HealthOption {
	return func(h *HealthHandler) {
		h.redis = client
	}
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sql.DB, logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		db:     db,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleHealth handles GET /healthz
// Liveness only - always returns 200 if the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Validates that Postgres (and Redis, when configured) answer
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	record := func(name string, err error) {
		if err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy"
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	record("database", h.checkDatabase(ctx, h.db))
	if h.auditDB != nil && h.auditDB != h.db {
		record("audit_database", h.checkDatabase(ctx, h.auditDB))
	}
	if h.redis != nil {
		record("redis", h.redis.Ping(ctx).Err())
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase pings db and runs a trivial query
func (h *HealthHandler) checkDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
