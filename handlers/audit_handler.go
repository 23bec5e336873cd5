package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
)

// defaultStatsWindow is used when /audit/stats has no since parameter
const defaultStatsWindow = 24 * time.Hour

// AuditService reads, exports and archives the audit trail
type AuditService interface {
	Query(ctx context.Context, filter models.AuditFilter) (*models.AuditPage, error)
	Get(ctx context.Context, tenantID *uuid.UUID, id uuid.UUID) (*models.AuditLog, error)
	Stats(ctx context.Context, tenantID *uuid.UUID, since time.Time) (*models.AuditStats, error)
	Recent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*models.AuditLog, error)
	Export(ctx context.Context, actor models.Actor, w io.Writer, filter models.AuditFilter) (int, error)
	Archive(ctx context.Context, actor models.Actor, before time.Time) (int64, error)
}

// ArchiveRequest is the body of POST /audit/archive
type ArchiveRequest struct {
	Before time.Time `json:"before" validate:"required"`
}

// AuditHandler handles audit trail endpoints. Every read is confined to the
// tenant resolved for the request, whatever the query string says.
type AuditHandler struct {
	audit  AuditService
	now    func() time.Time
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		now:    time.Now,
		logger: logger,
	}
}

// ListLogs handles GET /api/v1/audit/logs
func (h *AuditHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	page, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WritePage(w, page.Logs, page.Total, page.Page, page.PageSize)
}

// GetLog handles GET /api/v1/audit/logs/{id}
func (h *AuditHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	log, err := h.audit.Get(r.Context(), tenantScope(r), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, log)
}

// GetStats handles GET /api/v1/audit/stats?since=
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	since := h.now().Add(-defaultStatsWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseTime("since", raw)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		since = *parsed
	}

	stats, err := h.audit.Stats(r.Context(), tenantScope(r), since)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, stats)
}

// GetRecent handles GET /api/v1/audit/recent?limit=
func (h *AuditHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	logs, err := h.audit.Recent(r.Context(), tenantScope(r), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"logs":  logs,
		"total": len(logs),
	})
}

// Export handles GET /api/v1/audit/export. The body is CSV; once streaming
// has started errors can only be logged.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	filename := fmt.Sprintf("audit-logs-%s.csv", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	rows, err := h.audit.Export(r.Context(), middleware.ActorFromRequest(r), w, filter)
	if err != nil {
		h.logger.Error("audit export failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Int("rows", rows),
			zap.Error(err))
		if rows == 0 {
			w.Header().Del("Content-Disposition")
			HandleServiceError(w, err, h.logger)
		}
		return
	}

	h.logger.Info("audit logs exported",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int("rows", rows))
}

// Archive handles POST /api/v1/audit/archive
func (h *AuditHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	deleted, err := h.audit.Archive(r.Context(), middleware.ActorFromRequest(r), req.Before)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"deleted": deleted,
		"before":  req.Before.UTC(),
	})
}

// parseFilter reads the audit query string. TenantID always comes from the
// resolved tenant.
func (h *AuditHandler) parseFilter(r *http.Request) (models.AuditFilter, error) {
	q := r.URL.Query()
	filter := models.AuditFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		Category:   models.AuditCategory(q.Get("category")),
		Severity:   models.AuditSeverity(q.Get("severity")),
		EntityType: q.Get("entity_type"),
		TenantID:   tenantScope(r),
	}

	if filter.Category != "" && !slices.Contains(models.ValidCategories, string(filter.Category)) {
		return filter, services.ErrInvalidInput.WithMessage("unknown category").
			WithDetail("category", filter.Category).
			WithDetail("allowed", models.ValidCategories)
	}
	if filter.Severity != "" && !slices.Contains(models.ValidSeverities, string(filter.Severity)) {
		return filter, services.ErrInvalidInput.WithMessage("unknown severity").
			WithDetail("severity", filter.Severity).
			WithDetail("allowed", models.ValidSeverities)
	}

	var err error
	if filter.Page, err = intQuery(r, "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = intQuery(r, "page_size"); err != nil {
		return filter, err
	}

	if raw := q.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, services.ErrInvalidInput.WithMessage("invalid actor_id").WithDetail("actor_id", raw)
		}
		filter.ActorID = &id
	}
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = parseTime("from", raw); err != nil {
			return filter, err
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = parseTime("to", raw); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func tenantScope(r *http.Request) *uuid.UUID {
	t := middleware.GetTenantFromContext(r.Context())
	if t == nil {
		return nil
	}
	id := t.ID
	return &id
}

func parseTime(name, raw string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, services.ErrInvalidInput.
			WithMessage(name+" must be an RFC3339 timestamp").
			WithDetail(name, raw)
	}
	return &t, nil
}

// intQuery returns 0 for an absent parameter
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, services.ErrInvalidInput.
			WithMessage(name+" must be a non-negative integer").
			WithDetail(name, raw)
	}
	return n, nil
}
