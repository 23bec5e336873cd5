package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
)

// MaxExportRows bounds a single export
const MaxExportRows = 50000

// ExportColumns is the CSV header row
var ExportColumns = []string{
	"timestamp", "action", "entity_name", "entity_id", "actor_name", "actor_email",
	"ip_address", "user_agent", "severity", "category", "description",
	"old_values", "new_values", "metadata",
}

// Export streams every entry matching filter to w as CSV, newest first,
// and records the export. It returns the number of rows written.
func (r *Recorder) Export(ctx context.Context, actor models.Actor, w io.Writer, filter models.AuditFilter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}

	filter.Page = 1
	filter.PageSize = models.MaxAuditPageSize
	rows := 0
	for rows < MaxExportRows {
		page, err := r.Query(ctx, filter)
		if err != nil {
			return rows, err
		}
		for _, log := range page.Logs {
			if err := cw.Write(exportRow(log)); err != nil {
				return rows, fmt.Errorf("failed to write csv row: %w", err)
			}
			rows++
		}
		if len(page.Logs) < filter.PageSize || filter.Page*filter.PageSize >= page.Total {
			break
		}
		filter.Page++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("failed to flush csv: %w", err)
	}
	if rows >= MaxExportRows {
		r.logger.Warn("audit export truncated", zap.Int("rows", rows))
	}

	entry := models.NewAuditLog(models.AuditActionLogsExported, models.EntityAuditLog, models.SeverityMedium, models.CategoryData).
		WithActor(actor).
		WithMetadata(exportMetadata(filter, rows)).
		WithDescription(fmt.Sprintf("Exported %d audit entries", rows))
	if err := r.Record(ctx, entry); err != nil {
		r.logger.Warn("export completed but could not be audited", zap.Error(err))
	}
	return rows, nil
}

func exportRow(log *models.AuditLog) []string {
	return []string{
		log.Timestamp.UTC().Format(time.RFC3339),
		string(log.Action),
		log.EntityName,
		log.EntityID,
		log.ActorName,
		log.ActorEmail,
		log.IPAddress,
		log.UserAgent,
		string(log.Severity),
		string(log.Category),
		log.Description,
		string(log.OldValues),
		string(log.NewValues),
		string(log.Metadata),
	}
}

func exportMetadata(f models.AuditFilter, rows int) map[string]interface{} {
	meta := map[string]interface{}{"rows": rows}
	if f.Search != "" {
		meta["search"] = f.Search
	}
	if f.Category != "" {
		meta["category"] = f.Category
	}
	if f.Severity != "" {
		meta["severity"] = f.Severity
	}
	if f.EntityType != "" {
		meta["entity_type"] = f.EntityType
	}
	if f.From != nil {
		meta["from"] = f.From.UTC().Format(time.RFC3339)
	}
	if f.To != nil {
		meta["to"] = f.To.UTC().Format(time.RFC3339)
	}
	return meta
}
