package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

const auditColumns = `id, tenant_id, actor_id, actor_name, actor_email, actor_role, action,
	entity_type, entity_id, entity_name, old_values, new_values, metadata,
	severity, category, ip_address, user_agent, request_id, description, timestamp`

// groupable columns for CountBy
var auditGroupColumns = map[string]bool{
	"category":    true,
	"severity":    true,
	"entity_type": true,
}

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.TenantID,
		log.ActorID,
		log.ActorName,
		log.ActorEmail,
		log.ActorRole,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.EntityName,
		nullableJSON(log.OldValues),
		nullableJSON(log.NewValues),
		nullableJSON(log.Metadata),
		log.Severity,
		log.Category,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Description,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`
	args := []interface{}{id}
	if tenantID != nil {
		query += ` AND tenant_id = $2`
		args = append(args, *tenantID)
	}

	executor := GetExecutor(ctx, r.db)
	log, err := scanAuditLog(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, wrapReadError("audit log", id, err)
	}
	return log, nil
}

// Query retrieves one page of matching entries and the total match count
func (r *AuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, int, error) {
	filter.Normalize()
	where, args := buildAuditWhere(filter)
	executor := GetExecutor(ctx, r.db)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_logs` + where
	if err := executor.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.PageSize, filter.Offset())

	logs, err := r.queryLogs(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// CountBy groups entries since a point in time by column
func (r *AuditRepository) CountBy(ctx context.Context, column string, tenantID *uuid.UUID, since time.Time) (map[string]int, error) {
	if !auditGroupColumns[column] {
		return nil, fmt.Errorf("unsupported audit group column %q", column)
	}

	query := `SELECT ` + column + `, COUNT(*) FROM audit_logs WHERE timestamp >= $1`
	args := []interface{}{since}
	if tenantID != nil {
		query += ` AND tenant_id = $2`
		args = append(args, *tenantID)
	}
	query += ` GROUP BY ` + column

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		counts[key] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit count rows: %w", err)
	}
	return counts, nil
}

// Recent retrieves the latest entries
func (r *AuditRepository) Recent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*models.AuditLog, error) {
	if tenantID != nil {
		return r.queryLogs(ctx,
			`SELECT `+auditColumns+` FROM audit_logs WHERE tenant_id = $1 ORDER BY timestamp DESC LIMIT $2`,
			*tenantID, limit)
	}
	return r.queryLogs(ctx,
		`SELECT `+auditColumns+` FROM audit_logs ORDER BY timestamp DESC LIMIT $1`,
		limit)
}

// DeleteBefore hard-deletes entries older than cutoff
func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time, tenantID *uuid.UUID) (int64, error) {
	query := `DELETE FROM audit_logs WHERE timestamp < $1`
	args := []interface{}{cutoff}
	if tenantID != nil {
		query += ` AND tenant_id = $2`
		args = append(args, *tenantID)
	}

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to archive audit logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("audit logs archived",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff", cutoff))
	return rowsAffected, nil
}

func (r *AuditRepository) queryLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.AuditLog{}
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return logs, nil
}

// buildAuditWhere renders the filter as a WHERE clause with positional args
func buildAuditWhere(f models.AuditFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.TenantID != nil {
		add("tenant_id = $%d", *f.TenantID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("(action ILIKE $%[1]d OR entity_type ILIKE $%[1]d OR entity_name ILIKE $%[1]d OR description ILIKE $%[1]d OR actor_name ILIKE $%[1]d)",
			"%"+s+"%")
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	var (
		log                        models.AuditLog
		tenantID, actorID          uuid.NullUUID
		oldValues, newValues, meta []byte
	)
	err := row.Scan(
		&log.ID,
		&tenantID,
		&actorID,
		&log.ActorName,
		&log.ActorEmail,
		&log.ActorRole,
		&log.Action,
		&log.EntityType,
		&log.EntityID,
		&log.EntityName,
		&oldValues,
		&newValues,
		&meta,
		&log.Severity,
		&log.Category,
		&log.IPAddress,
		&log.UserAgent,
		&log.RequestID,
		&log.Description,
		&log.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if tenantID.Valid {
		log.TenantID = &tenantID.UUID
	}
	if actorID.Valid {
		log.ActorID = &actorID.UUID
	}
	log.OldValues = rawOrNil(oldValues)
	log.NewValues = rawOrNil(newValues)
	log.Metadata = rawOrNil(meta)
	return &log, nil
}

// nullableJSON stores empty payloads as SQL NULL
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
