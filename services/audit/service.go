// Package audit records the immutable audit trail and answers queries over it.
// Writes go through a bounded queue drained by a worker pool so a slow audit
// store never blocks the request that triggered the entry.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
)

// ErrQueueFull is returned by Record when the entry was dropped
var ErrQueueFull = errors.New("audit queue full")

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// Config holds configuration for the Recorder
type Config struct {
	BufferSize   int           // capacity of the entry queue
	WorkerCount  int           // concurrent writers
	WriteTimeout time.Duration // per-write deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes and queries audit entries
type Recorder struct {
	repo    repositories.AuditRepository
	logger  *zap.Logger
	metrics *observability.Metrics

	queue        chan *models.AuditLog
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	now          func() time.Time

	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder creates a Recorder. Call Start to begin draining the queue;
// until then Record writes inline.
func NewRecorder(repo repositories.AuditRepository, logger *zap.Logger, metrics *observability.Metrics, cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{
		repo:         repo,
		logger:       logger,
		metrics:      metrics,
		queue:        make(chan *models.AuditLog, cfg.BufferSize),
		workerCount:  cfg.WorkerCount,
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
	}
}

// Start starts the background workers
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("audit recorder already started")
	}
	if r.stopped {
		return fmt.Errorf("audit recorder already stopped")
	}

	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started audit recorder",
		zap.Int("worker_count", r.workerCount),
		zap.Int("buffer_size", r.bufferSize))
	return nil
}

// Stop stops accepting queued entries and waits for pending ones to be written
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("audit recorder not running")
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.logger.Info("stopping audit recorder", zap.Int("pending_entries", len(r.queue)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("audit recorder stopped gracefully",
			zap.Int64("written", r.written.Load()),
			zap.Int64("dropped", r.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit recorder stop timeout after %v", timeout)
	}
}

// Record queues an entry without blocking. A full queue drops the entry and
// returns ErrQueueFull. Before Start and after Stop the entry is written inline.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditLog) error {
	r.mu.RLock()
	if !r.started || r.stopped {
		r.mu.RUnlock()
		return r.RecordSync(ctx, entry)
	}

	select {
	case r.queue <- entry:
		r.mu.RUnlock()
		r.metrics.AuditEvent("queued")
		r.metrics.AuditQueueDepth(len(r.queue))
		return nil
	default:
		r.mu.RUnlock()
		r.dropped.Add(1)
		r.metrics.AuditEvent("dropped")
		r.logger.Warn("audit queue full, dropping entry",
			zap.String("action", string(entry.Action)),
			zap.String("entity_id", entry.EntityID),
			zap.Stringp("tenant_id", uuidString(entry.TenantID)))
		return ErrQueueFull
	}
}

// RecordSync writes an entry before returning
func (r *Recorder) RecordSync(ctx context.Context, entry *models.AuditLog) error {
	if err := r.write(ctx, entry); err != nil {
		r.logger.Error("failed to write audit entry",
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return err
	}
	return nil
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range r.queue {
		r.metrics.AuditQueueDepth(len(r.queue))
		if err := r.write(context.Background(), entry); err != nil {
			r.logger.Error("failed to process audit entry",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(entry.Action)),
				zap.Stringp("tenant_id", uuidString(entry.TenantID)))
		}
	}

	r.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// write inserts under the per-write timeout. The caller's cancellation is
// ignored so an entry outlives the request that produced it.
func (r *Recorder) write(ctx context.Context, entry *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, entry); err != nil {
		r.metrics.AuditEvent("failed")
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	r.written.Add(1)
	r.metrics.AuditEvent("written")
	return nil
}

// Stats represents recorder statistics
type Stats struct {
	BufferSize     int   `json:"buffer_size"`
	PendingEntries int   `json:"pending_entries"`
	WorkerCount    int   `json:"worker_count"`
	Written        int64 `json:"written"`
	Dropped        int64 `json:"dropped"`
	Running        bool  `json:"running"`
}

// GetStats returns queue statistics
func (r *Recorder) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		BufferSize:     r.bufferSize,
		PendingEntries: len(r.queue),
		WorkerCount:    r.workerCount,
		Written:        r.written.Load(),
		Dropped:        r.dropped.Load(),
		Running:        r.started && !r.stopped,
	}
}

// Query returns one page of entries, newest first
func (r *Recorder) Query(ctx context.Context, filter models.AuditFilter) (*models.AuditPage, error) {
	filter.Normalize()
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, services.ErrInvalidInput.WithMessage("from must not be after to")
	}

	logs, total, err := r.repo.Query(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to query audit logs", err)
	}
	return &models.AuditPage{
		Logs:     logs,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// Get returns one entry. A non-nil tenantID hides entries of other tenants.
func (r *Recorder) Get(ctx context.Context, tenantID *uuid.UUID, id uuid.UUID) (*models.AuditLog, error) {
	log, err := r.repo.GetByID(ctx, id, tenantID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrAuditLogNotFound.WithDetail("id", id.String())
	}
	if err != nil {
		return nil, services.WrapInternal("failed to get audit log", err)
	}
	return log, nil
}

// Stats counts entries since a point in time by category, severity and
// entity type, with the most recent entries attached.
func (r *Recorder) Stats(ctx context.Context, tenantID *uuid.UUID, since time.Time) (*models.AuditStats, error) {
	stats := &models.AuditStats{Since: since}

	groups := []struct {
		column string
		dest   *map[string]int
	}{
		{"category", &stats.ByCategory},
		{"severity", &stats.BySeverity},
		{"entity_type", &stats.ByEntityType},
	}
	for _, g := range groups {
		counts, err := r.repo.CountBy(ctx, g.column, tenantID, since)
		if err != nil {
			return nil, services.WrapInternal("failed to compute audit stats", err)
		}
		*g.dest = counts
	}
	for _, n := range stats.ByCategory {
		stats.Total += n
	}

	recent, err := r.repo.Recent(ctx, tenantID, defaultRecentLimit)
	if err != nil {
		return nil, services.WrapInternal("failed to load recent audit logs", err)
	}
	stats.Recent = recent
	return stats, nil
}

// Recent returns the latest entries. limit is clamped to [1, 100], 0 selects 10.
func (r *Recorder) Recent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*models.AuditLog, error) {
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}
	logs, err := r.repo.Recent(ctx, tenantID, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to load recent audit logs", err)
	}
	return logs, nil
}

// Archive hard-deletes entries older than before within the actor's tenant
// (every tenant for an actor without one) and records the archival itself.
func (r *Recorder) Archive(ctx context.Context, actor models.Actor, before time.Time) (int64, error) {
	if before.IsZero() || !before.Before(r.now()) {
		return 0, services.ErrInvalidInput.
			WithMessage("archive cutoff must be in the past").
			WithDetail("before", before)
	}

	deleted, err := r.repo.DeleteBefore(ctx, before, actor.TenantID)
	if err != nil {
		r.logger.Error("failed to archive audit logs", zap.Time("before", before), zap.Error(err))
		return 0, services.WrapInternal("failed to archive audit logs", err)
	}

	scope := "all tenants"
	if actor.TenantID != nil {
		scope = "tenant " + actor.TenantID.String()
	}
	entry := models.NewAuditLog(models.AuditActionLogsArchived, models.EntityAuditLog, models.SeverityHigh, models.CategorySystem).
		WithActor(actor).
		WithMetadata(map[string]interface{}{
			"before":  before.UTC().Format(time.RFC3339),
			"deleted": deleted,
			"scope":   scope,
		}).
		WithDescription(fmt.Sprintf("Archived %d audit entries older than %s (%s)", deleted, before.UTC().Format(time.RFC3339), scope))
	if err := r.RecordSync(ctx, entry); err != nil {
		r.logger.Warn("archive completed but could not be audited", zap.Error(err))
	}

	return deleted, nil
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
