package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.insertedLogs = append(m.insertedLogs, log)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, id, tenantID)
	if log := args.Get(0); log != nil {
		return log.(*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, int, error) {
	args := m.Called(ctx, filter)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}

func (m *MockAuditRepository) CountBy(ctx context.Context, column string, tenantID *uuid.UUID, since time.Time) (map[string]int, error) {
	args := m.Called(ctx, column, tenantID, since)
	if counts := args.Get(0); counts != nil {
		return counts.(map[string]int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) Recent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, tenantID, limit)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time, tenantID *uuid.UUID) (int64, error) {
	args := m.Called(ctx, cutoff, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

var _ repositories.AuditRepository = (*MockAuditRepository)(nil)

func roleCreated() *models.AuditLog {
	return models.NewAuditLog(models.AuditActionRoleCreated, models.EntityRole, models.SeverityMedium, models.CategoryRBAC).
		WithActor(models.SystemActor()).
		WithEntity(uuid.NewString(), "shift_lead")
}

func TestRecorder_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, recorder.Start())

	stats := recorder.GetStats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, recorder.Start())

	require.NoError(t, recorder.Stop(5*time.Second))
	assert.False(t, recorder.GetStats().Running)
	assert.Error(t, recorder.Stop(time.Second))
}

func TestRecorder_RecordIsDrainedOnStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, recorder.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, recorder.Record(context.Background(), roleCreated()))
	}
	require.NoError(t, recorder.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 50)
	assert.Equal(t, int64(50), recorder.GetStats().Written)
}

func TestRecorder_ConcurrentRecording(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, recorder.Start())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = recorder.Record(context.Background(), roleCreated())
			}
		}()
	}
	wg.Wait()
	require.NoError(t, recorder.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 100)
}

func TestRecorder_RecordSurvivesCancelledRequest(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, recorder.Record(ctx, roleCreated()))
	assert.Len(t, mockRepo.GetInsertedLogs(), 1)
}

func TestRecorder_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 5, WorkerCount: 1})
	require.NoError(t, recorder.Start())

	var dropped int
	for i := 0; i < 20; i++ {
		if err := recorder.Record(context.Background(), roleCreated()); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}

	// one entry is held by the blocked worker, five sit in the queue
	assert.GreaterOrEqual(t, dropped, 14)
	assert.Equal(t, int64(dropped), recorder.GetStats().Dropped)

	close(release)
	require.NoError(t, recorder.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), 20-dropped)
}

func TestRecorder_RecordSyncError(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
	err := recorder.RecordSync(context.Background(), roleCreated())
	assert.Error(t, err)
}

func TestRecorder_Query(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("normalizes pagination", func(t *testing.T) {
		mockRepo := new(MockAuditRepository)
		mockRepo.On("Query", ctx, mock.MatchedBy(func(f models.AuditFilter) bool {
			return f.Page == 1 && f.PageSize == models.MaxAuditPageSize && *f.TenantID == tenantID
		})).Return([]*models.AuditLog{roleCreated()}, 1, nil)

		recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
		page, err := recorder.Query(ctx, models.AuditFilter{TenantID: &tenantID, PageSize: 5000})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, models.MaxAuditPageSize, page.PageSize)
		mockRepo.AssertExpectations(t)
	})

	t.Run("rejects inverted date range", func(t *testing.T) {
		recorder := NewRecorder(new(MockAuditRepository), zap.NewNop(), nil, DefaultConfig())
		from := time.Now()
		to := from.Add(-time.Hour)
		_, err := recorder.Query(ctx, models.AuditFilter{From: &from, To: &to})
		assert.ErrorIs(t, err, services.ErrInvalidInput)
	})
}

func TestRecorder_Get(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	id := uuid.New()

	mockRepo := new(MockAuditRepository)
	mockRepo.On("GetByID", ctx, id, &tenantID).Return(nil, repositories.ErrNotFound)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
	_, err := recorder.Get(ctx, &tenantID, id)
	assert.ErrorIs(t, err, services.ErrAuditLogNotFound)
}

func TestRecorder_Stats(t *testing.T) {
	ctx := context.Background()
	since := time.Now().Add(-24 * time.Hour)
	tenantID := uuid.New()

	mockRepo := new(MockAuditRepository)
	mockRepo.On("CountBy", ctx, "category", &tenantID, since).Return(map[string]int{"rbac": 3, "authentication": 7}, nil)
	mockRepo.On("CountBy", ctx, "severity", &tenantID, since).Return(map[string]int{"medium": 9, "high": 1}, nil)
	mockRepo.On("CountBy", ctx, "entity_type", &tenantID, since).Return(map[string]int{"role": 3, "user": 7}, nil)
	mockRepo.On("Recent", ctx, &tenantID, 10).Return([]*models.AuditLog{roleCreated()}, nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
	stats, err := recorder.Stats(ctx, &tenantID, since)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 1, stats.BySeverity["high"])
	assert.Equal(t, 7, stats.ByEntityType["user"])
	assert.Len(t, stats.Recent, 1)
}

func TestRecorder_RecentClampsLimit(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Recent", ctx, (*uuid.UUID)(nil), 100).Return([]*models.AuditLog{}, nil)
	mockRepo.On("Recent", ctx, (*uuid.UUID)(nil), 10).Return([]*models.AuditLog{}, nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
	_, err := recorder.Recent(ctx, nil, 5000)
	require.NoError(t, err)
	_, err = recorder.Recent(ctx, nil, 0)
	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestRecorder_Archive(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	actorID := uuid.New()
	actor := models.Actor{ID: &actorID, TenantID: &tenantID, Name: "Owner", Role: models.RoleAdmin}

	t.Run("cutoff must be in the past", func(t *testing.T) {
		mockRepo := new(MockAuditRepository)
		recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())

		_, err := recorder.Archive(ctx, actor, time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, services.ErrInvalidInput)
		mockRepo.AssertNotCalled(t, "DeleteBefore", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("deletes within the tenant and audits itself", func(t *testing.T) {
		cutoff := time.Now().AddDate(0, -6, 0)
		mockRepo := new(MockAuditRepository)
		mockRepo.On("DeleteBefore", ctx, cutoff, &tenantID).Return(int64(42), nil)
		mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

		recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
		n, err := recorder.Archive(ctx, actor, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)

		logs := mockRepo.GetInsertedLogs()
		require.Len(t, logs, 1)
		assert.Equal(t, models.AuditActionLogsArchived, logs[0].Action)
		assert.Equal(t, models.SeverityHigh, logs[0].Severity)
		assert.Equal(t, models.CategorySystem, logs[0].Category)
		assert.Contains(t, string(logs[0].Metadata), `"deleted":42`)
	})
}

func TestRecorder_Export(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	first := roleCreated().WithDescription(`Created role "shift_lead", with comma`)
	first.IPAddress = "10.0.0.7"
	second := roleCreated()

	mockRepo := new(MockAuditRepository)
	mockRepo.On("Query", ctx, mock.MatchedBy(func(f models.AuditFilter) bool { return f.Page == 1 })).
		Return([]*models.AuditLog{first, second}, 2, nil)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())

	var buf bytes.Buffer
	n, err := recorder.Export(ctx, models.Actor{TenantID: &tenantID, Name: "Owner"}, &buf, models.AuditFilter{TenantID: &tenantID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ExportColumns, records[0])
	assert.Equal(t, "role.created", records[1][1])
	assert.Equal(t, "10.0.0.7", records[1][6])
	assert.Equal(t, `Created role "shift_lead", with comma`, records[1][10])

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionLogsExported, logs[0].Action)
}
