package postgres

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/repositories"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for audit logs
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDB builds a factory over pools opened elsewhere.
// auditDB may be nil.
func NewRepositoryFactoryFromDB(db, auditDB *sql.DB, logger *zap.Logger) *RepositoryFactory {
	f := &RepositoryFactory{db: &DB{DB: db, logger: logger}, logger: logger}
	if auditDB != nil {
		f.auditDB = &DB{DB: auditDB, logger: logger}
	}
	return f
}

// InitSchema creates the main schema and, when configured, the separate audit schema
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	if f.auditDB != nil {
		return f.auditDB.InitAuditSchema(ctx)
	}
	return nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	return &repositories.Repositories{
		Tenants:     NewTenantRepository(f.db, f.logger),
		Users:       NewUserRepository(f.db, f.logger),
		Roles:       NewRoleRepository(f.db, f.logger),
		Permissions: NewPermissionRepository(f.db, f.logger),
		Assignments: NewAssignmentRepository(f.db, f.logger),
		AuditLogs:   NewAuditRepository(auditDB, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// GetAuditDB returns the separate audit database, or nil when audit logs share the main one
func (f *RepositoryFactory) GetAuditDB() *DB {
	return f.auditDB
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
