package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/handlers"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/repositories/postgres"
	"github.com/upb/tenantguard/services/audit"
	"github.com/upb/tenantguard/services/provisioning"
	"github.com/upb/tenantguard/services/ratelimit"
	"github.com/upb/tenantguard/services/rbac"
	"github.com/upb/tenantguard/services/session"
	"github.com/upb/tenantguard/services/tenant"
	"github.com/upb/tenantguard/services/token"
	"github.com/upb/tenantguard/utils"
)

const (
	redisKeyPrefix     = "tenantguard:"
	jwksCacheTTL       = time.Hour
	jwksHTTPTimeout    = 10 * time.Second
	ephemeralKeyBits   = 2048
	tenantCacheTTL     = 30 * time.Second
	redisPingTimeout   = 5 * time.Second
	revocationSweepGap = time.Minute
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Redis   redis.UniversalClient

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	Tokens   *token.Service
	Tenants  *tenant.StoreLookup
	Resolver *tenant.Resolver
	Governor *ratelimit.Governor
	RBAC     *rbac.Engine
	Audit    *audit.Recorder
	Sessions *session.Service

	Provisioning *provisioning.Service

	// Middleware
	AuthMiddleware   *middleware.AuthMiddleware
	PolicyMiddleware *middleware.PolicyEnforcementMiddleware

	// Handlers
	HealthHandler     *handlers.HealthHandler
	AuthHandler       *handlers.AuthHandler
	TenantHandler     *handlers.TenantHandler
	RoleHandler       *handlers.RoleHandler
	AssignmentHandler *handlers.AssignmentHandler
	AuditHandler      *handlers.AuditHandler
	JWKSHandler       *handlers.JWKSHandler

	// background workers (rate counter and revocation sweeps)
	workerCtx   context.Context
	stopWorkers context.CancelFunc
	workers     sync.WaitGroup
	closeOnce   sync.Once
}

// NewDependencies opens the databases and wires every component
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// NewDependenciesWithFactory closes the factory itself on failure
	return NewDependenciesWithFactory(ctx, cfg, logger, factory)
}

// NewDependenciesWithFactory wires every component on top of an open repository factory
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger, factory *postgres.RepositoryFactory) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}
	utils.ExposeErrorCauses(cfg.IsDevelopment())

	deps.initRepositories()

	if err := deps.initRedis(ctx); err != nil {
		deps.shutdown()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := deps.initTokens(); err != nil {
		deps.shutdown()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	deps.initTenancy()
	deps.initRateLimit()

	if err := deps.initAudit(); err != nil {
		deps.shutdown()
		return nil, fmt.Errorf("failed to initialize audit recorder: %w", err)
	}

	deps.initRBAC()
	deps.initSessions()
	deps.initHTTP()

	logger.Info("all dependencies initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("can_issue_tokens", deps.Tokens.CanIssue()),
		zap.String("rate_limit_store", cfg.RateLimit.Store))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initRedis connects the shared Redis client when a component needs it
func (d *Dependencies) initRedis(ctx context.Context) error {
	if !d.Config.UsesRedis() {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     d.Config.Redis.Addr,
		Password: d.Config.Redis.Password,
		DB:       d.Config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Logger.Info("redis connection established", zap.String("addr", d.Config.Redis.Addr))
	return nil
}

// initTokens builds the token service from configured keys, a remote JWKS or,
// outside production, an ephemeral key pair
func (d *Dependencies) initTokens() error {
	cfg := d.Config.Token
	opts := []token.Option{
		token.WithKeyID(cfg.KeyID),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
		token.WithMetrics(d.Metrics),
	}

	km, err := token.LoadKeyMaterial(cfg.PrivateKeyPEM, cfg.PublicKeyPEM, cfg.PrivateKeyFile, cfg.PublicKeyFile)
	if err != nil {
		return err
	}
	opts = append(opts, token.WithKeyMaterial(km))

	if cfg.JWKSURL != "" {
		keySet := token.NewRemoteKeySet(cfg.JWKSURL, &http.Client{Timeout: jwksHTTPTimeout}, jwksCacheTTL)
		opts = append(opts, token.WithKeyResolver(keySet))
		d.Logger.Info("verifying tokens against remote key set", zap.String("jwks_url", cfg.JWKSURL))
	}

	if km.Public == nil && cfg.JWKSURL == "" {
		if d.Config.IsProduction() {
			return errors.New("no token keys configured")
		}
		key, err := token.GenerateKeyPair(ephemeralKeyBits)
		if err != nil {
			return err
		}
		opts = append(opts, token.WithSigningKey(key))
		d.Logger.Warn("no token keys configured, using an ephemeral key pair; tokens will not survive a restart")
	}

	if cfg.RevocationEnabled {
		opts = append(opts, token.WithRevocationList(d.newRevocationList()))
	}

	tokens, err := token.NewService(d.Logger.Named("token"), opts...)
	if err != nil {
		return err
	}
	d.Tokens = tokens
	return nil
}

func (d *Dependencies) newRevocationList() token.RevocationList {
	if d.Redis != nil {
		return token.NewRedisRevocationList(d.Redis, redisKeyPrefix+"revoked:")
	}
	list := token.NewMemoryRevocationList()
	d.runWorker(func(ctx context.Context) { list.StartCleanupWorker(ctx, revocationSweepGap) })
	return list
}

// initTenancy wires tenant lookup, the resolver and the tenant middleware
func (d *Dependencies) initTenancy() {
	d.Tenants = tenant.NewStoreLookup(d.Repos.Tenants, tenantCacheTTL, d.Logger.Named("tenant"), d.Metrics)
	d.Resolver = tenant.NewResolver(d.Tokens, d.Tenants, d.Logger.Named("tenant"), d.Metrics)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Resolver, d.Logger)
}

// initRateLimit picks the counter store and builds the governor
func (d *Dependencies) initRateLimit() {
	cfg := d.Config.RateLimit

	var store ratelimit.CounterStore
	if cfg.Store == "redis" {
		store = ratelimit.NewRedisStore(d.Redis, redisKeyPrefix+"ratelimit:")
	} else {
		mem := ratelimit.NewMemoryStore(d.Logger.Named("ratelimit"))
		d.runWorker(func(ctx context.Context) { mem.StartCleanupWorker(ctx, cfg.CleanupInterval) })
		store = mem
	}

	limits := ratelimit.NewTenantLimits(cfg.DefaultLimit, cfg.TenantOverrides, d.Tenants, d.Logger.Named("ratelimit"))
	d.Governor = ratelimit.NewGovernor(store, limits, d.Logger.Named("ratelimit"),
		ratelimit.WithWindow(cfg.Window),
		ratelimit.WithMetrics(d.Metrics))
}

// initAudit starts the audit recorder workers
func (d *Dependencies) initAudit() error {
	d.Audit = audit.NewRecorder(d.Repos.AuditLogs, d.Logger.Named("audit"), d.Metrics, audit.Config{
		BufferSize:   d.Config.Audit.BufferSize,
		WorkerCount:  d.Config.Audit.WorkerCount,
		WriteTimeout: d.Config.Audit.WriteTimeout,
	})
	return d.Audit.Start()
}

func (d *Dependencies) initRBAC() {
	d.RBAC = rbac.NewEngine(d.Repos, d.TxManager, d.Audit, d.Logger.Named("rbac"),
		rbac.WithPermissionCacheTTL(d.Config.RBAC.PermissionCache),
		rbac.WithMetrics(d.Metrics))
	d.PolicyMiddleware = middleware.NewPolicyEnforcementMiddleware(d.RBAC, d.Governor, d.Logger)
}

func (d *Dependencies) initSessions() {
	d.Sessions = session.NewService(d.Tokens, d.Repos.Users, d.RBAC, d.Tenants, d.Audit, d.Logger.Named("session"))
	d.Provisioning = provisioning.NewService(d.Repos, d.RBAC, d.Audit, d.Logger.Named("provisioning"))
}

// initHTTP builds the request handlers
func (d *Dependencies) initHTTP() {
	var healthOpts []handlers.HealthOption
	if auditDB := d.RepoFactory.GetAuditDB(); auditDB != nil {
		healthOpts = append(healthOpts, handlers.WithAuditDB(auditDB.DB))
	}
	if d.Redis != nil {
		healthOpts = append(healthOpts, handlers.WithRedis(d.Redis))
	}

	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Logger, healthOpts...)
	d.AuthHandler = handlers.NewAuthHandler(d.Sessions, !d.Config.IsDevelopment(), d.Logger)
	d.TenantHandler = handlers.NewTenantHandler(d.Logger)
	d.RoleHandler = handlers.NewRoleHandler(d.RBAC, d.Logger)
	d.AssignmentHandler = handlers.NewAssignmentHandler(d.RBAC, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Audit, d.Logger)
	d.JWKSHandler = handlers.NewJWKSHandler(d.Tokens, d.Logger)
}

// SyncCatalog provisions the RBAC permission catalog and system roles
func (d *Dependencies) SyncCatalog(ctx context.Context) (*rbac.CatalogResult, error) {
	data, err := config.LoadRBACSeed(d.Config.RBAC.SeedFile)
	if err != nil {
		return nil, err
	}
	catalog, err := rbac.ParseCatalog(data)
	if err != nil {
		return nil, err
	}

	result, err := d.RBAC.EnsureCatalog(ctx, catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to sync RBAC catalog: %w", err)
	}
	d.Logger.Info("rbac catalog synced",
		zap.Int("permissions", result.Permissions),
		zap.Int("roles_created", result.RolesCreated),
		zap.Int("roles_synced", result.RolesSynced))
	return result, nil
}

// runWorker starts fn on its own goroutine; it must return once ctx is done
func (d *Dependencies) runWorker(fn func(ctx context.Context)) {
	if d.stopWorkers == nil {
		ctx, cancel := context.WithCancel(context.Background())
		d.stopWorkers = cancel
		d.workerCtx = ctx
	}
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		fn(d.workerCtx)
	}()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")
		err = d.shutdown()
	})
	return err
}

func (d *Dependencies) shutdown() error {
	var errs []error

	// Drain queued audit entries before the database goes away
	if d.Audit != nil {
		if err := d.Audit.Stop(d.Config.Audit.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit recorder: %w", err))
		}
	}

	if d.stopWorkers != nil {
		d.stopWorkers()
		d.workers.Wait()
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
