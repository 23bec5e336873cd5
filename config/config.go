package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit logs. When nil, audit uses main DB.
	Token         TokenConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Audit         AuditConfig
	RBAC          RBACConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// TokenConfig holds signing material and lifetimes for access/refresh tokens.
// PEM values win over file paths. A node with only a public key or a JWKS URL verifies but never issues.
type TokenConfig struct {
	PrivateKeyPEM     string
	PublicKeyPEM      string
	PrivateKeyFile    string
	PublicKeyFile     string
	KeyID             string
	JWKSURL           string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RevocationEnabled bool
}

// RateLimitConfig holds fixed-window rate limit settings
type RateLimitConfig struct {
	Window          time.Duration
	DefaultLimit    int
	Store           string // memory or redis
	TenantOverrides map[string]int
	CleanupInterval time.Duration
}

// RedisConfig holds the shared cache connection used by multi-instance deployments
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuditConfig holds audit recorder queue settings
type AuditConfig struct {
	BufferSize   int
	WorkerCount  int
	WriteTimeout time.Duration
	StopTimeout  time.Duration
}

// RBACConfig points at the catalog seed used at provisioning time
type RBACConfig struct {
	SeedFile        string
	PermissionCache time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	LogOutput      string // stdout, stderr or file
	LogFile        string
	LogMaxSizeMB   int
	LogMaxBackups  int
	LogMaxAgeDays  int
	MetricsEnabled bool
	MetricsPath    string
}

// CORSConfig holds allowed origins for browser clients
type CORSConfig struct {
	AllowedOrigins []string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Token: TokenConfig{
			PrivateKeyPEM:     getEnv("TOKEN_PRIVATE_KEY", ""),
			PublicKeyPEM:      getEnv("TOKEN_PUBLIC_KEY", ""),
			PrivateKeyFile:    getEnv("TOKEN_PRIVATE_KEY_FILE", ""),
			PublicKeyFile:     getEnv("TOKEN_PUBLIC_KEY_FILE", ""),
			KeyID:             getEnv("TOKEN_KEY_ID", "tenantguard-1"),
			JWKSURL:           getEnv("TOKEN_JWKS_URL", ""),
			AccessTTL:         getEnvAsDuration("TOKEN_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:        getEnvAsDuration("TOKEN_REFRESH_TTL", 7*24*time.Hour),
			RevocationEnabled: getEnvAsBool("TOKEN_REVOCATION_ENABLED", false),
		},
		RateLimit: RateLimitConfig{
			Window:          getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			DefaultLimit:    getEnvAsInt("RATE_LIMIT_DEFAULT", 100),
			Store:           strings.ToLower(getEnv("RATE_LIMIT_STORE", "memory")),
			TenantOverrides: getEnvAsIntMap("RATE_LIMIT_TENANT_OVERRIDES"),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Audit: AuditConfig{
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:  getEnvAsInt("AUDIT_WORKER_COUNT", 5),
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
			StopTimeout:  getEnvAsDuration("AUDIT_STOP_TIMEOUT", 10*time.Second),
		},
		RBAC: RBACConfig{
			SeedFile:        getEnv("RBAC_SEED_FILE", ""),
			PermissionCache: getEnvAsDuration("RBAC_PERMISSION_CACHE_TTL", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			LogOutput:      getEnv("LOG_OUTPUT", "stdout"),
			LogFile:        getEnv("LOG_FILE", "logs/tenantguard.log"),
			LogMaxSizeMB:   getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			LogMaxBackups:  getEnvAsInt("LOG_MAX_BACKUPS", 3),
			LogMaxAgeDays:  getEnvAsInt("LOG_MAX_AGE_DAYS", 7),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	// Production nodes must carry real key material; development may fall back to an ephemeral pair
	if c.IsProduction() && !c.Token.HasKeyMaterial() {
		return fmt.Errorf("token keys are required in production: set TOKEN_PRIVATE_KEY/TOKEN_PUBLIC_KEY, key files or TOKEN_JWKS_URL")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.DefaultLimit <= 0 {
		return fmt.Errorf("default rate limit must be positive")
	}
	if c.RateLimit.Store != "memory" && c.RateLimit.Store != "redis" {
		return fmt.Errorf("rate limit store must be memory or redis, got %q", c.RateLimit.Store)
	}

	if c.Audit.BufferSize <= 0 || c.Audit.WorkerCount <= 0 {
		return fmt.Errorf("audit buffer size and worker count must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if c.Observability.LogOutput == "file" && c.Observability.LogFile == "" {
		return fmt.Errorf("log file path is required when LOG_OUTPUT=file")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// UsesRedis reports whether the shared Redis connection is needed. The
// revocation list follows the rate limit store.
func (c *Config) UsesRedis() bool {
	return c.RateLimit.Store == "redis"
}

// HasKeyMaterial reports whether signing or verification keys were supplied
func (t *TokenConfig) HasKeyMaterial() bool {
	return t.PrivateKeyPEM != "" || t.PrivateKeyFile != "" ||
		t.PublicKeyPEM != "" || t.PublicKeyFile != "" ||
		t.JWKSURL != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "tenantguard"),
		Password:        getEnv("DB_PASSWORD", "tenantguard"),
		Database:        getEnv("DB_NAME", "tenantguard"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsIntMap parses "a=1,b=2". Malformed pairs are skipped.
func getEnvAsIntMap(key string) map[string]int {
	out := make(map[string]int)
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return out
	}
	for _, pair := range strings.Split(valueStr, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			continue
		}
		out[strings.TrimSpace(k)] = n
	}
	return out
}
