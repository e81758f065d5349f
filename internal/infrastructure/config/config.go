package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Storage        StorageConfig
	Ingestion      IngestionConfig
	Reconciliation ReconciliationConfig
	PaymentBatch   PaymentBatchConfig
	Audit          AuditConfig
	Telemetry      TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name     string
	Env      string
	Port     string
	Timezone string // statement dates without offset are read in this zone
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	SlowQueryThresh time.Duration
	MigrateOnStart  bool // apply embedded migrations before serving
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds the settings used to verify actor tokens
type JWTConfig struct {
	Secret   string
	Issuer   string
	Required bool // reject requests without a bearer token
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	TrustedProxies   []string
}

// StorageConfig selects and configures the artifact store
type StorageConfig struct {
	Driver          string // s3, memory
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// IngestionConfig holds invoice ingestion limits
type IngestionConfig struct {
	MaxXMLSize     int64
	MaxPDFSize     int64
	ExtractTimeout time.Duration
	CleanupTimeout time.Duration
	RateLimit      int // uploads per actor per RateWindow, 0 disables
	RateWindow     time.Duration
}

// ReconciliationConfig holds reconciliation policy
type ReconciliationConfig struct {
	Epsilon          decimal.Decimal
	ForcePaid        bool
	SuggestionPool   int
	MaxStatementRows int
}

// PaymentBatchConfig holds batch policy and locking
type PaymentBatchConfig struct {
	EnforceBalance bool
	LockDriver     string // memory, redis
	LockTTL        time.Duration
	LockWait       time.Duration
}

// AuditConfig holds the consistency audit schedule
type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
	Limit    int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled bool
	DBLogFullSQL   bool // dev only
	// Metrics and log export
	MetricsEnabled  bool
	MetricsInterval time.Duration
	LogsEnabled     bool
	LogsLevel       string
	// Continuous profiling
	ProfilingEnabled  bool
	ProfilingServer   string
	ProfilingUser     string
	ProfilingPassword string
	SpanProfiles      bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with FISCAL_ prefix (e.g., FISCAL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fiscal")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FISCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	epsilon := decimal.Zero
	if raw := v.GetString("reconciliation.epsilon"); raw != "" {
		var err error
		if epsilon, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("reconciliation.epsilon: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			Port:     v.GetString("app.port"),
			Timezone: v.GetString("app.timezone"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			SlowQueryThresh: v.GetDuration("database.slow_query_threshold"),
			MigrateOnStart:  v.GetBool("database.migrate_on_start"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			Required: v.GetBool("jwt.required"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Storage: StorageConfig{
			Driver:          v.GetString("storage.driver"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			Bucket:          v.GetString("storage.bucket"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Ingestion: IngestionConfig{
			MaxXMLSize:     v.GetInt64("ingestion.max_xml_size"),
			MaxPDFSize:     v.GetInt64("ingestion.max_pdf_size"),
			ExtractTimeout: v.GetDuration("ingestion.extract_timeout"),
			CleanupTimeout: v.GetDuration("ingestion.cleanup_timeout"),
			RateLimit:      v.GetInt("ingestion.rate_limit"),
			RateWindow:     v.GetDuration("ingestion.rate_window"),
		},
		Reconciliation: ReconciliationConfig{
			Epsilon:          epsilon,
			ForcePaid:        !v.IsSet("reconciliation.force_paid") || v.GetBool("reconciliation.force_paid"),
			SuggestionPool:   v.GetInt("reconciliation.suggestion_pool"),
			MaxStatementRows: v.GetInt("reconciliation.max_statement_rows"),
		},
		PaymentBatch: PaymentBatchConfig{
			EnforceBalance: v.GetBool("payment_batch.enforce_balance"),
			LockDriver:     v.GetString("payment_batch.lock_driver"),
			LockTTL:        v.GetDuration("payment_batch.lock_ttl"),
			LockWait:       v.GetDuration("payment_batch.lock_wait"),
		},
		Audit: AuditConfig{
			Enabled:  v.GetBool("audit.enabled"),
			Interval: v.GetDuration("audit.interval"),
			Limit:    v.GetInt("audit.limit"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			LogsLevel:         v.GetString("telemetry.logs_level"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
			ProfilingUser:     v.GetString("telemetry.profiling_user"),
			ProfilingPassword: v.GetString("telemetry.profiling_password"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fiscal"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.Timezone == "" {
		cfg.App.Timezone = "America/Mexico_City"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fiscal"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.SlowQueryThresh == 0 {
		cfg.Database.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "fiscal"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 25 << 20 // 25MB, XML plus PDF
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "cfdi"
	}
	if cfg.Ingestion.MaxXMLSize == 0 {
		cfg.Ingestion.MaxXMLSize = 5 << 20
	}
	if cfg.Ingestion.MaxPDFSize == 0 {
		cfg.Ingestion.MaxPDFSize = 20 << 20
	}
	if cfg.Ingestion.ExtractTimeout == 0 {
		cfg.Ingestion.ExtractTimeout = 10 * time.Second
	}
	if cfg.Ingestion.CleanupTimeout == 0 {
		cfg.Ingestion.CleanupTimeout = 30 * time.Second
	}
	if cfg.Ingestion.RateWindow == 0 {
		cfg.Ingestion.RateWindow = time.Minute
	}
	if cfg.Reconciliation.Epsilon.IsZero() {
		cfg.Reconciliation.Epsilon = decimal.New(1, -2)
	}
	if cfg.Reconciliation.SuggestionPool == 0 {
		cfg.Reconciliation.SuggestionPool = 200
	}
	if cfg.Reconciliation.MaxStatementRows == 0 {
		cfg.Reconciliation.MaxStatementRows = 10000
	}
	if cfg.PaymentBatch.LockDriver == "" {
		cfg.PaymentBatch.LockDriver = "memory"
	}
	if cfg.PaymentBatch.LockTTL == 0 {
		cfg.PaymentBatch.LockTTL = 30 * time.Second
	}
	if cfg.PaymentBatch.LockWait == 0 {
		cfg.PaymentBatch.LockWait = 5 * time.Second
	}
	if cfg.Audit.Interval == 0 {
		cfg.Audit.Interval = 15 * time.Minute
	}
	if cfg.Audit.Limit == 0 {
		cfg.Audit.Limit = 500
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "fiscal"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}
	if cfg.Telemetry.ProfilingServer == "" {
		cfg.Telemetry.ProfilingServer = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone %q: %w", c.App.Timezone, err)
	}

	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 's3' or 'memory', got %q", c.Storage.Driver)
	}

	switch c.PaymentBatch.LockDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("payment_batch.lock_driver must be 'memory' or 'redis', got %q", c.PaymentBatch.LockDriver)
	}

	if c.Reconciliation.Epsilon.IsNegative() {
		return fmt.Errorf("reconciliation.epsilon cannot be negative")
	}
	if c.Ingestion.MaxXMLSize < 0 || c.Ingestion.MaxPDFSize < 0 {
		return fmt.Errorf("ingestion size limits cannot be negative")
	}
	if c.Ingestion.RateLimit < 0 {
		return fmt.Errorf("ingestion.rate_limit cannot be negative")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Storage.Driver == "memory" {
			return fmt.Errorf("storage.driver cannot be 'memory' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// Location returns the configured time zone. validate has already checked it.
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
