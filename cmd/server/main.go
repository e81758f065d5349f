package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/infrastructure/auth"
	"github.com/erp/fiscal/internal/infrastructure/cache"
	"github.com/erp/fiscal/internal/infrastructure/config"
	"github.com/erp/fiscal/internal/infrastructure/event"
	"github.com/erp/fiscal/internal/infrastructure/extraction"
	"github.com/erp/fiscal/internal/infrastructure/logger"
	"github.com/erp/fiscal/internal/infrastructure/migration"
	"github.com/erp/fiscal/internal/infrastructure/persistence"
	"github.com/erp/fiscal/internal/infrastructure/scheduler"
	"github.com/erp/fiscal/internal/infrastructure/storage"
	"github.com/erp/fiscal/internal/infrastructure/telemetry"
	"github.com/erp/fiscal/internal/interfaces/http/handler"
	"github.com/erp/fiscal/internal/interfaces/http/middleware"
	"github.com/erp/fiscal/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Fiscal Document API
//	@version		1.0
//	@description	CFDI ingestion, bank reconciliation and payment batches
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	rootCtx := context.Background()

	// Telemetry: traces, metrics, log export and profiling
	tracerProvider, err := telemetry.NewTracerProvider(rootCtx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(rootCtx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	loggerProvider, err := telemetry.NewLoggerProvider(rootCtx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		Level:             cfg.Telemetry.LogsLevel,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log = loggerProvider.Bridge(log)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.ProfilingServer,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.ProfilingUser,
		BasicAuthPassword: cfg.Telemetry.ProfilingPassword,
	}, log)
	if err != nil {
		log.Warn("Continuous profiling disabled", zap.Error(err))
	}
	if profiler != nil && profiler.IsEnabled() && cfg.Telemetry.SpanProfiles {
		tracerProvider.EnableSpanProfiles()
	}

	log.Info("Starting fiscal service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
		zap.String("timezone", cfg.App.Timezone),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, persistence.Options{
		LogLevel: cfg.Log.Level,
		Tracing: telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Database.SlowQueryThresh,
			DBName:          cfg.Database.DBName,
		},
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Database.MigrateOnStart {
		if err := migrateOnStart(db, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Repositories
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	txRepo := persistence.NewGormBankTransactionRepository(db.DB)
	batchRepo := persistence.NewGormPaymentBatchRepository(db.DB)
	uow := persistence.NewGormUnitOfWork(db.DB)

	// Artifact storage
	store, err := newArtifactStore(rootCtx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize artifact storage", zap.Error(err))
	}

	// Batch locks
	locker, closeLocker, err := cache.NewBatchLockerFactory(
		cfg.Redis, cfg.PaymentBatch,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateLocker()
	if err != nil {
		log.Fatal("Failed to initialize batch locker", zap.Error(err))
	}
	defer func() {
		if err := closeLocker(); err != nil {
			log.Warn("Error closing batch locker", zap.Error(err))
		}
	}()

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(event.NewAuditTrailHandler(log))
	if err := eventBus.Start(rootCtx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	fiscalMetrics, err := telemetry.NewFiscalMetrics(meterProvider.Meter("fiscal"))
	if err != nil {
		log.Warn("Fiscal metrics disabled", zap.Error(err))
	}

	// Application services
	loc := cfg.App.Location()

	ingestionService := financeapp.NewIngestionService(
		invoiceRepo,
		store,
		extraction.NewLocalExtractor(cfg.Ingestion.ExtractTimeout, log),
		financeapp.IngestionConfig{
			Bucket:         cfg.Storage.Bucket,
			MaxXMLSize:     cfg.Ingestion.MaxXMLSize,
			MaxPDFSize:     cfg.Ingestion.MaxPDFSize,
			CleanupTimeout: cfg.Ingestion.CleanupTimeout,
		},
		log,
	)
	ingestionService.SetEventPublisher(eventBus)
	ingestionService.SetMetrics(fiscalMetrics)

	invoiceQueryService := financeapp.NewInvoiceQueryService(invoiceRepo)

	reconciliationService := financeapp.NewReconciliationService(txRepo, invoiceRepo, uow, financeapp.ReconciliationConfig{
		Epsilon:          cfg.Reconciliation.Epsilon,
		ForcePaid:        cfg.Reconciliation.ForcePaid,
		SuggestionPool:   cfg.Reconciliation.SuggestionPool,
		MaxStatementRows: cfg.Reconciliation.MaxStatementRows,
		Location:         loc,
	}, log)
	reconciliationService.SetEventPublisher(eventBus)
	reconciliationService.SetMetrics(fiscalMetrics)

	batchService := financeapp.NewPaymentBatchService(batchRepo, invoiceRepo, uow, locker, financeapp.PaymentBatchConfig{
		EnforceBalance: cfg.PaymentBatch.EnforceBalance,
	}, log)
	batchService.SetEventPublisher(eventBus)
	batchService.SetMetrics(fiscalMetrics)

	auditService := financeapp.NewConsistencyAuditService(txRepo, cfg.Audit.Limit, log)
	auditService.SetMetrics(fiscalMetrics)

	// Background consistency audit
	auditScheduler := scheduler.NewAuditScheduler(auditService, log, scheduler.AuditSchedulerConfig{
		Enabled:    cfg.Audit.Enabled,
		Interval:   cfg.Audit.Interval,
		RunTimeout: 2 * time.Minute,
		RunOnStart: cfg.Audit.Enabled,
	})
	if err := auditScheduler.Start(rootCtx); err != nil {
		log.Fatal("Failed to start audit scheduler", zap.Error(err))
	}

	// HTTP handlers
	var reportSource handler.AuditReportSource
	if cfg.Audit.Enabled {
		reportSource = auditScheduler
	}
	var uploadLimiter *middleware.RateLimiter
	if cfg.Ingestion.RateLimit > 0 {
		uploadLimiter = middleware.NewRateLimiter(cfg.Ingestion.RateLimit, cfg.Ingestion.RateWindow)
		defer uploadLimiter.Stop()
	}
	handlers := router.FiscalHandlers{
		Invoices: handler.NewInvoiceHandler(ingestionService, invoiceQueryService, handler.UploadLimits{
			MaxXMLSize: cfg.Ingestion.MaxXMLSize,
			MaxPDFSize: cfg.Ingestion.MaxPDFSize,
		}, loc),
		BankTransactions: handler.NewBankTransactionHandler(reconciliationService, cfg.HTTP.MaxBodySize, loc),
		PaymentBatches:   handler.NewPaymentBatchHandler(batchService, loc),
		Audit:            handler.NewAuditHandler(auditService, reportSource),
		System: handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.HealthCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}),
		UploadGuards: []gin.HandlerFunc{middleware.RateLimit(uploadLimiter)},
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware order:
	// RequestID, Recovery, Tracing and request logging first so every later
	// failure carries ids; actor resolution before SpanAttributes.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
	}))
	if profiler != nil && profiler.IsEnabled() {
		engine.Use(middleware.Profiling())
	}
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader, middleware.ActorIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", handlers.System.Health)

	// API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(middleware.ActorAuth(middleware.ActorAuthConfig{
		JWTService:  auth.NewJWTService(cfg.JWT),
		Required:    cfg.JWT.Required,
		AllowHeader: !cfg.JWT.Required,
		SkipPaths: []string{
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Logger: log,
	}))
	r.Use(middleware.SpanAttributes())
	router.RegisterFiscal(r, handlers)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := auditScheduler.Stop(ctx); err != nil {
		log.Warn("Error stopping audit scheduler", zap.Error(err))
	}
	if err := eventBus.Stop(ctx); err != nil {
		log.Warn("Error stopping event bus", zap.Error(err))
	}
	if profiler != nil {
		if err := profiler.Stop(); err != nil {
			log.Warn("Error stopping profiler", zap.Error(err))
		}
	}
	if err := meterProvider.Shutdown(ctx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(ctx); err != nil {
		log.Warn("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newArtifactStore returns the S3 store, creating the bucket when missing,
// or the in-memory store for local development.
func newArtifactStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (financeapp.ArtifactStore, error) {
	if cfg.Storage.Driver != "s3" {
		log.Warn("Using in-memory artifact storage; uploaded files are lost on restart")
		return storage.NewMemoryArtifactStore(), nil
	}
	s3Store, err := storage.NewS3ArtifactStore(&cfg.Storage, storage.WithLogger(log))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s3Store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	log.Info("S3 artifact storage ready", zap.String("bucket", s3Store.GetBucket()))
	return s3Store, nil
}

func migrateOnStart(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.NewEmbedded(sqlDB, log)
	if err != nil {
		return err
	}
	// Close would also close sqlDB through the postgres driver.
	return m.Up()
}
