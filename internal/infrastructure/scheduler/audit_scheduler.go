package scheduler

import (
	"context"
	"sync"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"go.uber.org/zap"
)

// AuditRunner runs one consistency audit pass
type AuditRunner interface {
	Run(ctx context.Context) (*financeapp.AuditReport, error)
}

// AuditSchedulerConfig holds configuration for the audit scheduler
type AuditSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the time between audit runs
	Interval time.Duration

	// RunTimeout is the maximum time for one run
	RunTimeout time.Duration

	// RunOnStart runs an audit immediately after Start
	RunOnStart bool
}

// DefaultAuditSchedulerConfig returns default configuration
func DefaultAuditSchedulerConfig() AuditSchedulerConfig {
	return AuditSchedulerConfig{
		Enabled:    true,
		Interval:   15 * time.Minute,
		RunTimeout: 2 * time.Minute,
	}
}

// AuditScheduler periodically runs the reconciliation consistency audit
type AuditScheduler struct {
	runner AuditRunner
	logger *zap.Logger
	config AuditSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	last      *financeapp.AuditReport
}

// NewAuditScheduler creates a new audit scheduler
func NewAuditScheduler(runner AuditRunner, logger *zap.Logger, config AuditSchedulerConfig) *AuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultAuditSchedulerConfig().Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultAuditSchedulerConfig().RunTimeout
	}
	return &AuditScheduler{
		runner: runner,
		logger: logger,
		config: config,
	}
}

// Start starts the periodic audit loop
func (s *AuditScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Consistency audit scheduler is disabled")
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Consistency audit scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_start", s.config.RunOnStart),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *AuditScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Consistency audit scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Consistency audit scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *AuditScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.execute(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Consistency audit loop stopping")
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *AuditScheduler) execute(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.runner.Run(runCtx)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("Consistency audit failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("Consistency audit completed",
		zap.Duration("duration", duration),
		zap.Int("findings", len(report.Findings)),
		zap.Bool("truncated", report.Truncated),
	)
}

// TriggerImmediate runs an audit in the background now
func (s *AuditScheduler) TriggerImmediate(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.execute(context.WithoutCancel(ctx))
	}()
	return nil
}

// LastReport returns the report of the most recent successful run, or nil
func (s *AuditScheduler) LastReport() *financeapp.AuditReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// IsRunning returns whether the scheduler is running
func (s *AuditScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
