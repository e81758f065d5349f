package cache

import (
	"context"
	"fmt"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BatchLockerFactory creates batch lockers based on configuration
type BatchLockerFactory struct {
	redisConfig           config.RedisConfig
	batchConfig           config.PaymentBatchConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// BatchLockerFactoryOption is a functional option for configuring the factory
type BatchLockerFactoryOption func(*BatchLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) BatchLockerFactoryOption {
	return func(f *BatchLockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory locker
// when Redis is unavailable. Default is false.
func WithInMemoryFallback(allow bool) BatchLockerFactoryOption {
	return func(f *BatchLockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewBatchLockerFactory creates a new factory
func NewBatchLockerFactory(redisCfg config.RedisConfig, batchCfg config.PaymentBatchConfig, opts ...BatchLockerFactoryOption) *BatchLockerFactory {
	f := &BatchLockerFactory{
		redisConfig: redisCfg,
		batchConfig: batchCfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocker returns the locker named by payment_batch.lock_driver. The
// returned close func releases the Redis client, if any.
func (f *BatchLockerFactory) CreateLocker() (financeapp.BatchLocker, func() error, error) {
	noop := func() error { return nil }
	if f.batchConfig.LockDriver != "redis" {
		f.logger.Info("using in-memory batch locker")
		return NewInMemoryBatchLocker(f.batchConfig.LockWait), noop, nil
	}

	client, err := f.connectRedis()
	if err == nil {
		f.logger.Info("using Redis batch locker", zap.String("addr", f.redisConfig.Addr()))
		locker := NewRedisBatchLocker(client, f.batchConfig.LockTTL, f.batchConfig.LockWait, f.logger)
		return locker, client.Close, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("Redis required for batch locking but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory batch locker. "+
		"Batches are only serialized within this instance.",
		zap.Error(err),
	)
	return NewInMemoryBatchLocker(f.batchConfig.LockWait), noop, nil
}

func (f *BatchLockerFactory) connectRedis() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
