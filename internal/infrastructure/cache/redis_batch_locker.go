package cache

import (
	"context"
	"fmt"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBatchLocker serializes batch mutations across instances with
// SET NX PX and a token-checked release. The TTL bounds how long a crashed
// holder can block a batch.
type RedisBatchLocker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
	retry     time.Duration
	logger    *zap.Logger
}

// NewRedisBatchLocker creates a locker over an existing Redis client
func NewRedisBatchLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *RedisBatchLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBatchLocker{
		client:    client,
		keyPrefix: "fiscal:batch-lock:",
		ttl:       ttl,
		wait:      wait,
		retry:     50 * time.Millisecond,
		logger:    logger,
	}
}

// Lock polls SET NX until the batch is held, the wait limit passes or ctx ends
func (l *RedisBatchLocker) Lock(ctx context.Context, batchID uuid.UUID) (func(), error) {
	key := l.keyPrefix + batchID.String()
	token := uuid.NewString()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire batch lock: %w", err)
		}
		if ok {
			return l.unlockFunc(key, token), nil
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, busy(waitCtx.Err())
		}
	}
}

func (l *RedisBatchLocker) unlockFunc(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release batch lock, it will expire",
				zap.String("key", key),
				zap.Duration("ttl", l.ttl),
				zap.Error(err),
			)
		}
	}
}

// Ensure RedisBatchLocker implements BatchLocker
var _ financeapp.BatchLocker = (*RedisBatchLocker)(nil)
