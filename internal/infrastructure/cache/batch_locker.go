package cache

import (
	"context"
	"sync"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
)

// ErrBatchBusy is returned when a batch lock cannot be taken within the wait limit
var ErrBatchBusy = &shared.DomainError{
	Kind:    shared.ErrConcurrencyConflict.Kind,
	Code:    shared.ErrConcurrencyConflict.Code,
	Message: "Payment batch is locked by another operation",
}

func busy(cause error) error {
	return &shared.DomainError{
		Kind:    ErrBatchBusy.Kind,
		Code:    ErrBatchBusy.Code,
		Message: ErrBatchBusy.Message,
		Err:     cause,
	}
}

// InMemoryBatchLocker serializes batch mutations within one process.
// Suitable for single-instance deployments and tests.
type InMemoryBatchLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*lockSlot
	wait  time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewInMemoryBatchLocker creates a locker. wait bounds how long Lock blocks;
// zero means until ctx ends.
func NewInMemoryBatchLocker(wait time.Duration) *InMemoryBatchLocker {
	return &InMemoryBatchLocker{
		slots: make(map[uuid.UUID]*lockSlot),
		wait:  wait,
	}
}

// Lock blocks until the batch is held, the wait limit passes or ctx ends
func (l *InMemoryBatchLocker) Lock(ctx context.Context, batchID uuid.UUID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[batchID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[batchID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.release(batchID, slot)
			})
		}, nil
	case <-waitCtx.Done():
		l.release(batchID, slot)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, busy(waitCtx.Err())
	}
}

func (l *InMemoryBatchLocker) release(batchID uuid.UUID, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, batchID)
	}
}

// Ensure InMemoryBatchLocker implements BatchLocker
var _ financeapp.BatchLocker = (*InMemoryBatchLocker)(nil)
