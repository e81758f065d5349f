package shared

import "context"

// UnitOfWork runs fn so that every repository write it performs through ctx
// commits or rolls back together. Stores without transactions may run fn
// directly, in which case callers rely on compensating actions.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWorkFunc adapts a function to UnitOfWork
type UnitOfWorkFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Do implements UnitOfWork
func (f UnitOfWorkFunc) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NoopUnitOfWork runs fn without any transactional guarantee
var NoopUnitOfWork UnitOfWork = UnitOfWorkFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
