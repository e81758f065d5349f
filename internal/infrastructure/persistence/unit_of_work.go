package persistence

import (
	"context"
	"errors"

	"github.com/erp/fiscal/internal/domain/shared"
	"gorm.io/gorm"
)

type txKey struct{}

// GormUnitOfWork runs a function inside one database transaction. The
// transaction travels in the context so repositories built on the same
// *gorm.DB join it.
type GormUnitOfWork struct {
	db *gorm.DB
}

// NewGormUnitOfWork creates a new GormUnitOfWork
func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

// Do runs fn in a transaction, committing when fn returns nil. A call made
// while a transaction is already open reuses it.
func (u *GormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction carried by ctx, or db
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// translate maps GORM errors onto the shared error taxonomy
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &shared.DomainError{
			Kind:    shared.KindRepository,
			Code:    shared.ErrAlreadyExists.Code,
			Message: shared.ErrAlreadyExists.Message,
			Err:     err,
		}
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.NewRepositoryError(op, err)
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
