package finance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type batchFixture struct {
	batchRepo   *MockPaymentBatchRepository
	invoiceRepo *MockInvoiceRepository
	locker      *countingLocker
	service     *PaymentBatchService
}

func newBatchFixture(config PaymentBatchConfig) *batchFixture {
	f := &batchFixture{
		batchRepo:   new(MockPaymentBatchRepository),
		invoiceRepo: new(MockInvoiceRepository),
		locker:      &countingLocker{},
	}
	f.service = NewPaymentBatchService(f.batchRepo, f.invoiceRepo, nil, f.locker, config, nil)
	return f
}

func newDraftBatch(t *testing.T) *finance.PaymentBatch {
	t.Helper()
	batch, err := finance.NewPaymentBatch("Proveedores marzo", nil, nil, "user-0")
	require.NoError(t, err)
	batch.ClearDomainEvents()
	return batch
}

func sameIDs(want ...uuid.UUID) interface{} {
	return mock.MatchedBy(func(got []uuid.UUID) bool {
		if len(got) != len(want) {
			return false
		}
		seen := make(map[uuid.UUID]bool, len(got))
		for _, id := range got {
			seen[id] = true
		}
		for _, id := range want {
			if !seen[id] {
				return false
			}
		}
		return true
	})
}

func TestPaymentBatch_AddInvoicesThenMarkPaid(t *testing.T) {
	f := newBatchFixture(PaymentBatchConfig{})
	batch := newDraftBatch(t)
	inv1 := newInvoice(t, "1000.00")
	inv2 := newInvoice(t, "2000.00")

	f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
	f.invoiceRepo.On("FindByID", mock.Anything, inv1.ID).Return(inv1, nil)
	f.invoiceRepo.On("FindByID", mock.Anything, inv2.ID).Return(inv2, nil)
	f.batchRepo.On("AddItem", mock.Anything, mock.AnythingOfType("*finance.PaymentBatchItem")).Return(nil)
	f.batchRepo.On("SaveStatus", mock.Anything, batch).Return(nil).Once()
	f.invoiceRepo.On("MarkPaidBulk", mock.Anything, sameIDs(inv1.ID, inv2.ID), "user-1").Return(int64(2), nil)

	ctx := context.Background()
	_, err := f.service.AddInvoice(ctx, AddBatchInvoiceRequest{
		ActorID: "user-1", BatchID: batch.ID, InvoiceID: inv1.ID, Amount: decimal.RequireFromString("1000"),
	})
	require.NoError(t, err)
	resp, err := f.service.AddInvoice(ctx, AddBatchInvoiceRequest{
		ActorID: "user-1", BatchID: batch.ID, InvoiceID: inv2.ID, Amount: decimal.RequireFromString("2000"),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)
	assert.True(t, decimal.RequireFromString("3000").Equal(resp.Total))

	result, err := f.service.MarkPaid(ctx, "user-1", batch.ID)

	require.NoError(t, err)
	assert.Equal(t, "pagado", result.Batch.Status)
	assert.False(t, result.AlreadyPaid)
	assert.Equal(t, int64(2), result.InvoicesMarked)
	assert.Equal(t, 3, f.locker.locks)
	assert.Equal(t, f.locker.locks, f.locker.unlocks)
	f.batchRepo.AssertExpectations(t)
	f.invoiceRepo.AssertExpectations(t)
}

func TestPaymentBatch_MarkPaidIsIdempotent(t *testing.T) {
	f := newBatchFixture(PaymentBatchConfig{})
	batch := newDraftBatch(t)
	inv := newInvoice(t, "1000.00")
	_, err := batch.AddItem(inv.ID, decimal.RequireFromString("1000"), "user-0")
	require.NoError(t, err)

	f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
	f.batchRepo.On("SaveStatus", mock.Anything, batch).Return(nil).Once()
	f.invoiceRepo.On("MarkPaidBulk", mock.Anything, sameIDs(inv.ID), "user-1").Return(int64(1), nil).Twice()

	first, err := f.service.MarkPaid(context.Background(), "user-1", batch.ID)
	require.NoError(t, err)
	second, err := f.service.MarkPaid(context.Background(), "user-1", batch.ID)
	require.NoError(t, err)

	assert.False(t, first.AlreadyPaid)
	assert.True(t, second.AlreadyPaid)
	assert.Equal(t, "pagado", second.Batch.Status)
	f.batchRepo.AssertNumberOfCalls(t, "SaveStatus", 1)
	f.invoiceRepo.AssertNumberOfCalls(t, "MarkPaidBulk", 2)
}

func TestPaymentBatch_FanOutFailureLeavesBatchPaid(t *testing.T) {
	f := newBatchFixture(PaymentBatchConfig{})
	batch := newDraftBatch(t)
	inv := newInvoice(t, "1000.00")
	_, err := batch.AddItem(inv.ID, decimal.RequireFromString("1000"), "user-0")
	require.NoError(t, err)
	fanOutErr := errors.New("connection reset")

	f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
	f.batchRepo.On("SaveStatus", mock.Anything, batch).Return(nil)
	f.invoiceRepo.On("MarkPaidBulk", mock.Anything, mock.Anything, "user-1").Return(int64(0), fanOutErr)

	_, err = f.service.MarkPaid(context.Background(), "user-1", batch.ID)

	assert.ErrorIs(t, err, fanOutErr)
	assert.Equal(t, finance.BatchStatusPagado, batch.Status)
}

func TestPaymentBatch_AddInvoiceRules(t *testing.T) {
	t.Run("paid batch rejects items before loading the invoice", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{})
		batch := newDraftBatch(t)
		_, err := batch.MarkPaid("user-0")
		require.NoError(t, err)
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)

		_, err = f.service.AddInvoice(context.Background(), AddBatchInvoiceRequest{
			ActorID: "user-1", BatchID: batch.ID, InvoiceID: uuid.New(), Amount: decimal.NewFromInt(10),
		})

		require.Error(t, err)
		assert.True(t, shared.IsKind(err, shared.KindValidation))
		f.invoiceRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
		f.batchRepo.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything)
		assert.Equal(t, 1, f.locker.unlocks)
	})

	t.Run("amount above balance warns by default", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{})
		batch := newDraftBatch(t)
		inv := newInvoice(t, "100.00")
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
		f.invoiceRepo.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)
		f.batchRepo.On("AddItem", mock.Anything, mock.Anything).Return(nil)

		resp, err := f.service.AddInvoice(context.Background(), AddBatchInvoiceRequest{
			ActorID: "user-1", BatchID: batch.ID, InvoiceID: inv.ID, Amount: decimal.NewFromInt(150),
		})

		require.NoError(t, err)
		assert.Len(t, resp.Items, 1)
	})

	t.Run("amount above balance is rejected when enforced", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{EnforceBalance: true})
		batch := newDraftBatch(t)
		inv := newInvoice(t, "100.00")
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
		f.invoiceRepo.On("FindByID", mock.Anything, inv.ID).Return(inv, nil)

		_, err := f.service.AddInvoice(context.Background(), AddBatchInvoiceRequest{
			ActorID: "user-1", BatchID: batch.ID, InvoiceID: inv.ID, Amount: decimal.NewFromInt(150),
		})

		assert.True(t, shared.IsKind(err, shared.KindValidation))
		f.batchRepo.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything)
	})

	t.Run("unknown invoice is not found", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{})
		batch := newDraftBatch(t)
		missing := uuid.New()
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
		f.invoiceRepo.On("FindByID", mock.Anything, missing).Return(nil, shared.ErrNotFound)

		_, err := f.service.AddInvoice(context.Background(), AddBatchInvoiceRequest{
			ActorID: "user-1", BatchID: batch.ID, InvoiceID: missing, Amount: decimal.NewFromInt(10),
		})

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestPaymentBatch_Transitions(t *testing.T) {
	t.Run("schedule then cancel", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{})
		batch := newDraftBatch(t)
		date := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
		f.batchRepo.On("SaveStatus", mock.Anything, batch).Return(nil).Twice()

		scheduled, err := f.service.Schedule(context.Background(), "user-1", batch.ID, &date)
		require.NoError(t, err)
		assert.Equal(t, "programado", scheduled.Status)

		cancelled, err := f.service.Cancel(context.Background(), "user-1", batch.ID, "duplicado")
		require.NoError(t, err)
		assert.Equal(t, "cancelado", cancelled.Status)
		assert.Equal(t, "duplicado", cancelled.CancelReason)
	})

	t.Run("cancelled batch cannot be paid", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{})
		batch := newDraftBatch(t)
		require.NoError(t, batch.Cancel("user-0", ""))
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)

		_, err := f.service.MarkPaid(context.Background(), "user-1", batch.ID)

		assert.ErrorIs(t, err, shared.ErrInvalidState)
		f.batchRepo.AssertNotCalled(t, "SaveStatus", mock.Anything, mock.Anything)
		f.invoiceRepo.AssertNotCalled(t, "MarkPaidBulk", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("stale version surfaces as conflict", func(t *testing.T) {
		f := newBatchFixture(PaymentBatchConfig{})
		batch := newDraftBatch(t)
		f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
		f.batchRepo.On("SaveStatus", mock.Anything, batch).Return(shared.ErrConcurrencyConflict)

		_, err := f.service.Cancel(context.Background(), "user-1", batch.ID, "")

		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})
}

func TestPaymentBatch_RemoveInvoice(t *testing.T) {
	f := newBatchFixture(PaymentBatchConfig{})
	batch := newDraftBatch(t)
	item, err := batch.AddItem(uuid.New(), decimal.NewFromInt(10), "user-0")
	require.NoError(t, err)

	f.batchRepo.On("FindItem", mock.Anything, item.ID).Return(item, nil)
	f.batchRepo.On("FindByIDForUpdate", mock.Anything, batch.ID).Return(batch, nil)
	f.batchRepo.On("DeleteItem", mock.Anything, item.ID).Return(nil)

	resp, err := f.service.RemoveInvoice(context.Background(), "user-1", item.ID)

	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.True(t, resp.Total.IsZero())
}

func TestPaymentBatch_ListRejectsUnknownStatus(t *testing.T) {
	f := newBatchFixture(PaymentBatchConfig{})
	_, _, err := f.service.ListBatches(context.Background(), shared.DefaultFilter(), "pendiente")
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}
