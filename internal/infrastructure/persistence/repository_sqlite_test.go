package persistence

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
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive across queries
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&finance.Invoice{},
		&finance.InvoicePayment{},
		&finance.BankTransaction{},
		&finance.PaymentBatch{},
		&finance.PaymentBatchItem{},
	))
	return db
}

func newStoredInvoice(t *testing.T, repo *GormInvoiceRepository, fiscalUUID, total string) *finance.Invoice {
	t.Helper()
	tot := decimal.RequireFromString(total)
	inv, err := finance.NewInvoice(finance.InvoiceSource{
		IssuerID:   "ISS1",
		XMLPath:    "ISS1/" + fiscalUUID + ".xml",
		Metadata:   &finance.CFDIMetadata{Total: &tot, Folio: "F-1", UUID: fiscalUUID},
		ReceivedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, "user-1")
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), inv))
	return inv
}

func newStoredTransaction(t *testing.T, repo *GormBankTransactionRepository, amount string) *finance.BankTransaction {
	t.Helper()
	tx, err := finance.NewBankTransaction("BANK-1", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		"SPEI proveedor", decimal.RequireFromString(amount), finance.TransactionTypeEgreso, "F-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), tx))
	return tx
}

func TestGormInvoiceRepository_SQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("create and find by fiscal uuid", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		inv := newStoredInvoice(t, repo, "AAAA-0001", "1500.00")

		found, err := repo.FindByFiscalUUID(ctx, "AAAA-0001")
		require.NoError(t, err)
		assert.Equal(t, inv.ID, found.ID)
		assert.True(t, found.TotalAmount.Equal(decimal.RequireFromString("1500")))
		require.NotNil(t, found.Metadata)
		assert.Equal(t, "F-1", found.Metadata.Folio)
	})

	t.Run("duplicate fiscal uuid", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		newStoredInvoice(t, repo, "AAAA-0001", "100")

		tot := decimal.NewFromInt(100)
		dup, err := finance.NewInvoice(finance.InvoiceSource{
			IssuerID: "ISS2",
			XMLPath:  "ISS2/dup.xml",
			Metadata: &finance.CFDIMetadata{Total: &tot, UUID: "AAAA-0001"},
		}, "user-1")
		require.NoError(t, err)

		err = repo.Create(ctx, dup)
		assert.True(t, errors.Is(err, finance.ErrDuplicateFiscalUUID))
	})

	t.Run("missing invoice", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		_, err := repo.FindByID(ctx, uuid.New())
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("update document checks version", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		inv := newStoredInvoice(t, repo, "AAAA-0001", "100")

		stale := *inv
		inv.Folio = "F-2"
		require.NoError(t, repo.UpdateDocument(ctx, inv))
		assert.Equal(t, 2, inv.Version)

		stale.Folio = "F-3"
		err := repo.UpdateDocument(ctx, &stale)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))

		ghost := *inv
		ghost.ID = uuid.New()
		err = repo.UpdateDocument(ctx, &ghost)
		assert.True(t, errors.Is(err, shared.ErrNotFound))

		found, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "F-2", found.Folio)
	})

	t.Run("payments are preloaded in order", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		inv := newStoredInvoice(t, repo, "AAAA-0001", "1000")

		later, err := finance.NewInvoicePayment(inv.ID, decimal.NewFromInt(300), time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), nil, "b", "user-1")
		require.NoError(t, err)
		earlier, err := finance.NewInvoicePayment(inv.ID, decimal.NewFromInt(200), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), nil, "a", "user-1")
		require.NoError(t, err)
		require.NoError(t, repo.AddPayment(ctx, later))
		require.NoError(t, repo.AddPayment(ctx, earlier))

		found, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, found.Payments, 2)
		assert.Equal(t, "a", found.Payments[0].Reference)
		assert.True(t, found.Balance().Equal(decimal.NewFromInt(500)))
	})

	t.Run("mark paid bulk is repeatable", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		a := newStoredInvoice(t, repo, "AAAA-0001", "100")
		b := newStoredInvoice(t, repo, "AAAA-0002", "200")
		ids := []uuid.UUID{a.ID, b.ID}

		for i := 0; i < 2; i++ {
			n, err := repo.MarkPaidBulk(ctx, ids, "user-2")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		}

		unpaid, err := repo.FindUnpaid(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, unpaid)
	})

	t.Run("list with paid filter", func(t *testing.T) {
		repo := NewGormInvoiceRepository(setupSQLiteDB(t))
		a := newStoredInvoice(t, repo, "AAAA-0001", "100")
		newStoredInvoice(t, repo, "AAAA-0002", "200")
		require.NoError(t, repo.SetPaid(ctx, a.ID, true, "user-2"))

		paid := false
		list, total, err := repo.FindAll(ctx, finance.InvoiceFilter{Filter: shared.DefaultFilter(), Paid: &paid})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, list, 1)
		assert.Equal(t, "AAAA-0002", *list[0].FiscalUUID)

		err = repo.SetPaid(ctx, uuid.New(), true, "user-2")
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})
}

func TestGormBankTransactionRepository_SQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("reconcile is compare and swap", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewGormBankTransactionRepository(db)
		tx := newStoredTransaction(t, repo, "1500")

		first := *tx
		second := *tx
		require.NoError(t, first.Reconcile(uuid.New(), "user-1"))
		require.NoError(t, second.Reconcile(uuid.New(), "user-2"))

		require.NoError(t, repo.MarkReconciled(ctx, &first))
		err := repo.MarkReconciled(ctx, &second)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))

		stored, err := repo.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, stored.Reconciled)
		assert.Equal(t, *first.ReconciledWith, *stored.ReconciledWith)
		assert.Equal(t, "user-1", *stored.ReconciledBy)
	})

	t.Run("clear requires reconciled row", func(t *testing.T) {
		repo := NewGormBankTransactionRepository(setupSQLiteDB(t))
		tx := newStoredTransaction(t, repo, "100")

		err := repo.ClearReconciliation(ctx, tx)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))

		require.NoError(t, tx.Reconcile(uuid.New(), "user-1"))
		require.NoError(t, repo.MarkReconciled(ctx, tx))
		_, err = tx.Unreconcile()
		require.NoError(t, err)
		require.NoError(t, repo.ClearReconciliation(ctx, tx))

		stored, err := repo.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.False(t, stored.Reconciled)
		assert.Nil(t, stored.ReconciledWith)
	})

	t.Run("missing transaction", func(t *testing.T) {
		repo := NewGormBankTransactionRepository(setupSQLiteDB(t))
		ghost := &finance.BankTransaction{}
		ghost.ID = uuid.New()
		err := repo.MarkReconciled(ctx, ghost)
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("create batch and filter", func(t *testing.T) {
		repo := NewGormBankTransactionRepository(setupSQLiteDB(t))
		var txs []*finance.BankTransaction
		for _, amt := range []string{"10", "20", "30"} {
			tx, err := finance.NewBankTransaction("BANK-2", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				"cargo", decimal.RequireFromString(amt), finance.TransactionTypeEgreso, "", "user-1")
			require.NoError(t, err)
			txs = append(txs, tx)
		}
		require.NoError(t, repo.CreateBatch(ctx, txs))
		newStoredTransaction(t, repo, "99")

		list, total, err := repo.FindAll(ctx, finance.BankTransactionFilter{Filter: shared.DefaultFilter(), BankAccountID: "BANK-2"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, list, 3)
	})

	t.Run("audit finds reconciled transactions without paid invoice", func(t *testing.T) {
		db := setupSQLiteDB(t)
		invoices := NewGormInvoiceRepository(db)
		repo := NewGormBankTransactionRepository(db)

		unpaid := newStoredInvoice(t, invoices, "AAAA-0001", "100")
		paid := newStoredInvoice(t, invoices, "AAAA-0002", "200")
		partial := newStoredInvoice(t, invoices, "AAAA-0003", "300")
		require.NoError(t, invoices.SetPaid(ctx, paid.ID, true, "user-1"))

		reconcile := func(amount string, invoiceID uuid.UUID) *finance.BankTransaction {
			tx := newStoredTransaction(t, repo, amount)
			require.NoError(t, tx.Reconcile(invoiceID, "user-1"))
			require.NoError(t, repo.MarkReconciled(ctx, tx))
			return tx
		}
		txUnpaid := reconcile("100", unpaid.ID)
		reconcile("200", paid.ID)
		txMissing := reconcile("50", uuid.New())
		txPartial := reconcile("120", partial.ID)
		payment, err := finance.NewInvoicePayment(partial.ID, decimal.NewFromInt(120), time.Now(), &txPartial.ID, "", "user-1")
		require.NoError(t, err)
		require.NoError(t, invoices.AddPayment(ctx, payment))
		newStoredTransaction(t, repo, "70")

		found, err := repo.FindReconciledWithUnpaidInvoice(ctx, 10)
		require.NoError(t, err)
		require.Len(t, found, 2)

		byTx := map[uuid.UUID]finance.ReconciliationMismatch{}
		for _, m := range found {
			byTx[m.TransactionID] = m
		}
		require.Contains(t, byTx, txUnpaid.ID)
		require.Contains(t, byTx, txMissing.ID)
		assert.True(t, byTx[txUnpaid.ID].InvoiceExists)
		assert.True(t, byTx[txUnpaid.ID].InvoiceTotal.Equal(decimal.NewFromInt(100)))
		assert.False(t, byTx[txMissing.ID].InvoiceExists)
		assert.True(t, byTx[txMissing.ID].InvoiceTotal.IsZero())

		limited, err := repo.FindReconciledWithUnpaidInvoice(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestGormPaymentBatchRepository_SQLite(t *testing.T) {
	ctx := context.Background()

	newBatch := func(t *testing.T, repo *GormPaymentBatchRepository) *finance.PaymentBatch {
		t.Helper()
		batch, err := finance.NewPaymentBatch("Proveedores marzo", nil, nil, "user-1")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, batch))
		return batch
	}

	t.Run("items are loaded with the batch", func(t *testing.T) {
		repo := NewGormPaymentBatchRepository(setupSQLiteDB(t))
		batch := newBatch(t, repo)

		item, err := batch.AddItem(uuid.New(), decimal.NewFromInt(1000), "user-1")
		require.NoError(t, err)
		require.NoError(t, repo.AddItem(ctx, item))

		found, err := repo.FindByID(ctx, batch.ID)
		require.NoError(t, err)
		require.Len(t, found.Items, 1)
		assert.Equal(t, item.InvoiceID, found.Items[0].InvoiceID)

		loaded, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, batch.ID, loaded.BatchID)

		require.NoError(t, repo.DeleteItem(ctx, item.ID))
		err = repo.DeleteItem(ctx, item.ID)
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("save status inside unit of work", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewGormPaymentBatchRepository(db)
		uow := NewGormUnitOfWork(db)
		batch := newBatch(t, repo)

		err := uow.Do(ctx, func(ctx context.Context) error {
			locked, err := repo.FindByIDForUpdate(ctx, batch.ID)
			if err != nil {
				return err
			}
			if _, err := locked.MarkPaid("user-2"); err != nil {
				return err
			}
			return repo.SaveStatus(ctx, locked)
		})
		require.NoError(t, err)

		found, err := repo.FindByID(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, finance.BatchStatusPagado, found.Status)
		assert.Equal(t, 2, found.Version)

		// batch still carries version 1
		require.NoError(t, batch.Cancel("user-3", "late"))
		err = repo.SaveStatus(ctx, batch)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))
	})

	t.Run("list by status", func(t *testing.T) {
		repo := NewGormPaymentBatchRepository(setupSQLiteDB(t))
		newBatch(t, repo)
		second := newBatch(t, repo)
		when := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, second.Schedule(&when, "user-1"))
		require.NoError(t, repo.SaveStatus(ctx, second))

		list, total, err := repo.FindAll(ctx, shared.DefaultFilter(), finance.BatchStatusProgramado)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, list, 1)
		assert.Equal(t, second.ID, list[0].ID)
	})
}

func TestGormUnitOfWork_SQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("rolls back every write on error", func(t *testing.T) {
		db := setupSQLiteDB(t)
		uow := NewGormUnitOfWork(db)
		invoices := NewGormInvoiceRepository(db)
		boom := errors.New("boom")

		var id uuid.UUID
		err := uow.Do(ctx, func(ctx context.Context) error {
			tot := decimal.NewFromInt(10)
			inv, err := finance.NewInvoice(finance.InvoiceSource{
				IssuerID: "ISS1",
				XMLPath:  "ISS1/a.xml",
				Metadata: &finance.CFDIMetadata{Total: &tot},
			}, "user-1")
			if err != nil {
				return err
			}
			id = inv.ID
			if err := invoices.Create(ctx, inv); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = invoices.FindByID(ctx, id)
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})

	t.Run("nested calls share the transaction", func(t *testing.T) {
		db := setupSQLiteDB(t)
		uow := NewGormUnitOfWork(db)

		err := uow.Do(ctx, func(outer context.Context) error {
			return uow.Do(outer, func(inner context.Context) error {
				assert.Same(t, outer.Value(txKey{}), inner.Value(txKey{}))
				return nil
			})
		})
		require.NoError(t, err)
	})
}
