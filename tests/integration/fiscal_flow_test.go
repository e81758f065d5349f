package integration

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/infrastructure/cache"
	"github.com/erp/fiscal/internal/infrastructure/event"
	"github.com/erp/fiscal/internal/infrastructure/extraction"
	"github.com/erp/fiscal/internal/infrastructure/persistence"
	"github.com/erp/fiscal/internal/infrastructure/storage"
	"github.com/erp/fiscal/tests/testutil"
)

const actor = "tester@fiscal"

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainers()
	os.Exit(code)
}

// fiscalSetup wires the services over a clean database
type fiscalSetup struct {
	DB             *TestDB
	Store          *storage.MemoryArtifactStore
	Events         *testutil.RecordingEventHandler
	InvoiceRepo    *persistence.GormInvoiceRepository
	TxRepo         *persistence.GormBankTransactionRepository
	BatchRepo      *persistence.GormPaymentBatchRepository
	Ingestion      *financeapp.IngestionService
	Reconciliation *financeapp.ReconciliationService
	Batches        *financeapp.PaymentBatchService
	Audit          *financeapp.ConsistencyAuditService
}

func newFiscalSetup(t *testing.T, locker financeapp.BatchLocker) *fiscalSetup {
	t.Helper()

	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	db := NewTestDB(t)
	uow := persistence.NewGormUnitOfWork(db.DB)

	s := &fiscalSetup{
		DB:          db,
		Store:       storage.NewMemoryArtifactStore(),
		Events:      testutil.NewRecordingEventHandler(),
		InvoiceRepo: persistence.NewGormInvoiceRepository(db.DB),
		TxRepo:      persistence.NewGormBankTransactionRepository(db.DB),
		BatchRepo:   persistence.NewGormPaymentBatchRepository(db.DB),
	}

	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(s.Events)

	s.Ingestion = financeapp.NewIngestionService(s.InvoiceRepo, s.Store,
		extraction.NewLocalExtractor(5*time.Second, log),
		financeapp.IngestionConfig{Bucket: "cfdi", CleanupTimeout: 5 * time.Second}, log)
	s.Ingestion.SetEventPublisher(bus)

	s.Reconciliation = financeapp.NewReconciliationService(s.TxRepo, s.InvoiceRepo, uow, financeapp.ReconciliationConfig{
		ForcePaid: true,
		Location:  time.UTC,
	}, log)
	s.Reconciliation.SetEventPublisher(bus)

	if locker == nil {
		locker = cache.NewInMemoryBatchLocker(5 * time.Second)
	}
	s.Batches = financeapp.NewPaymentBatchService(s.BatchRepo, s.InvoiceRepo, uow, locker, financeapp.PaymentBatchConfig{}, log)
	s.Batches.SetEventPublisher(bus)

	s.Audit = financeapp.NewConsistencyAuditService(s.TxRepo, 100, log)
	return s
}

func (s *fiscalSetup) ingest(t *testing.T, fiscalUUID, folio, total string) *financeapp.IngestInvoiceResult {
	t.Helper()
	result, err := s.Ingestion.Ingest(context.Background(), financeapp.IngestInvoiceRequest{
		ActorID:  actor,
		IssuerID: "MAT8907127J1",
		XML: financeapp.ArtifactFile{
			Filename:    folio + ".xml",
			ContentType: "application/xml",
			Data:        testutil.CFDIDocument(fiscalUUID, folio, total),
		},
	}, nil)
	require.NoError(t, err)
	return result
}

func (s *fiscalSetup) registerTransaction(t *testing.T, amount string) *financeapp.BankTransactionResponse {
	t.Helper()
	tx, err := s.Reconciliation.RegisterTransaction(context.Background(), financeapp.RegisterTransactionRequest{
		ActorID:       actor,
		BankAccountID: "BANORTE-001",
		Date:          time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		Description:   "SPEI MATERIALES DEL NORTE",
		Amount:        decimal.RequireFromString(amount),
		Type:          string(finance.TransactionTypeEgreso),
		Reference:     "1024",
	})
	require.NoError(t, err)
	return tx
}

func TestIngestion_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newFiscalSetup(t, nil)
	ctx := context.Background()

	t.Run("stores artifacts and metadata", func(t *testing.T) {
		result := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-000000000001", "1024", "1500.00")
		assert.True(t, result.Created)
		assert.True(t, result.MetadataExtracted)

		inv, err := s.InvoiceRepo.FindByFiscalUUID(ctx, "6F1A2B3C-4D5E-4F60-8A7B-000000000001")
		require.NoError(t, err)
		assert.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("1500")))
		assert.False(t, inv.Paid)
		require.NotNil(t, inv.Metadata)
		require.NotNil(t, inv.Metadata.Issuer)
		assert.Equal(t, "MAT8907127J1", inv.Metadata.Issuer.RFC)

		_, _, ok := s.Store.Get("cfdi", inv.XMLPath)
		assert.True(t, ok, "xml artifact should be stored")
	})

	t.Run("duplicate fiscal uuid rolls back new artifacts", func(t *testing.T) {
		before := len(s.Store.Keys("cfdi"))

		_, err := s.Ingestion.Ingest(ctx, financeapp.IngestInvoiceRequest{
			ActorID:  actor,
			IssuerID: "MAT8907127J1",
			XML: financeapp.ArtifactFile{
				Filename: "copy.xml",
				Data:     testutil.CFDIDocument("6F1A2B3C-4D5E-4F60-8A7B-000000000001", "1024", "1500.00"),
			},
		}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, finance.ErrDuplicateFiscalUUID))
		assert.Len(t, s.Store.Keys("cfdi"), before)
	})

	t.Run("publishes ingestion event", func(t *testing.T) {
		testutil.RequireEventually(t, func() bool {
			for _, typ := range s.Events.Types() {
				if typ == finance.EventTypeInvoiceIngested {
					return true
				}
			}
			return false
		}, 2*time.Second)
	})
}

func TestReconciliation_ConcurrentExact(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newFiscalSetup(t, nil)
	ctx := context.Background()

	invA := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-00000000000A", "A-1", "1000.00").Invoice
	invB := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-00000000000B", "B-1", "1000.00").Invoice
	tx := s.registerTransaction(t, "1000.00")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for _, invoiceID := range []uuid.UUID{invA.ID, invB.ID} {
		wg.Add(1)
		go func(invoiceID uuid.UUID) {
			defer wg.Done()
			_, err := s.Reconciliation.ReconcileExact(ctx, financeapp.ReconcileExactRequest{
				ActorID:       actor,
				TransactionID: tx.ID,
				InvoiceID:     invoiceID,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}(invoiceID)
	}
	wg.Wait()

	require.Equal(t, 1, successes, "exactly one reconciliation must win")
	require.Len(t, failures, 1)
	loser := failures[0]
	assert.True(t,
		errors.Is(loser, finance.ErrTransactionAlreadyReconciled) || errors.Is(loser, shared.ErrConcurrencyConflict),
		"unexpected error: %v", loser)

	stored, err := s.TxRepo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, stored.Reconciled)
	require.NotNil(t, stored.ReconciledWith)

	winner, err := s.InvoiceRepo.FindByID(ctx, *stored.ReconciledWith)
	require.NoError(t, err)
	assert.True(t, winner.Paid)

	other := invA.ID
	if *stored.ReconciledWith == invA.ID {
		other = invB.ID
	}
	untouched, err := s.InvoiceRepo.FindByID(ctx, other)
	require.NoError(t, err)
	assert.False(t, untouched.Paid, "the losing invoice must stay unpaid")
}

func TestReconciliation_AllocationAndUndo(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newFiscalSetup(t, nil)
	ctx := context.Background()

	inv := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-0000000000C1", "C-1", "1000.00").Invoice
	first := s.registerTransaction(t, "400.00")
	second := s.registerTransaction(t, "600.00")

	result, err := s.Reconciliation.ReconcileWithAllocation(ctx, financeapp.ReconcileAllocationRequest{
		ActorID: actor, TransactionID: first.ID, InvoiceID: inv.ID, Amount: decimal.RequireFromString("400"),
	})
	require.NoError(t, err)
	require.NotNil(t, result.PaymentID)
	require.NotNil(t, result.Invoice)
	assert.False(t, result.Invoice.Paid)

	result, err = s.Reconciliation.ReconcileWithAllocation(ctx, financeapp.ReconcileAllocationRequest{
		ActorID: actor, TransactionID: second.ID, InvoiceID: inv.ID, Amount: decimal.RequireFromString("600"),
	})
	require.NoError(t, err)
	assert.True(t, result.Invoice.Paid)

	payments, err := s.InvoiceRepo.FindPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	_, err = s.Reconciliation.Unreconcile(ctx, financeapp.UnreconcileRequest{ActorID: actor, TransactionID: second.ID})
	require.NoError(t, err)

	stored, err := s.TxRepo.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reconciled)
	assert.Nil(t, stored.ReconciledWith)

	_, err = s.Reconciliation.Unreconcile(ctx, financeapp.UnreconcileRequest{ActorID: actor, TransactionID: second.ID})
	assert.True(t, errors.Is(err, finance.ErrTransactionNotReconciled))
}

func TestConsistencyAudit_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newFiscalSetup(t, nil)
	ctx := context.Background()

	inv := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-0000000000D1", "D-1", "800.00").Invoice
	tx := s.registerTransaction(t, "800.00")

	_, err := s.Reconciliation.ReconcileExact(ctx, financeapp.ReconcileExactRequest{
		ActorID: actor, TransactionID: tx.ID, InvoiceID: inv.ID,
	})
	require.NoError(t, err)

	report, err := s.Audit.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)

	// Simulate a lost invoice write
	require.NoError(t, s.InvoiceRepo.SetPaid(ctx, inv.ID, false, "repair-bot"))

	report, err = s.Audit.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	finding := report.Findings[0]
	assert.Equal(t, financeapp.FindingReconciledInvoiceUnpaid, finding.Code)
	assert.Equal(t, tx.ID, finding.TransactionID)
	assert.Equal(t, inv.ID, finding.InvoiceID)
	assert.False(t, report.Truncated)
}

func TestPaymentBatch_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newFiscalSetup(t, nil)
	ctx := context.Background()

	first := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-0000000000E1", "E-1", "300.00").Invoice
	second := s.ingest(t, "6F1A2B3C-4D5E-4F60-8A7B-0000000000E2", "E-2", "700.00").Invoice

	batch, err := s.Batches.CreateBatch(ctx, financeapp.CreateBatchRequest{ActorID: actor, Title: "Proveedores marzo"})
	require.NoError(t, err)
	assert.Equal(t, string(finance.BatchStatusBorrador), batch.Status)

	for _, inv := range []financeapp.InvoiceResponse{first, second} {
		batch, err = s.Batches.AddInvoice(ctx, financeapp.AddBatchInvoiceRequest{
			ActorID: actor, BatchID: batch.ID, InvoiceID: inv.ID, Amount: inv.TotalAmount,
		})
		require.NoError(t, err)
	}
	require.Len(t, batch.Items, 2)

	_, err = s.Batches.AddInvoice(ctx, financeapp.AddBatchInvoiceRequest{
		ActorID: actor, BatchID: batch.ID, InvoiceID: first.ID, Amount: decimal.NewFromInt(1),
	})
	assert.True(t, shared.IsKind(err, shared.KindValidation), "duplicate invoice must be rejected: %v", err)

	when := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	batch, err = s.Batches.Schedule(ctx, actor, batch.ID, &when)
	require.NoError(t, err)
	assert.Equal(t, string(finance.BatchStatusProgramado), batch.Status)

	paid, err := s.Batches.MarkPaid(ctx, actor, batch.ID)
	require.NoError(t, err)
	assert.False(t, paid.AlreadyPaid)
	assert.Equal(t, int64(2), paid.InvoicesMarked)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		inv, err := s.InvoiceRepo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, inv.Paid)
	}

	again, err := s.Batches.MarkPaid(ctx, actor, batch.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyPaid)

	_, err = s.Batches.Cancel(ctx, actor, batch.ID, "late")
	require.Error(t, err)
}

func TestPaymentBatch_ConcurrentItemsWithRedisLock(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewTestRedis(t)
	locker := cache.NewRedisBatchLocker(client, 10*time.Second, 5*time.Second, zap.NewNop())
	s := newFiscalSetup(t, locker)
	ctx := context.Background()

	batch, err := s.Batches.CreateBatch(ctx, financeapp.CreateBatchRequest{ActorID: actor, Title: "Concurrente"})
	require.NoError(t, err)

	const n = 6
	invoices := make([]financeapp.InvoiceResponse, n)
	for i := range n {
		invoices[i] = s.ingest(t, uuid.NewString(), "G-"+string(rune('A'+i)), "100.00").Invoice
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, inv := range invoices {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := s.Batches.AddInvoice(ctx, financeapp.AddBatchInvoiceRequest{
				ActorID: actor, BatchID: batch.ID, InvoiceID: id, Amount: decimal.NewFromInt(100),
			})
			errs <- err
		}(inv.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := s.BatchRepo.FindByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, n)
	assert.True(t, stored.Total().Equal(decimal.NewFromInt(100*n)))
}

func TestRedisBatchLocker_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewTestRedis(t)
	ctx := context.Background()
	batchID := uuid.New()

	holder := cache.NewRedisBatchLocker(client, 10*time.Second, 0, zap.NewNop())
	contender := cache.NewRedisBatchLocker(client, 10*time.Second, 150*time.Millisecond, zap.NewNop())

	unlock, err := holder.Lock(ctx, batchID)
	require.NoError(t, err)

	_, err = contender.Lock(ctx, batchID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrBatchBusy))

	t.Run("other batches are independent", func(t *testing.T) {
		release, err := contender.Lock(ctx, uuid.New())
		require.NoError(t, err)
		release()
	})

	unlock()

	release, err := contender.Lock(ctx, batchID)
	require.NoError(t, err)
	release()

	t.Run("release only removes own token", func(t *testing.T) {
		release, err := holder.Lock(ctx, batchID)
		require.NoError(t, err)
		key := "fiscal:batch-lock:" + batchID.String()
		require.NoError(t, client.Set(ctx, key, "someone-else", time.Minute).Err())

		release()
		val, err := client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, "someone-else", val)
	})
}
