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

const testFiscalUUID = "6F1A2B3C-4D5E-4F60-8A7B-9C0D1E2F3A4B"

type ingestionFixture struct {
	repo      *MockInvoiceRepository
	store     *MockArtifactStore
	extractor *MockMetadataExtractor
	service   *IngestionService
}

func newIngestionFixture() *ingestionFixture {
	f := &ingestionFixture{
		repo:      new(MockInvoiceRepository),
		store:     new(MockArtifactStore),
		extractor: new(MockMetadataExtractor),
	}
	f.service = NewIngestionService(f.repo, f.store, f.extractor, IngestionConfig{CleanupTimeout: time.Second}, nil)
	return f
}

func metadataWithTotal(total string) *finance.CFDIMetadata {
	t := decimal.RequireFromString(total)
	issued := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	return &finance.CFDIMetadata{
		Version:       "4.0",
		Folio:         "1024",
		IssuedAt:      &issued,
		PaymentMethod: "PPD",
		Currency:      "MXN",
		Total:         &t,
		UUID:          testFiscalUUID,
	}
}

func xmlFile() ArtifactFile {
	return ArtifactFile{Filename: "factura.xml", Data: []byte("<cfdi:Comprobante/>")}
}

func pdfFile() *ArtifactFile {
	return &ArtifactFile{Filename: "factura.PDF", Data: []byte("%PDF-1.4")}
}

func TestIngest_CreatesUnpaidInvoice(t *testing.T) {
	f := newIngestionFixture()
	f.store.On("Upload", mock.Anything, "cfdi", "ISS1", "factura.xml", mock.Anything, "application/xml").
		Return("ISS1/factura.xml", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(metadataWithTotal("1500.00"), nil)
	f.repo.On("FindByFiscalUUID", mock.Anything, testFiscalUUID).Return(nil, shared.ErrNotFound)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*finance.Invoice")).Return(nil)

	var steps []int
	result, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{
		ActorID:  "user-1",
		IssuerID: "ISS1",
		XML:      xmlFile(),
	}, func(p int, _ string) { steps = append(steps, p) })

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Created)
	assert.True(t, result.MetadataExtracted)
	assert.True(t, decimal.RequireFromString("1500.00").Equal(result.Invoice.TotalAmount))
	assert.False(t, result.Invoice.Paid)
	assert.Nil(t, result.Invoice.PDFPath)
	assert.Equal(t, "ISS1/factura.xml", result.Invoice.XMLPath)
	assert.Equal(t, "1024", result.Invoice.Folio)
	assert.Equal(t, "PPD", result.Invoice.PaymentMethod)

	assert.IsIncreasing(t, steps)
	assert.Equal(t, 100, steps[len(steps)-1])
	f.store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_RollbackOnRepositoryFailure(t *testing.T) {
	t.Run("insert failure deletes both artifacts", func(t *testing.T) {
		f := newIngestionFixture()
		f.store.On("Upload", mock.Anything, "cfdi", "ISS1", "factura.xml", mock.Anything, mock.Anything).Return("ISS1/factura.xml", nil)
		f.store.On("Upload", mock.Anything, "cfdi", "ISS1", "factura.PDF", mock.Anything, "application/pdf").Return("ISS1/factura.PDF", nil)
		f.store.On("Delete", mock.Anything, "cfdi", mock.Anything).Return(nil)
		f.extractor.On("Extract", mock.Anything, mock.Anything).Return(metadataWithTotal("1500.00"), nil)
		f.repo.On("FindByFiscalUUID", mock.Anything, testFiscalUUID).Return(nil, shared.ErrNotFound)
		insertErr := shared.NewRepositoryError("create invoice", errors.New("connection reset"))
		f.repo.On("Create", mock.Anything, mock.Anything).Return(insertErr)

		result, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{
			ActorID: "user-1", IssuerID: "ISS1", XML: xmlFile(), PDF: pdfFile(),
		}, nil)

		assert.Nil(t, result)
		assert.Same(t, insertErr, err)
		f.store.AssertNumberOfCalls(t, "Delete", 2)
		f.store.AssertCalled(t, "Delete", mock.Anything, "cfdi", "ISS1/factura.xml")
		f.store.AssertCalled(t, "Delete", mock.Anything, "cfdi", "ISS1/factura.PDF")
	})

	t.Run("cleanup failure does not mask the original error", func(t *testing.T) {
		f := newIngestionFixture()
		f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ISS1/factura.xml", nil)
		f.store.On("Delete", mock.Anything, "cfdi", "ISS1/factura.xml").Return(errors.New("bucket unavailable"))
		f.extractor.On("Extract", mock.Anything, mock.Anything).Return(nil, errors.New("not a CFDI"))
		insertErr := errors.New("unique violation")
		f.repo.On("Create", mock.Anything, mock.Anything).Return(insertErr)

		_, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{
			ActorID: "user-1", IssuerID: "ISS1", XML: xmlFile(),
		}, nil)

		assert.ErrorIs(t, err, insertErr)
		f.store.AssertNumberOfCalls(t, "Delete", 1)
	})

	t.Run("cleanup runs even when the caller is cancelled", func(t *testing.T) {
		f := newIngestionFixture()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ISS1/factura.xml", nil)
		f.store.On("Delete", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "cfdi", "ISS1/factura.xml").Return(nil)
		f.extractor.On("Extract", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
		f.repo.On("Create", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(context.Canceled)

		_, err := f.service.Ingest(ctx, IngestInvoiceRequest{ActorID: "user-1", IssuerID: "ISS1", XML: xmlFile()}, nil)

		assert.ErrorIs(t, err, context.Canceled)
		f.store.AssertNumberOfCalls(t, "Delete", 1)
	})

	t.Run("duplicate fiscal uuid rolls back", func(t *testing.T) {
		f := newIngestionFixture()
		f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ISS1/factura.xml", nil)
		f.store.On("Delete", mock.Anything, "cfdi", "ISS1/factura.xml").Return(nil)
		f.extractor.On("Extract", mock.Anything, mock.Anything).Return(metadataWithTotal("10"), nil)
		other := &finance.Invoice{}
		other.ID = uuid.New()
		f.repo.On("FindByFiscalUUID", mock.Anything, testFiscalUUID).Return(other, nil)

		_, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{ActorID: "user-1", IssuerID: "ISS1", XML: xmlFile()}, nil)

		require.Error(t, err)
		assert.True(t, shared.IsKind(err, shared.KindRepository))
		assert.ErrorIs(t, err, &shared.DomainError{Code: "DUPLICATE_FISCAL_UUID"})
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.store.AssertNumberOfCalls(t, "Delete", 1)
	})
}

func TestIngest_PDFUploadFailureRemovesXML(t *testing.T) {
	f := newIngestionFixture()
	f.store.On("Upload", mock.Anything, "cfdi", "ISS1", "factura.xml", mock.Anything, mock.Anything).Return("ISS1/factura.xml", nil)
	f.store.On("Upload", mock.Anything, "cfdi", "ISS1", "factura.PDF", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))
	f.store.On("Delete", mock.Anything, "cfdi", "ISS1/factura.xml").Return(nil)

	_, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{
		ActorID: "user-1", IssuerID: "ISS1", XML: xmlFile(), PDF: pdfFile(),
	}, nil)

	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindStorage))
	f.store.AssertNumberOfCalls(t, "Delete", 1)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestIngest_ExtractionFailureIsNotFatal(t *testing.T) {
	f := newIngestionFixture()
	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ISS1/factura.xml", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(nil, errors.New("malformed XML"))
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	result, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{ActorID: "user-1", IssuerID: "ISS1", XML: xmlFile()}, nil)

	require.NoError(t, err)
	assert.False(t, result.MetadataExtracted)
	assert.Equal(t, finance.NoFolio, result.Invoice.Folio)
	assert.True(t, result.Invoice.TotalAmount.IsZero())
	assert.Equal(t, "PUE", result.Invoice.PaymentMethod)
	assert.False(t, result.Invoice.IssuedAt.IsZero())
	f.repo.AssertNotCalled(t, "FindByFiscalUUID", mock.Anything, mock.Anything)
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   IngestInvoiceRequest
		field string
	}{
		{"missing actor", IngestInvoiceRequest{IssuerID: "ISS1", XML: xmlFile()}, "actor_id"},
		{"missing issuer", IngestInvoiceRequest{ActorID: "u", XML: xmlFile()}, "issuer_id"},
		{"xml with wrong extension", IngestInvoiceRequest{ActorID: "u", IssuerID: "ISS1", XML: ArtifactFile{Filename: "factura.txt", Data: []byte("x")}}, "xml"},
		{"empty xml", IngestInvoiceRequest{ActorID: "u", IssuerID: "ISS1", XML: ArtifactFile{Filename: "factura.xml"}}, "xml"},
		{"pdf with wrong extension", IngestInvoiceRequest{ActorID: "u", IssuerID: "ISS1", XML: xmlFile(), PDF: &ArtifactFile{Filename: "scan.png", Data: []byte("x")}}, "pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestionFixture()
			_, err := f.service.Ingest(context.Background(), tt.req, nil)

			require.Error(t, err)
			var de *shared.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, shared.KindValidation, de.Kind)
			assert.Equal(t, tt.field, de.Field)
			f.store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestIngest_ReplacesExistingInvoice(t *testing.T) {
	f := newIngestionFixture()
	existing := newInvoice(t, "800.00")
	existing.MarkPaid("user-0")

	f.repo.On("FindByID", mock.Anything, existing.ID).Return(existing, nil)
	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ISS1/v2.xml", nil)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(metadataWithTotal("1500.00"), nil)
	f.repo.On("FindByFiscalUUID", mock.Anything, testFiscalUUID).Return(existing, nil)
	f.repo.On("UpdateDocument", mock.Anything, existing).Return(nil)

	result, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{
		ActorID: "user-1", IssuerID: "ISS1", InvoiceID: &existing.ID, XML: xmlFile(),
	}, nil)

	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, existing.ID, result.Invoice.ID)
	assert.Equal(t, "ISS1/v2.xml", result.Invoice.XMLPath)
	assert.False(t, result.Invoice.Paid)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngest_UnknownInvoiceFailsBeforeUpload(t *testing.T) {
	f := newIngestionFixture()
	id := uuid.New()
	f.repo.On("FindByID", mock.Anything, id).Return(nil, shared.ErrNotFound)

	_, err := f.service.Ingest(context.Background(), IngestInvoiceRequest{
		ActorID: "user-1", IssuerID: "ISS1", InvoiceID: &id, XML: xmlFile(),
	}, nil)

	assert.ErrorIs(t, err, shared.ErrNotFound)
	f.store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// newInvoice builds a persisted-looking invoice with the given total
func newInvoice(t *testing.T, total string) *finance.Invoice {
	t.Helper()
	inv, err := finance.NewInvoice(finance.InvoiceSource{
		IssuerID: "ISS1",
		XMLPath:  "ISS1/factura.xml",
		Metadata: metadataWithTotal(total),
	}, "user-0")
	require.NoError(t, err)
	inv.ClearDomainEvents()
	return inv
}
