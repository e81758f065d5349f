package finance

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultArtifactBucket holds invoice XML and PDF files
const DefaultArtifactBucket = "cfdi"

// IngestionConfig tunes the ingestion pipeline
type IngestionConfig struct {
	Bucket         string
	MaxXMLSize     int64
	MaxPDFSize     int64
	CleanupTimeout time.Duration
}

// IngestionService stores CFDI artifacts and persists the invoice that
// references them. Artifacts uploaded by a failed run are deleted before
// the error is returned.
type IngestionService struct {
	invoiceRepo    finance.InvoiceRepository
	store          ArtifactStore
	extractor      MetadataExtractor
	eventPublisher shared.EventPublisher
	metrics        *telemetry.FiscalMetrics
	logger         *zap.Logger
	config         IngestionConfig
}

// NewIngestionService creates a new IngestionService
func NewIngestionService(
	invoiceRepo finance.InvoiceRepository,
	store ArtifactStore,
	extractor MetadataExtractor,
	config IngestionConfig,
	logger *zap.Logger,
) *IngestionService {
	if config.Bucket == "" {
		config.Bucket = DefaultArtifactBucket
	}
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{
		invoiceRepo: invoiceRepo,
		store:       store,
		extractor:   extractor,
		logger:      logger,
		config:      config,
	}
}

// SetEventPublisher sets the event publisher for invoice events
func (s *IngestionService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the business metrics recorder
func (s *IngestionService) SetMetrics(metrics *telemetry.FiscalMetrics) {
	s.metrics = metrics
}

type uploadedArtifact struct {
	kind string
	path string
}

// Ingest uploads the XML (and PDF), extracts metadata, and creates or
// updates the invoice. Extraction failure is logged and ingestion continues
// with empty metadata.
func (s *IngestionService) Ingest(ctx context.Context, req IngestInvoiceRequest, progress ProgressFunc) (result *IngestInvoiceResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ingestion", "ingest")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrActorID, req.ActorID,
		telemetry.SpanAttrIssuerID, req.IssuerID,
	)

	started := time.Now()
	report := monotonic(progress)
	var uploaded []uploadedArtifact

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			telemetry.RecordError(span, err)
			if len(uploaded) > 0 {
				outcome = "rolled_back"
				s.rollback(ctx, uploaded)
			}
		}
		s.metrics.RecordIngestion(ctx, outcome, time.Since(started))
	}()

	telemetry.WithProfilingLabels(ctx, telemetry.FiscalOperationLabels("ingestion", "ingest"), func(c context.Context) {
		result, err = s.ingest(c, req, report, &uploaded)
	})
	return result, err
}

func (s *IngestionService) ingest(ctx context.Context, req IngestInvoiceRequest, report ProgressFunc, uploaded *[]uploadedArtifact) (*IngestInvoiceResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var existing *finance.Invoice
	if req.InvoiceID != nil {
		inv, err := s.invoiceRepo.FindByID(ctx, *req.InvoiceID)
		if err != nil {
			return nil, err
		}
		existing = inv
	}
	report(10, "validated")

	xmlPath, err := s.upload(ctx, req.IssuerID, req.XML, "application/xml")
	if err != nil {
		return nil, err
	}
	*uploaded = append(*uploaded, uploadedArtifact{kind: "xml", path: xmlPath})
	report(30, "xml_uploaded")

	var pdfPath *string
	if req.PDF != nil {
		path, err := s.upload(ctx, req.IssuerID, *req.PDF, "application/pdf")
		if err != nil {
			return nil, err
		}
		*uploaded = append(*uploaded, uploadedArtifact{kind: "pdf", path: path})
		pdfPath = &path
	}
	report(50, "pdf_uploaded")

	meta, err := s.extractor.Extract(ctx, req.XML.Data)
	if err != nil {
		s.logger.Warn("CFDI metadata extraction failed, continuing with empty metadata",
			zap.String("issuer_id", req.IssuerID),
			zap.String("xml_path", xmlPath),
			zap.Error(err),
		)
		meta = nil
	}
	report(70, "metadata_extracted")

	src := finance.InvoiceSource{
		IssuerID:    req.IssuerID,
		RecipientID: req.RecipientID,
		ProjectID:   req.ProjectID,
		XMLPath:     xmlPath,
		PDFPath:     pdfPath,
		Metadata:    meta,
		ReceivedAt:  time.Now(),
	}

	inv, err := s.persist(ctx, existing, src, req.ActorID)
	if err != nil {
		return nil, err
	}
	report(90, "persisted")

	s.publishEvents(ctx, inv)
	report(100, "done")

	return &IngestInvoiceResult{
		Invoice:           ToInvoiceResponse(inv),
		Created:           existing == nil,
		MetadataExtracted: meta != nil && !meta.IsEmpty(),
	}, nil
}

func (s *IngestionService) validate(req IngestInvoiceRequest) error {
	if req.ActorID == "" {
		return shared.NewValidationError("actor_id", "Actor ID is required")
	}
	if strings.TrimSpace(req.IssuerID) == "" {
		return shared.NewValidationError("issuer_id", "Issuer ID is required")
	}
	if !hasExtension(req.XML.Filename, ".xml") {
		return shared.NewValidationError("xml", "An .xml file is required")
	}
	if len(req.XML.Data) == 0 {
		return shared.NewValidationError("xml", "XML file is empty")
	}
	if s.config.MaxXMLSize > 0 && int64(len(req.XML.Data)) > s.config.MaxXMLSize {
		return shared.NewValidationError("xml", fmt.Sprintf("XML file exceeds %d bytes", s.config.MaxXMLSize))
	}
	if req.PDF != nil {
		if !hasExtension(req.PDF.Filename, ".pdf") {
			return shared.NewValidationError("pdf", "Companion file must be a .pdf")
		}
		if len(req.PDF.Data) == 0 {
			return shared.NewValidationError("pdf", "PDF file is empty")
		}
		if s.config.MaxPDFSize > 0 && int64(len(req.PDF.Data)) > s.config.MaxPDFSize {
			return shared.NewValidationError("pdf", fmt.Sprintf("PDF file exceeds %d bytes", s.config.MaxPDFSize))
		}
	}
	return nil
}

func (s *IngestionService) upload(ctx context.Context, scopeID string, file ArtifactFile, defaultType string) (string, error) {
	contentType := file.ContentType
	if contentType == "" {
		contentType = defaultType
	}
	path, err := s.store.Upload(ctx, s.config.Bucket, scopeID, filepath.Base(file.Filename), file.Data, contentType)
	if err != nil {
		if shared.IsKind(err, shared.KindStorage) {
			return "", err
		}
		return "", shared.NewStorageError("upload", err)
	}
	return path, nil
}

// persist writes the invoice row. Any error here triggers artifact rollback.
func (s *IngestionService) persist(ctx context.Context, existing *finance.Invoice, src finance.InvoiceSource, actorID string) (*finance.Invoice, error) {
	if src.Metadata != nil && src.Metadata.UUID != "" {
		other, err := s.invoiceRepo.FindByFiscalUUID(ctx, src.Metadata.UUID)
		switch {
		case err == nil && (existing == nil || other.ID != existing.ID):
			return nil, &shared.DomainError{
				Kind:    finance.ErrDuplicateFiscalUUID.Kind,
				Code:    finance.ErrDuplicateFiscalUUID.Code,
				Message: fmt.Sprintf("Fiscal UUID %s already belongs to invoice %s", src.Metadata.UUID, other.ID),
			}
		case err != nil && !errors.Is(err, shared.ErrNotFound):
			return nil, err
		}
	}

	if existing != nil {
		if err := existing.ReplaceDocument(src, actorID); err != nil {
			return nil, err
		}
		if err := s.invoiceRepo.UpdateDocument(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	inv, err := finance.NewInvoice(src, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// rollback deletes every uploaded artifact. It runs detached from the
// caller's cancellation and never replaces the original error.
func (s *IngestionService) rollback(ctx context.Context, uploaded []uploadedArtifact) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CleanupTimeout)
	defer cancel()

	for _, a := range uploaded {
		err := s.store.Delete(cleanupCtx, s.config.Bucket, a.path)
		s.metrics.RecordRollbackDelete(cleanupCtx, a.kind, err != nil)
		if err != nil {
			s.logger.Warn("Failed to delete artifact during ingestion rollback",
				zap.String("kind", a.kind),
				zap.String("path", a.path),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("Deleted artifact during ingestion rollback",
			zap.String("kind", a.kind),
			zap.String("path", a.path),
		)
	}
}

func (s *IngestionService) publishEvents(ctx context.Context, inv *finance.Invoice) {
	events := inv.PullDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish invoice events",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
	}
}

func hasExtension(filename, ext string) bool {
	return strings.EqualFold(filepath.Ext(filename), ext)
}

// monotonic wraps fn so reported percentages never decrease
func monotonic(fn ProgressFunc) ProgressFunc {
	last := -1
	return func(percent int, stage string) {
		if fn == nil || percent <= last {
			return
		}
		last = percent
		fn(percent, stage)
	}
}
