package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/infrastructure/logger"
	"github.com/erp/fiscal/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InvoiceIngester runs the ingestion pipeline
type InvoiceIngester interface {
	Ingest(ctx context.Context, req financeapp.IngestInvoiceRequest, progress financeapp.ProgressFunc) (*financeapp.IngestInvoiceResult, error)
}

// InvoiceReader serves invoice reads
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*financeapp.InvoiceResponse, error)
	ListInvoices(ctx context.Context, filter finance.InvoiceFilter) ([]financeapp.InvoiceResponse, int64, error)
}

// UploadLimits caps how much of each uploaded file is buffered. Anything
// over the cap is still passed on so the service reports the size error.
type UploadLimits struct {
	MaxXMLSize int64
	MaxPDFSize int64
}

// InvoiceHandler handles CFDI ingestion and invoice reads
type InvoiceHandler struct {
	BaseHandler
	ingester InvoiceIngester
	reader   InvoiceReader
	limits   UploadLimits
	loc      *time.Location
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(ingester InvoiceIngester, reader InvoiceReader, limits UploadLimits, loc *time.Location) *InvoiceHandler {
	return &InvoiceHandler{ingester: ingester, reader: reader, limits: limits, loc: loc}
}

// Ingest godoc
// @ID           ingestInvoice
// @Summary      Ingest a CFDI invoice
// @Description  Stores the XML and optional PDF, extracts CFDI metadata and creates the invoice.
// @Description  Artifacts are removed again when the invoice cannot be persisted.
// @Tags         invoices
// @Accept       multipart/form-data
// @Produce      json
// @Param        xml          formData  file    true   "CFDI XML document"
// @Param        pdf          formData  file    false  "Printed representation"
// @Param        issuer_id    formData  string  true   "Issuer id, used as storage scope"
// @Param        recipient_id formData  string  false  "Recipient id"
// @Param        project_id   formData  string  false  "Project id, used as storage scope"
// @Success      201 {object} APIResponse[financeapp.IngestInvoiceResult]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      502 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /invoices [post]
func (h *InvoiceHandler) Ingest(c *gin.Context) {
	h.ingest(c, nil)
}

// ReplaceDocument godoc
// @ID           replaceInvoiceDocument
// @Summary      Replace the CFDI document of an invoice
// @Description  Re-ingests the XML and optional PDF for an existing invoice. Payment state is reset.
// @Tags         invoices
// @Accept       multipart/form-data
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Param        xml  formData  file    true  "CFDI XML document"
// @Param        pdf  formData  file    false "Printed representation"
// @Success      200 {object} APIResponse[financeapp.IngestInvoiceResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /invoices/{id}/document [put]
func (h *InvoiceHandler) ReplaceDocument(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	h.ingest(c, &id)
}

func (h *InvoiceHandler) ingest(c *gin.Context, invoiceID *uuid.UUID) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}

	var form dto.IngestInvoiceForm
	if err := c.ShouldBind(&form); err != nil {
		h.BindError(c, err)
		return
	}

	xml, err := readUpload(c, "xml", h.limits.MaxXMLSize)
	if err != nil {
		h.ValidationError(c, "xml", err.Error())
		return
	}
	if xml == nil {
		h.ValidationError(c, "xml", "This field is required")
		return
	}
	pdf, err := readUpload(c, "pdf", h.limits.MaxPDFSize)
	if err != nil {
		h.ValidationError(c, "pdf", err.Error())
		return
	}

	ctx := c.Request.Context()
	log := logger.L(ctx)
	result, err := h.ingester.Ingest(ctx, financeapp.IngestInvoiceRequest{
		ActorID:     actor,
		IssuerID:    form.IssuerID,
		RecipientID: optionalString(form.RecipientID),
		ProjectID:   optionalString(form.ProjectID),
		InvoiceID:   invoiceID,
		XML:         *xml,
		PDF:         pdf,
	}, func(percent int, stage string) {
		log.Debug("Ingestion progress", zap.Int("percent", percent), zap.String("stage", stage))
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if result.Created {
		h.Created(c, result)
		return
	}
	h.Success(c, result)
}

// readUpload buffers one multipart file, reading at most limit+1 bytes.
// A missing field returns nil without error.
func readUpload(c *gin.Context, field string, limit int64) (*financeapp.ArtifactFile, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("unreadable upload: %w", err)
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("unreadable upload: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unreadable upload: %w", err)
	}
	return &financeapp.ArtifactFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Get godoc
// @ID           getInvoice
// @Summary      Get invoice by ID
// @Description  Returns the invoice with its payments and outstanding balance
// @Tags         invoices
// @Produce      json
// @Param        id path string true "Invoice ID"
// @Success      200 {object} APIResponse[financeapp.InvoiceResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	inv, err := h.reader.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}

// List godoc
// @ID           listInvoices
// @Summary      List invoices
// @Tags         invoices
// @Produce      json
// @Param        issuer_id  query string false "Issuer filter"
// @Param        project_id query string false "Project filter"
// @Param        paid       query bool   false "Paid filter"
// @Param        from       query string false "Issued on or after (YYYY-MM-DD)"
// @Param        to         query string false "Issued on or before (YYYY-MM-DD)"
// @Param        page       query int    false "Page number"
// @Param        page_size  query int    false "Page size"
// @Success      200 {object} APIResponse[[]financeapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	var q dto.InvoiceListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	from, err := parseDate(q.From, h.loc)
	if err != nil {
		h.ValidationError(c, "from", err.Error())
		return
	}
	to, err := parseDate(q.To, h.loc)
	if err != nil {
		h.ValidationError(c, "to", err.Error())
		return
	}

	filter := finance.InvoiceFilter{
		Filter:    toFilter(q.ListRequest),
		IssuerID:  q.IssuerID,
		ProjectID: q.ProjectID,
		Paid:      q.Paid,
		From:      from,
		To:        endOfDay(to),
	}
	invoices, total, err := h.reader.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, invoices, total, filter.Page, filter.PageSize)
}
