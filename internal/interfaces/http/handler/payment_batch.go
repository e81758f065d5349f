package handler

import (
	"context"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BatchManager is the payment batch lifecycle as seen by HTTP
type BatchManager interface {
	CreateBatch(ctx context.Context, req financeapp.CreateBatchRequest) (*financeapp.PaymentBatchResponse, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*financeapp.PaymentBatchResponse, error)
	ListBatches(ctx context.Context, filter shared.Filter, status string) ([]financeapp.PaymentBatchResponse, int64, error)
	AddInvoice(ctx context.Context, req financeapp.AddBatchInvoiceRequest) (*financeapp.PaymentBatchResponse, error)
	RemoveInvoice(ctx context.Context, actorID string, itemID uuid.UUID) (*financeapp.PaymentBatchResponse, error)
	Schedule(ctx context.Context, actorID string, batchID uuid.UUID, date *time.Time) (*financeapp.PaymentBatchResponse, error)
	Cancel(ctx context.Context, actorID string, batchID uuid.UUID, reason string) (*financeapp.PaymentBatchResponse, error)
	MarkPaid(ctx context.Context, actorID string, batchID uuid.UUID) (*financeapp.MarkBatchPaidResult, error)
}

// PaymentBatchHandler handles payment batch endpoints
type PaymentBatchHandler struct {
	BaseHandler
	batches BatchManager
	loc     *time.Location
}

// NewPaymentBatchHandler creates a new PaymentBatchHandler
func NewPaymentBatchHandler(batches BatchManager, loc *time.Location) *PaymentBatchHandler {
	return &PaymentBatchHandler{batches: batches, loc: loc}
}

// Create godoc
// @ID           createPaymentBatch
// @Summary      Create a payment batch
// @Tags         payment-batches
// @Accept       json
// @Produce      json
// @Param        request body dto.CreateBatchRequest true "Batch"
// @Success      201 {object} APIResponse[financeapp.PaymentBatchResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batches [post]
func (h *PaymentBatchHandler) Create(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	date, err := parseDate(req.ScheduledDate, h.loc)
	if err != nil {
		h.ValidationError(c, "scheduled_date", err.Error())
		return
	}

	batch, err := h.batches.CreateBatch(c.Request.Context(), financeapp.CreateBatchRequest{
		ActorID:       actor,
		Title:         req.Title,
		BankAccountID: optionalString(req.BankAccountID),
		ScheduledDate: date,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, batch)
}

// Get godoc
// @ID           getPaymentBatch
// @Summary      Get payment batch by ID
// @Tags         payment-batches
// @Produce      json
// @Param        id path string true "Batch ID"
// @Success      200 {object} APIResponse[financeapp.PaymentBatchResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batches/{id} [get]
func (h *PaymentBatchHandler) Get(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	batch, err := h.batches.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// List godoc
// @ID           listPaymentBatches
// @Summary      List payment batches
// @Tags         payment-batches
// @Produce      json
// @Param        status query string false "borrador, programado, pagado or cancelado"
// @Success      200 {object} APIResponse[[]financeapp.PaymentBatchResponse]
// @Security     BearerAuth
// @Router       /payment-batches [get]
func (h *PaymentBatchHandler) List(c *gin.Context) {
	var q dto.BatchListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	filter := toFilter(q.ListRequest)
	batches, total, err := h.batches.ListBatches(c.Request.Context(), filter, q.Status)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, batches, total, filter.Page, filter.PageSize)
}

// AddInvoice godoc
// @ID           addPaymentBatchInvoice
// @Summary      Add an invoice to a draft batch
// @Tags         payment-batches
// @Accept       json
// @Produce      json
// @Param        id      path string                     true "Batch ID"
// @Param        request body dto.AddBatchInvoiceRequest true "Item"
// @Success      200 {object} APIResponse[financeapp.PaymentBatchResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batches/{id}/items [post]
func (h *PaymentBatchHandler) AddInvoice(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	batchID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AddBatchInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if !req.Amount.IsPositive() {
		h.ValidationError(c, "amount", "Must be greater than 0")
		return
	}

	batch, err := h.batches.AddInvoice(c.Request.Context(), financeapp.AddBatchInvoiceRequest{
		ActorID:   actor,
		BatchID:   batchID,
		InvoiceID: uuid.MustParse(req.InvoiceID),
		Amount:    req.Amount,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// RemoveInvoice godoc
// @ID           removePaymentBatchItem
// @Summary      Remove an item from a draft batch
// @Tags         payment-batches
// @Produce      json
// @Param        id path string true "Batch item ID"
// @Success      200 {object} APIResponse[financeapp.PaymentBatchResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batch-items/{id} [delete]
func (h *PaymentBatchHandler) RemoveInvoice(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	itemID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	batch, err := h.batches.RemoveInvoice(c.Request.Context(), actor, itemID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// Schedule godoc
// @ID           schedulePaymentBatch
// @Summary      Schedule a draft batch
// @Tags         payment-batches
// @Accept       json
// @Produce      json
// @Param        id      path string                   true "Batch ID"
// @Param        request body dto.ScheduleBatchRequest true "Date"
// @Success      200 {object} APIResponse[financeapp.PaymentBatchResponse]
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batches/{id}/schedule [post]
func (h *PaymentBatchHandler) Schedule(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	batchID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ScheduleBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	date, err := parseDate(req.ScheduledDate, h.loc)
	if err != nil {
		h.ValidationError(c, "scheduled_date", err.Error())
		return
	}

	batch, err := h.batches.Schedule(c.Request.Context(), actor, batchID, date)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// Cancel godoc
// @ID           cancelPaymentBatch
// @Summary      Cancel a batch
// @Tags         payment-batches
// @Accept       json
// @Produce      json
// @Param        id      path string                 true  "Batch ID"
// @Param        request body dto.CancelBatchRequest false "Reason"
// @Success      200 {object} APIResponse[financeapp.PaymentBatchResponse]
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batches/{id}/cancel [post]
func (h *PaymentBatchHandler) Cancel(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	batchID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CancelBatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}

	batch, err := h.batches.Cancel(c.Request.Context(), actor, batchID, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, batch)
}

// MarkPaid godoc
// @ID           payPaymentBatch
// @Summary      Mark a batch paid
// @Description  Moves the batch to pagado and marks every member invoice paid.
// @Description  Repeating the call on a pagado batch retries the invoice update.
// @Tags         payment-batches
// @Produce      json
// @Param        id path string true "Batch ID"
// @Success      200 {object} APIResponse[financeapp.MarkBatchPaidResult]
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /payment-batches/{id}/pay [post]
func (h *PaymentBatchHandler) MarkPaid(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	batchID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := h.batches.MarkPaid(c.Request.Context(), actor, batchID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
