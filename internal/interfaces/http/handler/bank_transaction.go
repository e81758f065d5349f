package handler

import (
	"context"
	"net/http"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Reconciler is the reconciliation engine as seen by HTTP
type Reconciler interface {
	ReconcileExact(ctx context.Context, req financeapp.ReconcileExactRequest) (*financeapp.ReconciliationResult, error)
	ReconcileWithAllocation(ctx context.Context, req financeapp.ReconcileAllocationRequest) (*financeapp.ReconciliationResult, error)
	Unreconcile(ctx context.Context, req financeapp.UnreconcileRequest) (*financeapp.ReconciliationResult, error)
	SuggestMatches(ctx context.Context, transactionID uuid.UUID, limit int) ([]finance.MatchSuggestion, error)
	RegisterTransaction(ctx context.Context, req financeapp.RegisterTransactionRequest) (*financeapp.BankTransactionResponse, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*financeapp.BankTransactionResponse, error)
	ListTransactions(ctx context.Context, filter finance.BankTransactionFilter) ([]financeapp.BankTransactionResponse, int64, error)
	ImportStatement(ctx context.Context, req financeapp.ImportStatementRequest) (*financeapp.ImportStatementResult, error)
}

const defaultSuggestionLimit = 5

// BankTransactionHandler handles bank transactions and their reconciliation
type BankTransactionHandler struct {
	BaseHandler
	reconciler     Reconciler
	maxUploadBytes int64
	loc            *time.Location
}

// NewBankTransactionHandler creates a new BankTransactionHandler
func NewBankTransactionHandler(reconciler Reconciler, maxUploadBytes int64, loc *time.Location) *BankTransactionHandler {
	return &BankTransactionHandler{reconciler: reconciler, maxUploadBytes: maxUploadBytes, loc: loc}
}

// Register godoc
// @ID           registerBankTransaction
// @Summary      Register a bank transaction
// @Tags         bank-transactions
// @Accept       json
// @Produce      json
// @Param        request body dto.RegisterTransactionRequest true "Transaction"
// @Success      201 {object} APIResponse[financeapp.BankTransactionResponse]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bank-transactions [post]
func (h *BankTransactionHandler) Register(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var req dto.RegisterTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	date, err := parseDate(req.Date, h.loc)
	if err != nil {
		h.ValidationError(c, "date", err.Error())
		return
	}

	tx, err := h.reconciler.RegisterTransaction(c.Request.Context(), financeapp.RegisterTransactionRequest{
		ActorID:       actor,
		BankAccountID: req.BankAccountID,
		Date:          *date,
		Description:   req.Description,
		Amount:        req.Amount,
		Type:          req.Type,
		Reference:     req.Reference,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, tx)
}

// ImportStatement godoc
// @ID           importBankStatement
// @Summary      Import a bank statement CSV
// @Description  Creates one transaction per valid row. Invalid rows are reported and skipped.
// @Tags         bank-transactions
// @Accept       multipart/form-data
// @Produce      json
// @Param        file            formData file   true  "Statement CSV"
// @Param        bank_account_id formData string true  "Bank account"
// @Param        delimiter       formData string false "Field delimiter, default ','"
// @Success      200 {object} APIResponse[financeapp.ImportStatementResult]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bank-transactions/import [post]
func (h *BankTransactionHandler) ImportStatement(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var form dto.ImportStatementForm
	if err := c.ShouldBind(&form); err != nil {
		h.BindError(c, err)
		return
	}
	file, err := readUpload(c, "file", h.maxUploadBytes)
	if err != nil {
		h.ValidationError(c, "file", err.Error())
		return
	}
	if file == nil {
		h.ValidationError(c, "file", "This field is required")
		return
	}
	if h.maxUploadBytes > 0 && int64(len(file.Data)) > h.maxUploadBytes {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Statement file is too large")
		return
	}

	var delimiter rune
	if form.Delimiter != "" {
		delimiter = []rune(form.Delimiter)[0]
	}
	result, err := h.reconciler.ImportStatement(c.Request.Context(), financeapp.ImportStatementRequest{
		ActorID:       actor,
		BankAccountID: form.BankAccountID,
		Data:          file.Data,
		Delimiter:     delimiter,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Get godoc
// @ID           getBankTransaction
// @Summary      Get bank transaction by ID
// @Tags         bank-transactions
// @Produce      json
// @Param        id path string true "Transaction ID"
// @Success      200 {object} APIResponse[financeapp.BankTransactionResponse]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bank-transactions/{id} [get]
func (h *BankTransactionHandler) Get(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	tx, err := h.reconciler.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, tx)
}

// List godoc
// @ID           listBankTransactions
// @Summary      List bank transactions
// @Tags         bank-transactions
// @Produce      json
// @Param        bank_account_id query string false "Account filter"
// @Param        reconciled      query bool   false "Reconciled filter"
// @Param        from            query string false "On or after (YYYY-MM-DD)"
// @Param        to              query string false "On or before (YYYY-MM-DD)"
// @Success      200 {object} APIResponse[[]financeapp.BankTransactionResponse]
// @Security     BearerAuth
// @Router       /bank-transactions [get]
func (h *BankTransactionHandler) List(c *gin.Context) {
	var q dto.TransactionListQuery
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

	filter := finance.BankTransactionFilter{
		Filter:        toFilter(q.ListRequest),
		BankAccountID: q.BankAccountID,
		Reconciled:    q.Reconciled,
		From:          from,
		To:            endOfDay(to),
	}
	txs, total, err := h.reconciler.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, txs, total, filter.Page, filter.PageSize)
}

// Reconcile godoc
// @ID           reconcileBankTransaction
// @Summary      Reconcile a transaction with one invoice
// @Description  Links the transaction to the invoice and marks the invoice paid.
// @Tags         reconciliation
// @Accept       json
// @Produce      json
// @Param        id      path string                    true "Transaction ID"
// @Param        request body dto.ReconcileExactRequest true "Invoice"
// @Success      200 {object} APIResponse[financeapp.ReconciliationResult]
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bank-transactions/{id}/reconcile [post]
func (h *BankTransactionHandler) Reconcile(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	txID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ReconcileExactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.reconciler.ReconcileExact(c.Request.Context(), financeapp.ReconcileExactRequest{
		ActorID:       actor,
		TransactionID: txID,
		InvoiceID:     uuid.MustParse(req.InvoiceID),
		ForcePaid:     req.ForcePaid,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Allocate godoc
// @ID           allocateBankTransaction
// @Summary      Apply part of a transaction to an invoice
// @Description  Records a partial payment. The invoice becomes paid once its balance reaches zero. An amount above the remaining balance answers 400.
// @Tags         reconciliation
// @Accept       json
// @Produce      json
// @Param        id      path string              true "Transaction ID"
// @Param        request body dto.AllocateRequest true "Allocation"
// @Success      200 {object} APIResponse[financeapp.ReconciliationResult]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bank-transactions/{id}/allocations [post]
func (h *BankTransactionHandler) Allocate(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	txID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if !req.Amount.IsPositive() {
		h.ValidationError(c, "amount", "Must be greater than 0")
		return
	}

	result, err := h.reconciler.ReconcileWithAllocation(c.Request.Context(), financeapp.ReconcileAllocationRequest{
		ActorID:       actor,
		TransactionID: txID,
		InvoiceID:     uuid.MustParse(req.InvoiceID),
		Amount:        req.Amount,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Unreconcile godoc
// @ID           unreconcileBankTransaction
// @Summary      Undo the reconciliation of a transaction
// @Tags         reconciliation
// @Produce      json
// @Param        id path string true "Transaction ID"
// @Success      200 {object} APIResponse[financeapp.ReconciliationResult]
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /bank-transactions/{id}/reconciliation [delete]
func (h *BankTransactionHandler) Unreconcile(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	txID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := h.reconciler.Unreconcile(c.Request.Context(), financeapp.UnreconcileRequest{
		ActorID:       actor,
		TransactionID: txID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Suggestions godoc
// @ID           suggestInvoiceMatches
// @Summary      Suggest invoices for an unreconciled transaction
// @Tags         reconciliation
// @Produce      json
// @Param        id    path  string true  "Transaction ID"
// @Param        limit query int    false "Maximum suggestions (1-50)"
// @Success      200 {object} APIResponse[[]finance.MatchSuggestion]
// @Security     BearerAuth
// @Router       /bank-transactions/{id}/suggestions [get]
func (h *BankTransactionHandler) Suggestions(c *gin.Context) {
	txID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var q dto.SuggestionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultSuggestionLimit
	}
	suggestions, err := h.reconciler.SuggestMatches(c.Request.Context(), txID, q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, suggestions)
}
