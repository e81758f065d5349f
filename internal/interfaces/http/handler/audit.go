package handler

import (
	"context"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/gin-gonic/gin"
)

// AuditRunner runs one consistency audit pass
type AuditRunner interface {
	Run(ctx context.Context) (*financeapp.AuditReport, error)
}

// AuditReportSource exposes the report of the last scheduled run
type AuditReportSource interface {
	LastReport() *financeapp.AuditReport
}

// AuditHandler exposes the reconciliation consistency audit
type AuditHandler struct {
	BaseHandler
	runner AuditRunner
	source AuditReportSource
}

// NewAuditHandler creates a new AuditHandler. source may be nil when the
// periodic audit is disabled.
func NewAuditHandler(runner AuditRunner, source AuditReportSource) *AuditHandler {
	return &AuditHandler{runner: runner, source: source}
}

// Run godoc
// @ID           runConsistencyAudit
// @Summary      Run the reconciliation consistency audit
// @Description  Lists reconciled transactions whose invoice is not paid or no longer exists.
// @Tags         audit
// @Produce      json
// @Success      200 {object} APIResponse[financeapp.AuditReport]
// @Security     BearerAuth
// @Router       /audit/consistency [post]
func (h *AuditHandler) Run(c *gin.Context) {
	report, err := h.runner.Run(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Last godoc
// @ID           getLastConsistencyAudit
// @Summary      Get the last scheduled audit report
// @Tags         audit
// @Produce      json
// @Success      200 {object} APIResponse[financeapp.AuditReport]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /audit/consistency [get]
func (h *AuditHandler) Last(c *gin.Context) {
	if h.source == nil {
		h.NotFound(c, "Scheduled audit is disabled")
		return
	}
	report := h.source.LastReport()
	if report == nil {
		h.NotFound(c, "No audit has completed yet")
		return
	}
	h.Success(c, report)
}
