package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when FiscalMetrics is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Metric attribute keys
var (
	AttrOutcome  = attribute.Key("outcome")
	AttrMode     = attribute.Key("mode")
	AttrFrom     = attribute.Key("from")
	AttrTo       = attribute.Key("to")
	AttrFinding  = attribute.Key("finding")
	AttrArtifact = attribute.Key("artifact")
)

// FiscalMetrics holds the business counters of the engine. All Record
// methods are safe on a nil receiver.
type FiscalMetrics struct {
	ingestions       *Counter
	ingestDuration   *Histogram
	rollbackDeletes  *Counter
	cleanupFailures  *Counter
	reconciliations  *Counter
	unreconciles     *Counter
	batchTransitions *Counter
	balanceWarnings  *Counter
	auditFindings    *Counter
}

// NewFiscalMetrics registers all instruments on meter.
func NewFiscalMetrics(meter metric.Meter) (*FiscalMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	var (
		m   FiscalMetrics
		err error
	)
	counters := []struct {
		dst               **Counter
		name, description string
	}{
		{&m.ingestions, "fiscal_ingestions_total", "Invoice ingestions by outcome"},
		{&m.rollbackDeletes, "fiscal_rollback_deletes_total", "Artifacts deleted while rolling back an ingestion"},
		{&m.cleanupFailures, "fiscal_cleanup_failures_total", "Artifacts that could not be deleted during rollback"},
		{&m.reconciliations, "fiscal_reconciliations_total", "Bank transactions reconciled by mode"},
		{&m.unreconciles, "fiscal_unreconciliations_total", "Reconciliations undone"},
		{&m.batchTransitions, "fiscal_batch_transitions_total", "Payment batch status transitions"},
		{&m.balanceWarnings, "fiscal_batch_balance_warnings_total", "Batch items exceeding the invoice balance"},
		{&m.auditFindings, "fiscal_audit_findings_total", "Consistency audit findings"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.description, "{count}"); err != nil {
			return nil, err
		}
	}
	m.ingestDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "fiscal_ingestion_duration_seconds",
		Description: "Invoice ingestion latency",
		Unit:        "s",
		Boundaries:  []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordIngestion records one ingestion attempt.
func (m *FiscalMetrics) RecordIngestion(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ingestions.Inc(ctx, AttrOutcome.String(outcome))
	m.ingestDuration.RecordDuration(ctx, elapsed, AttrOutcome.String(outcome))
}

// RecordRollbackDelete records a compensating artifact delete.
func (m *FiscalMetrics) RecordRollbackDelete(ctx context.Context, artifact string, failed bool) {
	if m == nil {
		return
	}
	m.rollbackDeletes.Inc(ctx, AttrArtifact.String(artifact))
	if failed {
		m.cleanupFailures.Inc(ctx, AttrArtifact.String(artifact))
	}
}

// RecordReconciliation records a reconcile in the given mode.
func (m *FiscalMetrics) RecordReconciliation(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.reconciliations.Inc(ctx, AttrMode.String(mode))
}

// RecordUnreconcile records an undone reconciliation.
func (m *FiscalMetrics) RecordUnreconcile(ctx context.Context) {
	if m == nil {
		return
	}
	m.unreconciles.Inc(ctx)
}

// RecordBatchTransition records a payment batch status change.
func (m *FiscalMetrics) RecordBatchTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.batchTransitions.Inc(ctx, AttrFrom.String(from), AttrTo.String(to))
}

// RecordBalanceWarning records a batch item larger than the invoice balance.
func (m *FiscalMetrics) RecordBalanceWarning(ctx context.Context) {
	if m == nil {
		return
	}
	m.balanceWarnings.Inc(ctx)
}

// RecordAuditFindings records n findings of kind.
func (m *FiscalMetrics) RecordAuditFindings(ctx context.Context, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.auditFindings.Add(ctx, int64(n), AttrFinding.String(kind))
}
