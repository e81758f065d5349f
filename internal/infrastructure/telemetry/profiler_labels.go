package telemetry

import (
	"context"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys
const (
	ProfilingLabelService   = "service"
	ProfilingLabelOperation = "operation"
	ProfilingLabelRoute     = "route"
	ProfilingLabelMethod    = "method"
	ProfilingLabelMode      = "mode"
)

// MaxLabelValueLength caps label values to keep profile cardinality bounded.
const MaxLabelValueLength = 128

// highCardinalityLabels never reach Pyroscope.
var highCardinalityLabels = map[string]bool{
	"actor_id":       true,
	"invoice_id":     true,
	"transaction_id": true,
	"batch_id":       true,
	"fiscal_uuid":    true,
	"trace_id":       true,
}

// WithProfilingLabels runs fn with pprof labels attached so CPU samples can
// be sliced by operation in Pyroscope.
//
//	telemetry.WithProfilingLabels(ctx, telemetry.FiscalOperationLabels("ingestion", "ingest"), func(c context.Context) {
//	    err = s.ingest(c, req, progress)
//	})
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	clean := sanitizeLabels(labels)
	if len(clean) == 0 {
		fn(ctx)
		return
	}
	args := make([]string, 0, len(clean)*2)
	for k, v := range clean {
		args = append(args, k, v)
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(args...), fn)
}

// FiscalOperationLabels returns the labels used by the application services.
func FiscalOperationLabels(service, operation string) map[string]string {
	return map[string]string{
		ProfilingLabelService:   service,
		ProfilingLabelOperation: operation,
	}
}

func sanitizeLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		if k == "" || v == "" || highCardinalityLabels[k] {
			continue
		}
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		out[k] = v
	}
	return out
}
