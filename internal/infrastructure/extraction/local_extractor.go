// Package extraction turns raw CFDI XML into invoice metadata.
package extraction

import (
	"context"
	"fmt"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/cfdi"
	"github.com/erp/fiscal/internal/domain/finance"
	"go.uber.org/zap"
)

// Ensure LocalExtractor implements MetadataExtractor
var _ financeapp.MetadataExtractor = (*LocalExtractor)(nil)

// LocalExtractor parses documents in process, bounded by a timeout
type LocalExtractor struct {
	timeout time.Duration
	logger  *zap.Logger
	parse   func([]byte) (*cfdi.Document, error)
}

// NewLocalExtractor creates a LocalExtractor. A zero timeout means 10s.
func NewLocalExtractor(timeout time.Duration, logger *zap.Logger) *LocalExtractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExtractor{timeout: timeout, logger: logger, parse: cfdi.Parse}
}

type extractResult struct {
	doc *cfdi.Document
	err error
}

// Extract parses xml and maps it onto CFDIMetadata. It returns when parsing
// finishes, the timeout elapses or ctx ends, whichever comes first.
func (e *LocalExtractor) Extract(ctx context.Context, xml []byte) (*finance.CFDIMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan extractResult, 1)
	start := time.Now()
	go func() {
		doc, err := e.parse(xml)
		done <- extractResult{doc: doc, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		meta := finance.NewCFDIMetadata(res.doc)
		e.logger.Debug("CFDI metadata extracted",
			zap.String("uuid", meta.UUID),
			zap.Int("items", res.doc.ItemCount()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return meta, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("metadata extraction aborted: %w", ctx.Err())
	}
}
