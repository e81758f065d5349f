package finance

import (
	"context"

	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/google/uuid"
)

// ArtifactStore stores invoice XML and PDF files. Every Upload returns a
// path no earlier Upload returned, so rollback may delete it safely. Paths
// returned by Upload are accepted by Delete.
type ArtifactStore interface {
	Upload(ctx context.Context, bucket, scopeID, filename string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, bucket, path string) error
}

// MetadataExtractor turns raw CFDI XML into invoice metadata
type MetadataExtractor interface {
	Extract(ctx context.Context, xml []byte) (*finance.CFDIMetadata, error)
}

// BatchLocker serializes mutations of a single payment batch
type BatchLocker interface {
	// Lock blocks until the batch is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, batchID uuid.UUID) (unlock func(), err error)
}

// ProgressFunc receives advisory ingestion progress between 0 and 100
type ProgressFunc func(percent int, stage string)
