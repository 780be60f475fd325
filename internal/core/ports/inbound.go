package ports

import (
	"context"
	"io"

	"github.com/veridoc/veridoc/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state and
// pipeline output.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetResult(ctx context.Context, documentID string) (*domain.DocumentResult, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}
