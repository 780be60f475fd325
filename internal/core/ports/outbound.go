package ports

import (
	"context"
	"io"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/schema"
)

// DocumentRepository persists and reads document state and results.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateState(ctx context.Context, id string, state domain.DocumentState) error
	MarkFailed(ctx context.Context, id string, reason domain.FailureReason, errMessage string) error
	SaveType(ctx context.Context, id string, docType domain.DocumentType) error
	SaveResult(ctx context.Context, result *domain.DocumentResult) error
	GetResult(ctx context.Context, documentID string) (*domain.DocumentResult, error)
	// ListUnsettled returns ids of documents in non-terminal states,
	// oldest first. Used to resume work after a crash.
	ListUnsettled(ctx context.Context, limit int) ([]string, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// OCRResult is the recognized text of a document plus whatever quality
// hints the backend reports. CharConfidence, when present, is aligned
// with Text byte-for-byte.
type OCRResult struct {
	Text           string
	CharConfidence []float64
}

// OCRBackend turns a stored document into recognized text.
type OCRBackend interface {
	Recognize(ctx context.Context, doc *domain.Document, data io.Reader) (*OCRResult, error)
}

// Classifier assigns one of the supported document types to recognized
// text.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.DocumentType, error)
}

// FieldExtractor pulls structured fields from recognized text. Repair is
// the single re-prompt allowed after a schema violation; violations carry
// the validator's complaints about the previous draft.
type FieldExtractor interface {
	Extract(ctx context.Context, docType domain.DocumentType, text string) (*schema.ExtractionDraft, error)
	Repair(ctx context.Context, docType domain.DocumentType, text string, violations []string) (*schema.ExtractionDraft, error)
}
