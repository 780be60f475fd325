package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/ports"
	"github.com/veridoc/veridoc/internal/core/schema"
	"github.com/veridoc/veridoc/internal/core/scoring"
	"github.com/veridoc/veridoc/internal/core/validation"
)

// classifySnippetLimit bounds the text re-sent on the single
// classification retry; a shorter snippet strips the OCR tail noise that
// most often derails the first attempt.
const classifySnippetLimit = 1200

// ProcessDocumentUseCase drives one document through the fixed pipeline:
// OCR, classification, extraction, cross-field validation, scoring,
// per-field validation, result assembly. Every run ends in exactly one of
// the two terminal states.
type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	ocr        ports.OCRBackend
	classifier ports.Classifier
	extractor  ports.FieldExtractor
	registry   *schema.Registry
	scorer     *scoring.Scorer
	engine     *validation.Engine
	now        func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	ocr ports.OCRBackend,
	classifier ports.Classifier,
	extractor ports.FieldExtractor,
	registry *schema.Registry,
	scorer *scoring.Scorer,
	engine *validation.Engine,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:       repo,
		storage:    storage,
		ocr:        ocr,
		classifier: classifier,
		extractor:  extractor,
		registry:   registry,
		scorer:     scorer,
		engine:     engine,
		now:        time.Now,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.State.Terminal() {
		// Redelivered event for an already settled document.
		return nil
	}

	if err := uc.runPipeline(ctx, doc); err != nil {
		reason := failureReason(ctx, err)
		if failErr := uc.repo.MarkFailed(context.WithoutCancel(ctx), doc.ID, reason, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed: %v", err, failErr)
		}
		return err
	}
	return nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document) error {
	recognized, err := uc.recognize(ctx, doc)
	if err != nil {
		return err
	}
	if err := uc.commit(ctx, doc, domain.StateOCRDone); err != nil {
		return err
	}

	docType, err := uc.classify(ctx, recognized.Text)
	if err != nil {
		return err
	}
	if err := uc.repo.SaveType(ctx, doc.ID, docType); err != nil {
		return fmt.Errorf("save document type: %w", err)
	}
	doc.Type = docType
	if err := uc.commit(ctx, doc, domain.StateClassified); err != nil {
		return err
	}

	sch, err := uc.registry.Get(docType)
	if err != nil {
		return domain.WrapError(domain.ErrClassification, "resolve schema", err)
	}

	fields, err := uc.extract(ctx, docType, sch, recognized.Text)
	if err != nil {
		return err
	}
	if err := uc.commit(ctx, doc, domain.StateExtracted); err != nil {
		return err
	}

	// Cross-field verdicts must exist before any field is scored so no
	// breakdown is left partial.
	crossFindings, consistency := uc.engine.CrossFieldPass(docType, fields)

	in := scoring.Input{
		Text:           recognized.Text,
		CharConfidence: recognized.CharConfidence,
		Consistency:    consistency,
	}
	for i := range fields {
		uc.scorer.Score(&fields[i], fieldKeywords(sch, fields[i].Name), in)
	}
	if err := uc.commit(ctx, doc, domain.StateScored); err != nil {
		return err
	}

	fieldFindings := uc.engine.FieldPass(docType, fields)
	findings := append(crossFindings, fieldFindings...)
	validation.Apply(fields, findings)
	result := validation.Finalize(fields, findings)
	if err := uc.commit(ctx, doc, domain.StateValidated); err != nil {
		return err
	}

	docResult := &domain.DocumentResult{
		DocumentID:        doc.ID,
		Type:              docType,
		Fields:            fields,
		OverallConfidence: scoring.Overall(fields, criticalNames(sch, fields)),
		Verdict:           result.Verdict,
		Messages:          result.Messages(),
		ProcessedAt:       uc.now().UTC(),
	}
	if err := uc.repo.SaveResult(ctx, docResult); err != nil {
		return fmt.Errorf("save document result: %w", err)
	}
	return uc.commit(ctx, doc, domain.StateComplete)
}

func (uc *ProcessDocumentUseCase) recognize(ctx context.Context, doc *domain.Document) (*ports.OCRResult, error) {
	data, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer data.Close()

	recognized, err := uc.ocr.Recognize(ctx, doc, data)
	if err != nil {
		return nil, domain.WrapError(domain.ErrOCR, "recognize document", err)
	}
	if recognized == nil || recognized.Text == "" {
		return nil, domain.WrapError(domain.ErrOCR, "recognize document", errors.New("empty recognized text"))
	}
	return recognized, nil
}

// classify asks the collaborator for the document type and retries exactly
// once on a shortened snippet before giving up.
func (uc *ProcessDocumentUseCase) classify(ctx context.Context, text string) (domain.DocumentType, error) {
	docType, err := uc.classifyOnce(ctx, text)
	if err == nil {
		return docType, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	snippet := text
	if len(snippet) > classifySnippetLimit {
		snippet = snippet[:classifySnippetLimit]
	}
	docType, retryErr := uc.classifyOnce(ctx, snippet)
	if retryErr != nil {
		return "", domain.WrapError(domain.ErrClassification, "classify document", errors.Join(err, retryErr))
	}
	return docType, nil
}

func (uc *ProcessDocumentUseCase) classifyOnce(ctx context.Context, text string) (domain.DocumentType, error) {
	docType, err := uc.classifier.Classify(ctx, text)
	if err != nil {
		return "", err
	}
	if !domain.KnownDocumentType(docType) {
		return "", fmt.Errorf("classifier returned unsupported type %q", docType)
	}
	return docType, nil
}

// extract runs the extraction collaborator with at most one schema-repair
// re-prompt. A structurally valid draft with zero fields gets the same
// re-prompt as a violating one. A draft that still violates the schema
// after repair is used anyway if any fields parsed; a draft with nothing
// usable fails the document.
func (uc *ProcessDocumentUseCase) extract(ctx context.Context, docType domain.DocumentType, sch *schema.DocumentSchema, text string) ([]domain.ExtractedField, error) {
	draft, err := uc.extractor.Extract(ctx, docType, text)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSchemaViolation, "extract fields", err)
	}

	violations := draft.Violations
	if len(violations) == 0 && len(draft.Fields) == 0 {
		violations = []string{"/fields: empty, expected at least one extracted field"}
	}
	if len(violations) > 0 {
		repaired, repairErr := uc.extractor.Repair(ctx, docType, text, violations)
		if repairErr == nil && repaired != nil {
			draft = repaired
		}
	}
	if len(draft.Fields) == 0 {
		return nil, domain.WrapError(domain.ErrSchemaViolation, "extract fields",
			fmt.Errorf("no usable fields after repair: %v", violations))
	}
	return bindFields(sch, draft, text), nil
}

func (uc *ProcessDocumentUseCase) commit(ctx context.Context, doc *domain.Document, state domain.DocumentState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := uc.repo.UpdateState(ctx, doc.ID, state); err != nil {
		return fmt.Errorf("set state=%s: %w", state, err)
	}
	doc.State = state
	return nil
}

// bindFields converts the raw draft into schema-bound fields: each draft
// field picks up its spec's kind and required flag, values outside the
// schema are kept but marked unknown, and required specs with no draft
// entry are materialized as missing.
func bindFields(sch *schema.DocumentSchema, draft *schema.ExtractionDraft, text string) []domain.ExtractedField {
	fields := make([]domain.ExtractedField, 0, len(draft.Fields))
	matched := make(map[string]bool)

	for _, df := range draft.Fields {
		if df.Name == "" {
			continue
		}
		field := domain.ExtractedField{
			Name:    df.Name,
			Kind:    domain.KindFreeText,
			LLMConf: df.Confidence,
			Status:  domain.FieldUnchecked,
			Span:    boundSpan(df.Span, len(text)),
		}
		if df.Value != nil {
			field.Value = *df.Value
		}
		field.Missing = field.Value == ""

		if spec, ok := sch.Lookup(df.Name); ok {
			field.Kind = spec.Kind
			field.Required = spec.Required
			matched[spec.Name] = true
		} else {
			field.Unknown = true
		}
		fields = append(fields, field)
	}

	for _, spec := range sch.Required() {
		if matched[spec.Name] {
			continue
		}
		fields = append(fields, domain.ExtractedField{
			Name:     spec.Name,
			Kind:     spec.Kind,
			Required: true,
			Missing:  true,
			Status:   domain.FieldUnchecked,
		})
	}
	return fields
}

func boundSpan(span *domain.Span, textLen int) *domain.Span {
	if span == nil || span.Start < 0 || span.End > textLen || span.Start >= span.End {
		return nil
	}
	return span
}

func fieldKeywords(sch *schema.DocumentSchema, name string) []string {
	if spec, ok := sch.Lookup(name); ok {
		return spec.Keywords
	}
	return nil
}

// criticalNames resolves the required specs to concrete field names for
// the overall-confidence aggregation. Prefix specs count as satisfied by
// their first present instance.
func criticalNames(sch *schema.DocumentSchema, fields []domain.ExtractedField) []string {
	var out []string
	for _, spec := range sch.Required() {
		name := spec.Name
		if spec.Prefix {
			for _, f := range fields {
				if !f.Missing && spec.Matches(f.Name) {
					name = f.Name
					break
				}
			}
		}
		out = append(out, name)
	}
	return out
}

// failureReason maps a pipeline error to the recorded terminal cause.
func failureReason(ctx context.Context, err error) domain.FailureReason {
	switch {
	case ctx.Err() != nil:
		return domain.ReasonCanceled
	case domain.IsKind(err, domain.ErrOCR):
		return domain.ReasonOCRFailed
	case domain.IsKind(err, domain.ErrClassification):
		return domain.ReasonClassificationFailed
	case domain.IsKind(err, domain.ErrSchemaViolation):
		return domain.ReasonExtractionFailed
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonCanceled
	default:
		return domain.ReasonStorageFailed
	}
}
