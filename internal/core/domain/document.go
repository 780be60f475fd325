package domain

import "time"

type DocumentState string

const (
	StateUploaded   DocumentState = "uploaded"
	StateOCRDone    DocumentState = "ocr_done"
	StateClassified DocumentState = "classified"
	StateExtracted  DocumentState = "extracted"
	StateScored     DocumentState = "scored"
	StateValidated  DocumentState = "validated"
	StateComplete   DocumentState = "complete"
	StateFailed     DocumentState = "failed"
)

// Terminal reports whether no further pipeline stage may run on the document.
func (s DocumentState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// FailureReason is the recorded cause of a terminal failed state.
type FailureReason string

const (
	ReasonOCRFailed            FailureReason = "ocr_failed"
	ReasonClassificationFailed FailureReason = "classification_failed"
	ReasonExtractionFailed     FailureReason = "extraction_failed"
	ReasonCanceled             FailureReason = "canceled"
	ReasonStorageFailed        FailureReason = "storage_failed"
)

type DocumentType string

const (
	TypeInvoice      DocumentType = "invoice"
	TypeMedicalBill  DocumentType = "medical_bill"
	TypePrescription DocumentType = "prescription"
)

func KnownDocumentType(t DocumentType) bool {
	switch t {
	case TypeInvoice, TypeMedicalBill, TypePrescription:
		return true
	}
	return false
}

type Document struct {
	ID            string        `json:"id"`
	Filename      string        `json:"filename"`
	MediaType     string        `json:"media_type"`
	StoragePath   string        `json:"storage_path"`
	State         DocumentState `json:"state"`
	Type          DocumentType  `json:"type,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type FieldStatus string

const (
	FieldUnchecked FieldStatus = "unchecked"
	FieldValid     FieldStatus = "valid"
	FieldWarning   FieldStatus = "warning"
	FieldInvalid   FieldStatus = "invalid"
)

// statusRank orders statuses by severity; transitions only move toward
// higher severity except on an explicit reprocess reset.
func statusRank(s FieldStatus) int {
	switch s {
	case FieldValid:
		return 1
	case FieldWarning:
		return 2
	case FieldInvalid:
		return 3
	default:
		return 0
	}
}

// WorseStatus returns the more severe of the two statuses.
func WorseStatus(a, b FieldStatus) FieldStatus {
	if statusRank(b) > statusRank(a) {
		return b
	}
	return a
}

type FieldKind string

const (
	KindDate       FieldKind = "date"
	KindAmount     FieldKind = "amount"
	KindPhone      FieldKind = "phone"
	KindIdentifier FieldKind = "identifier"
	KindFreeText   FieldKind = "free_text"
)

// Span locates a value inside the recognized document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ExtractedField is one labeled value pulled from a document. It is owned
// exclusively by the document that produced it.
type ExtractedField struct {
	Name       string               `json:"name"`
	Value      string               `json:"value"`
	Normalized string               `json:"normalized,omitempty"`
	Kind       FieldKind            `json:"kind"`
	Required   bool                 `json:"required"`
	Missing    bool                 `json:"missing"`
	Unknown    bool                 `json:"unknown_field"`
	Span       *Span                `json:"span,omitempty"`
	LLMConf    float64              `json:"llm_confidence,omitempty"`
	Confidence float64              `json:"confidence"`
	Breakdown  *ConfidenceBreakdown `json:"breakdown,omitempty"`
	Status     FieldStatus          `json:"validation_status"`
	Message    string               `json:"message,omitempty"`
}

// Downgrade lowers the field status, never raising it, and records the
// message that caused the downgrade.
func (f *ExtractedField) Downgrade(status FieldStatus, message string) {
	next := WorseStatus(f.Status, status)
	if next != f.Status {
		f.Status = next
		f.Message = message
		return
	}
	if f.Message == "" && message != "" {
		f.Message = message
	}
}

// Weights is the injectable scoring weight vector. Values are expected to
// sum to 1.0.
type Weights struct {
	Clarity     float64 `json:"text_clarity"`
	Context     float64 `json:"context_strength"`
	Pattern     float64 `json:"pattern_match"`
	Consistency float64 `json:"consistency"`
}

func DefaultWeights() Weights {
	return Weights{
		Clarity:     0.30,
		Context:     0.25,
		Pattern:     0.25,
		Consistency: 0.20,
	}
}

func (w Weights) Sum() float64 {
	return w.Clarity + w.Context + w.Pattern + w.Consistency
}

// ConfidenceBreakdown explains how a field's confidence was computed. It is
// recomputed whenever scoring reruns and never persisted independently.
type ConfidenceBreakdown struct {
	TextClarity     float64 `json:"text_clarity"`
	ContextStrength float64 `json:"context_strength"`
	PatternMatch    float64 `json:"pattern_match"`
	Consistency     float64 `json:"consistency"`
	Weights         Weights `json:"weights"`
	Final           float64 `json:"final"`
	// Partial marks a breakdown computed without the cross-field
	// consistency input.
	Partial bool `json:"partial,omitempty"`
}

type RuleOutcome string

const (
	OutcomePass    RuleOutcome = "pass"
	OutcomeWarning RuleOutcome = "warning"
	OutcomeFail    RuleOutcome = "fail"
)

// Finding is one rule evaluation against one field, or against the whole
// document when Field is empty.
type Finding struct {
	Field   string      `json:"field,omitempty"`
	RuleID  string      `json:"rule_id"`
	Outcome RuleOutcome `json:"outcome"`
	Message string      `json:"message"`
}

// ValidationResult is produced once per validation pass and superseded, not
// merged, on reprocessing.
type ValidationResult struct {
	Findings []Finding   `json:"findings"`
	Verdict  FieldStatus `json:"verdict"`
}

// Messages returns the human-readable messages of all non-passing findings.
func (r *ValidationResult) Messages() []string {
	var out []string
	for _, f := range r.Findings {
		if f.Outcome != OutcomePass {
			out = append(out, f.Message)
		}
	}
	return out
}

// DocumentResult is the sole contract consumed by the UI/export layer.
type DocumentResult struct {
	DocumentID        string           `json:"document_id"`
	Type              DocumentType     `json:"doc_type"`
	Fields            []ExtractedField `json:"fields"`
	OverallConfidence float64          `json:"overall_confidence"`
	Verdict           FieldStatus      `json:"verdict"`
	Messages          []string         `json:"messages"`
	ProcessedAt       time.Time        `json:"processed_at"`
}
