package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// Stage error kinds. The orchestrator converts these into the
	// document's terminal failed state; they never escape to the caller
	// as uncaught faults.
	ErrOCR             = errors.New("ocr failure")
	ErrClassification  = errors.New("classification failure")
	ErrSchemaViolation = errors.New("extraction schema violation")
	ErrRule            = errors.New("validation rule failure")
	ErrTimeout         = errors.New("external call timeout")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
