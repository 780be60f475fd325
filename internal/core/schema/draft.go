package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veridoc/veridoc/internal/core/domain"
)

// DraftField is one field of the raw LLM extraction draft, before it is
// bound to a FieldSpec.
type DraftField struct {
	Name       string       `json:"name"`
	Value      *string      `json:"value"`
	Confidence float64      `json:"confidence"`
	Span       *domain.Span `json:"span,omitempty"`
}

// ExtractionDraft is the structured output of the extraction collaborator:
// whatever fields parsed plus the list of schema violations, if any.
type ExtractionDraft struct {
	Fields     []DraftField `json:"fields"`
	Violations []string     `json:"-"`
}

const draftSchemaJSON = `{
  "type": "object",
  "required": ["fields"],
  "properties": {
    "fields": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "value"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "value": {"type": ["string", "null"]},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "span": {
            "type": "object",
            "required": ["start", "end"],
            "properties": {
              "start": {"type": "integer", "minimum": 0},
              "end": {"type": "integer", "minimum": 0}
            }
          }
        }
      }
    }
  }
}`

var draftSchema = mustCompileDraftSchema()

func mustCompileDraftSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("draft.json", bytes.NewReader([]byte(draftSchemaJSON))); err != nil {
		panic(fmt.Sprintf("add extraction draft schema: %v", err))
	}
	return compiler.MustCompile("draft.json")
}

// ParseDraft decodes and validates a raw LLM extraction response. A
// structurally valid document yields a draft with no violations; a
// schema-violating one yields the violation descriptions used by the
// repair re-prompt. A response that is not JSON at all is an error.
func ParseDraft(data []byte) (*ExtractionDraft, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode extraction draft: %w", err)
	}

	var violations []string
	if err := draftSchema.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			violations = flattenViolations(ve)
		} else {
			violations = []string{err.Error()}
		}
	}

	var draft ExtractionDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		// Keep the violations; the draft itself did not parse.
		return &ExtractionDraft{Violations: violations}, nil
	}
	draft.Violations = violations
	return &draft, nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

func flattenViolations(ve *jsonschema.ValidationError) []string {
	leaves := ve.BasicOutput().Errors
	var out []string
	for _, e := range leaves {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("%s: %s", loc, e.Error))
	}
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}
