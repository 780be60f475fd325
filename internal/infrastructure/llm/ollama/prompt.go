package ollama

import (
	"fmt"
	"strings"

	"github.com/veridoc/veridoc/internal/core/schema"
)

const maxPromptSnippet = 6000

func snippet(text string) string {
	if len(text) > maxPromptSnippet {
		return text[:maxPromptSnippet]
	}
	return text
}

func buildClassificationPrompt(text string) string {
	return `You are a document classifier.
Return a strict JSON object with one key:
doc_type (string, one of: "invoice", "medical_bill", "prescription").
No markdown, no extra keys.

Document:
` + snippet(text)
}

func buildExtractionPrompt(sch *schema.DocumentSchema, text string) string {
	var fieldList strings.Builder
	for _, spec := range sch.Fields {
		name := spec.Name
		if spec.Prefix {
			name = spec.Name + ", " + spec.Name + "_2, " + spec.Name + "_3, ... (one per occurrence)"
		}
		required := ""
		if spec.Required {
			required = ", required"
		}
		fieldList.WriteString(fmt.Sprintf("- %s (%s%s)\n", name, spec.Kind, required))
	}

	return fmt.Sprintf(`You extract fields from a %s document.
Return a strict JSON object: {"fields": [{"name": string, "value": string or null, "confidence": number 0-1, "span": {"start": int, "end": int}}]}.
Use null for values you cannot find. Span is the character range of the value in the document text; omit it if unsure.
Expected fields:
%s
No markdown, no extra keys.

Document:
%s`, sch.Type, fieldList.String(), snippet(text))
}

func buildRepairPrompt(sch *schema.DocumentSchema, text string, violations []string) string {
	return fmt.Sprintf(`Your previous extraction response was rejected:
%s

Fix these problems and respond again.
%s`, "- "+strings.Join(violations, "\n- "), buildExtractionPrompt(sch, text))
}
