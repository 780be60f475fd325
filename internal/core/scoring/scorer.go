// Package scoring combines the leaf quality signals into one calibrated
// confidence score per extracted field.
package scoring

import (
	"math"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/quality"
)

// Input is the per-document context a field is scored against.
type Input struct {
	// Text is the full recognized document text.
	Text string
	// CharConfidence optionally holds OCR per-character confidence
	// aligned with Text.
	CharConfidence []float64
	// Consistency holds the cross-field verdict per field name
	// (0 contradicted, 1 corroborated, 0.5 not applicable). A nil map
	// means the cross-field pass has not run; breakdowns are then
	// flagged partial and use the neutral value.
	Consistency map[string]float64
}

const consistencyNeutral = 0.5

type Scorer struct {
	weights domain.Weights
	text    quality.TextAnalyzer
	context quality.ContextAnalyzer
}

func New(weights domain.Weights) *Scorer {
	if weights.Sum() <= 0 {
		weights = domain.DefaultWeights()
	}
	return &Scorer{
		weights: weights,
		context: quality.NewContextAnalyzer(),
	}
}

// Score computes the field's confidence breakdown and mutates the field in
// place. It is idempotent: unchanged inputs and weights reproduce the same
// score exactly.
//
// A required field with no extracted value short-circuits to confidence 0
// and status invalid without invoking the weighting formula.
func (s *Scorer) Score(field *domain.ExtractedField, keywords []string, in Input) *domain.ConfidenceBreakdown {
	if field.Required && (field.Missing || field.Value == "") {
		breakdown := &domain.ConfidenceBreakdown{Weights: s.weights}
		field.Confidence = 0
		field.Breakdown = breakdown
		field.Downgrade(domain.FieldInvalid, "required field "+field.Name+" is missing")
		return breakdown
	}

	clarity := s.text.Clarity(field.Value, s.spanConfidence(field.Span, in.CharConfidence))
	contextStrength := s.context.Strength(in.Text, field.Span, keywords)
	pattern := quality.MatchPattern(field.Kind, field.Value)
	if field.Normalized == "" && pattern.Normalized != "" {
		field.Normalized = pattern.Normalized
	}

	consistency := consistencyNeutral
	partial := in.Consistency == nil
	if !partial {
		if v, ok := in.Consistency[field.Name]; ok {
			consistency = v
		}
	}

	final := clarity*s.weights.Clarity +
		contextStrength*s.weights.Context +
		pattern.Score*s.weights.Pattern +
		consistency*s.weights.Consistency
	final = clampUnit(final)

	breakdown := &domain.ConfidenceBreakdown{
		TextClarity:     clarity,
		ContextStrength: contextStrength,
		PatternMatch:    pattern.Score,
		Consistency:     consistency,
		Weights:         s.weights,
		Final:           final,
		Partial:         partial,
	}
	field.Confidence = final
	field.Breakdown = breakdown
	return breakdown
}

// spanConfidence slices the document-level per-character confidence down
// to the field's span, when both exist.
func (s *Scorer) spanConfidence(span *domain.Span, charConfidence []float64) []float64 {
	if span == nil || len(charConfidence) == 0 {
		return nil
	}
	start, end := span.Start, span.End
	if start < 0 || end > len(charConfidence) || start >= end {
		return nil
	}
	return charConfidence[start:end]
}

// Overall aggregates per-field confidences into a document-level value:
// the mean, penalized for high variance across fields and for absent
// critical fields, with a small bonus for confidently extracted critical
// fields and for overall extraction breadth.
func Overall(fields []domain.ExtractedField, criticalNames []string) float64 {
	if len(fields) == 0 {
		return 0
	}

	var sum float64
	present := make(map[string]float64, len(fields))
	for _, f := range fields {
		sum += f.Confidence
		if !f.Missing {
			present[f.Name] = f.Confidence
		}
	}
	meanConf := sum / float64(len(fields))

	var variance float64
	if len(fields) > 1 {
		for _, f := range fields {
			d := f.Confidence - meanConf
			variance += d * d
		}
		variance /= float64(len(fields))
	}
	variancePenalty := math.Min(0.2, math.Sqrt(variance)*0.5)

	var criticalBonus, missingPenalty float64
	for _, name := range criticalNames {
		conf, ok := present[name]
		switch {
		case !ok:
			missingPenalty += 0.1
		case conf > 0.8:
			criticalBonus += 0.05
		}
	}

	countFactor := math.Min(0.1, float64(len(fields))*0.01)

	return clampUnit(meanConf - variancePenalty + criticalBonus - missingPenalty + countFactor)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
