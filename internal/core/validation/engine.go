// Package validation applies per-document-type business rules and
// cross-field consistency checks to extracted fields.
//
// Ordering contract: the cross-field pass must run before confidence
// scoring (its verdicts feed the consistency subscore), and the per-field
// pass runs after scoring. The orchestrator owns this ordering; the engine
// only exposes the passes.
package validation

import (
	"fmt"
	"time"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/quality"
	"github.com/veridoc/veridoc/internal/core/schema"
)

// Consistency verdict values fed into the scorer.
const (
	ConsistencyContradicted = 0.0
	ConsistencyNeutral      = 0.5
	ConsistencyCorroborated = 1.0
)

// Tolerances for numeric cross-field checks: a mismatch within
// max(abs, rel*expected) still passes.
const (
	DefaultAbsTolerance = 0.01
	DefaultRelTolerance = 0.01
)

type Engine struct {
	registry *schema.Registry
	absTol   float64
	relTol   float64
	now      func() time.Time
}

func NewEngine(registry *schema.Registry, absTol, relTol float64) *Engine {
	if absTol <= 0 {
		absTol = DefaultAbsTolerance
	}
	if relTol < 0 {
		relTol = DefaultRelTolerance
	}
	return &Engine{
		registry: registry,
		absTol:   absTol,
		relTol:   relTol,
		now:      time.Now,
	}
}

// CrossFieldPass evaluates the document-type-specific consistency rules
// over the whole field set. It returns the findings plus a per-field
// consistency verdict for the scorer. Rules that themselves blow up are
// reported as warnings, never propagated.
func (e *Engine) CrossFieldPass(docType domain.DocumentType, fields []domain.ExtractedField) ([]domain.Finding, map[string]float64) {
	ctx := &ruleContext{
		engine:      e,
		fields:      fields,
		consistency: make(map[string]float64),
	}
	for _, rule := range crossFieldRules(docType) {
		runRule(ctx, rule)
	}
	return ctx.findings, ctx.consistency
}

// FieldPass applies the lexical-shape and range/enum constraints to every
// field individually. Missing required fields are flagged invalid
// immediately but never block evaluation of the remaining rules.
func (e *Engine) FieldPass(docType domain.DocumentType, fields []domain.ExtractedField) []domain.Finding {
	sch, err := e.registry.Get(docType)
	if err != nil {
		return []domain.Finding{{
			RuleID:  "schema_lookup",
			Outcome: domain.OutcomeWarning,
			Message: err.Error(),
		}}
	}

	var findings []domain.Finding
	for i := range fields {
		findings = append(findings, e.checkField(sch, &fields[i])...)
	}
	for _, rule := range fieldRules(docType) {
		ctx := &ruleContext{engine: e, fields: fields}
		runRule(ctx, rule)
		findings = append(findings, ctx.findings...)
	}
	return findings
}

func (e *Engine) checkField(sch *schema.DocumentSchema, f *domain.ExtractedField) []domain.Finding {
	if f.Missing {
		if !f.Required {
			return nil
		}
		return []domain.Finding{{
			Field:   f.Name,
			RuleID:  "required_fields",
			Outcome: domain.OutcomeFail,
			Message: fmt.Sprintf("required field %s is empty or missing", f.Name),
		}}
	}
	if f.Unknown {
		return []domain.Finding{{
			Field:   f.Name,
			RuleID:  "schema_membership",
			Outcome: domain.OutcomeWarning,
			Message: fmt.Sprintf("field %s is not part of the %s schema", f.Name, sch.Type),
		}}
	}

	var findings []domain.Finding
	spec, _ := sch.Lookup(f.Name)

	pattern := quality.MatchPattern(f.Kind, f.Value)
	switch {
	case pattern.Score == quality.PatternNoMatch:
		findings = append(findings, domain.Finding{
			Field:   f.Name,
			RuleID:  "shape_" + string(f.Kind),
			Outcome: domain.OutcomeFail,
			Message: fmt.Sprintf("%s value %q does not match the expected %s shape", f.Name, f.Value, f.Kind),
		})
	case pattern.Score == quality.PatternPartial && strictKind(f.Kind):
		findings = append(findings, domain.Finding{
			Field:   f.Name,
			RuleID:  "shape_" + string(f.Kind),
			Outcome: domain.OutcomeWarning,
			Message: fmt.Sprintf("%s value %q only loosely matches the expected %s shape", f.Name, f.Value, f.Kind),
		})
	}

	if spec == nil {
		return findings
	}

	if spec.Positive {
		if amount, ok := amountOf(f); ok && amount < 0 {
			findings = append(findings, domain.Finding{
				Field:   f.Name,
				RuleID:  "amount_positive",
				Outcome: domain.OutcomeFail,
				Message: fmt.Sprintf("%s must be positive, got %s", f.Name, f.Value),
			})
		}
	}
	if spec.Min != nil || spec.Max != nil {
		if amount, ok := amountOf(f); ok {
			if spec.Min != nil && amount < *spec.Min || spec.Max != nil && amount > *spec.Max {
				findings = append(findings, domain.Finding{
					Field:   f.Name,
					RuleID:  "numeric_range",
					Outcome: domain.OutcomeFail,
					Message: fmt.Sprintf("%s must be between %s and %s, got %s", f.Name, boundString(spec.Min), boundString(spec.Max), f.Value),
				})
			}
		}
	}
	if spec.NotFuture {
		if date, ok := dateOf(f); ok && date.After(e.now()) {
			findings = append(findings, domain.Finding{
				Field:   f.Name,
				RuleID:  "date_not_future",
				Outcome: domain.OutcomeFail,
				Message: fmt.Sprintf("%s %s is in the future", f.Name, date.Format("2006-01-02")),
			})
		}
	}
	return findings
}

// Apply downgrades field statuses from rule findings. Statuses only ever
// move toward higher severity.
func Apply(fields []domain.ExtractedField, findings []domain.Finding) {
	for _, finding := range findings {
		if finding.Field == "" || finding.Outcome == domain.OutcomePass {
			continue
		}
		for i := range fields {
			if fields[i].Name != finding.Field {
				continue
			}
			status := domain.FieldWarning
			if finding.Outcome == domain.OutcomeFail {
				status = domain.FieldInvalid
			}
			fields[i].Downgrade(status, finding.Message)
		}
	}
}

// Finalize promotes untouched fields to valid and derives the document
// verdict as the worst field-level status present.
func Finalize(fields []domain.ExtractedField, findings []domain.Finding) *domain.ValidationResult {
	verdict := domain.FieldValid
	for i := range fields {
		if fields[i].Status == domain.FieldUnchecked {
			fields[i].Status = domain.FieldValid
		}
		verdict = domain.WorseStatus(verdict, fields[i].Status)
	}
	return &domain.ValidationResult{
		Findings: findings,
		Verdict:  verdict,
	}
}

// Validate runs both passes in the contract order and reconciles field
// statuses. It exists for callers that do not interleave scoring between
// the passes.
func (e *Engine) Validate(docType domain.DocumentType, fields []domain.ExtractedField) *domain.ValidationResult {
	crossFindings, _ := e.CrossFieldPass(docType, fields)
	fieldFindings := e.FieldPass(docType, fields)

	findings := append(crossFindings, fieldFindings...)
	Apply(fields, findings)
	return Finalize(fields, findings)
}

func strictKind(k domain.FieldKind) bool {
	switch k {
	case domain.KindDate, domain.KindAmount, domain.KindPhone:
		return true
	}
	return false
}

func boundString(v *float64) string {
	if v == nil {
		return "unbounded"
	}
	return fmt.Sprintf("%g", *v)
}
