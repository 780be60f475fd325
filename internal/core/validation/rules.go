package validation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/quality"
)

// prescriptionStaleAfter is how old a prescription date may be before it
// is flagged for review.
const prescriptionStaleAfter = 2 * 365 * 24 * time.Hour

// nameSimilarityThreshold flags distinct party names that look like OCR
// duplicates of each other.
const nameSimilarityThreshold = 0.8

type rule struct {
	id  string
	run func(*ruleContext)
}

// ruleContext carries the field set plus the accumulators a rule writes
// into. Rules never return errors; they record findings and consistency
// verdicts, and panics are converted to warnings by runRule.
type ruleContext struct {
	engine      *Engine
	fields      []domain.ExtractedField
	findings    []domain.Finding
	consistency map[string]float64
}

func runRule(ctx *ruleContext, r rule) {
	defer func() {
		if rec := recover(); rec != nil {
			err := domain.WrapError(domain.ErrRule, "validation."+r.id, fmt.Errorf("%v", rec))
			ctx.findings = append(ctx.findings, domain.Finding{
				RuleID:  r.id,
				Outcome: domain.OutcomeWarning,
				Message: err.Error(),
			})
		}
	}()
	r.run(ctx)
}

func crossFieldRules(docType domain.DocumentType) []rule {
	switch docType {
	case domain.TypeInvoice:
		return []rule{
			{"line_items_sum", ruleLineItemsSum},
			{"subtotal_plus_tax", ruleSubtotalPlusTax},
			{"due_after_issue", ruleDueAfterIssue},
		}
	case domain.TypeMedicalBill:
		return []rule{
			{"charges_breakdown", ruleChargesBreakdown},
			{"charges_cover_procedures", ruleChargesCoverProcedures},
			{"party_names_distinct", rulePartyNamesDistinct},
		}
	case domain.TypePrescription:
		return []rule{
			{"dosage_per_medication", ruleDosagePerMedication},
			{"party_names_distinct", rulePartyNamesDistinct},
		}
	}
	return nil
}

func fieldRules(docType domain.DocumentType) []rule {
	switch docType {
	case domain.TypeMedicalBill:
		return []rule{{"patient_age_plausible", rulePatientAgePlausible}}
	case domain.TypePrescription:
		return []rule{{"prescription_freshness", rulePrescriptionFreshness}}
	}
	return nil
}

// ruleLineItemsSum checks that the itemized line amounts add up to the
// declared total. A match corroborates the items and the total; a mismatch
// contradicts the total and records the delta.
func ruleLineItemsSum(ctx *ruleContext) {
	total, totalField, ok := ctx.amount("total_amount")
	if !ok {
		return
	}
	items, sum := ctx.prefixAmounts("line_item")
	if len(items) == 0 {
		return
	}

	if math.Abs(sum-total) <= ctx.engine.tolerance(total) {
		ctx.corroborate(totalField.Name)
		for _, item := range items {
			ctx.corroborate(item)
		}
		ctx.pass("line_items_sum", totalField.Name)
		return
	}
	ctx.contradict(totalField.Name)
	ctx.fail("line_items_sum", totalField.Name,
		fmt.Sprintf("line items sum to %.2f but total_amount is %.2f", sum, total))
}

func ruleSubtotalPlusTax(ctx *ruleContext) {
	subtotal, subtotalField, okSub := ctx.amount("subtotal")
	tax, taxField, okTax := ctx.amount("tax_amount")
	total, totalField, okTotal := ctx.amount("total_amount")
	if !okSub || !okTax || !okTotal {
		return
	}

	if math.Abs(subtotal+tax-total) <= ctx.engine.tolerance(total) {
		ctx.corroborate(subtotalField.Name)
		ctx.corroborate(taxField.Name)
		ctx.corroborate(totalField.Name)
		ctx.pass("subtotal_plus_tax", totalField.Name)
		return
	}
	ctx.contradict(totalField.Name)
	ctx.fail("subtotal_plus_tax", totalField.Name,
		fmt.Sprintf("subtotal %.2f plus tax %.2f does not equal total_amount %.2f", subtotal, tax, total))
}

func ruleDueAfterIssue(ctx *ruleContext) {
	issued, _, okIssued := ctx.date("invoice_date")
	due, dueField, okDue := ctx.date("due_date")
	if !okIssued || !okDue {
		return
	}

	if !due.Before(issued) {
		ctx.corroborate("invoice_date")
		ctx.corroborate(dueField.Name)
		ctx.pass("due_after_issue", dueField.Name)
		return
	}
	ctx.contradict(dueField.Name)
	ctx.fail("due_after_issue", dueField.Name,
		fmt.Sprintf("due_date %s precedes invoice_date %s", due.Format("2006-01-02"), issued.Format("2006-01-02")))
}

func ruleChargesBreakdown(ctx *ruleContext) {
	insurance, _, okIns := ctx.amount("insurance_paid")
	patient, _, okPat := ctx.amount("patient_responsibility")
	total, totalField, okTotal := ctx.amount("total_charges")
	if !okIns || !okPat || !okTotal {
		return
	}

	if math.Abs(insurance+patient-total) <= ctx.engine.tolerance(total) {
		ctx.corroborate("insurance_paid")
		ctx.corroborate("patient_responsibility")
		ctx.corroborate(totalField.Name)
		ctx.pass("charges_breakdown", totalField.Name)
		return
	}
	ctx.contradict(totalField.Name)
	ctx.fail("charges_breakdown", totalField.Name,
		fmt.Sprintf("insurance_paid %.2f plus patient_responsibility %.2f does not equal total_charges %.2f", insurance, patient, total))
}

func ruleChargesCoverProcedures(ctx *ruleContext) {
	total, totalField, ok := ctx.amount("total_charges")
	if !ok {
		return
	}
	items, sum := ctx.prefixAmounts("procedure_amount")
	if len(items) == 0 {
		return
	}

	if total+ctx.engine.tolerance(total) >= sum {
		ctx.corroborate(totalField.Name)
		for _, item := range items {
			ctx.corroborate(item)
		}
		ctx.pass("charges_cover_procedures", totalField.Name)
		return
	}
	ctx.contradict(totalField.Name)
	ctx.fail("charges_cover_procedures", totalField.Name,
		fmt.Sprintf("itemized procedures sum to %.2f which exceeds total_charges %.2f", sum, total))
}

// ruleDosagePerMedication requires a dosage entry for each medication.
// medication pairs with dosage, medication_2 with dosage_2, and so on.
func ruleDosagePerMedication(ctx *ruleContext) {
	for i := range ctx.fields {
		med := &ctx.fields[i]
		if med.Missing || !strings.HasPrefix(med.Name, "medication") {
			continue
		}
		dosageName := "dosage" + strings.TrimPrefix(med.Name, "medication")
		dosage := ctx.field(dosageName)
		if dosage != nil && !dosage.Missing && dosage.Value != "" {
			ctx.corroborate(med.Name)
			ctx.corroborate(dosageName)
			ctx.pass("dosage_per_medication", med.Name)
			continue
		}
		ctx.contradict(med.Name)
		ctx.fail("dosage_per_medication", med.Name,
			fmt.Sprintf("medication %q has no matching %s entry", med.Value, dosageName))
	}
}

// rulePartyNamesDistinct warns when two different party-name fields carry
// near-identical values, a common OCR duplication artifact.
func rulePartyNamesDistinct(ctx *ruleContext) {
	var names []*domain.ExtractedField
	for i := range ctx.fields {
		f := &ctx.fields[i]
		if !f.Missing && strings.HasSuffix(f.Name, "_name") {
			names = append(names, f)
		}
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			if strings.EqualFold(a.Value, b.Value) {
				continue
			}
			if charSimilarity(a.Value, b.Value) > nameSimilarityThreshold {
				ctx.warn("party_names_distinct", a.Name,
					fmt.Sprintf("%s %q is suspiciously similar to %s %q", a.Name, a.Value, b.Name, b.Value))
			}
		}
	}
}

func rulePatientAgePlausible(ctx *ruleContext) {
	dob, dobField, ok := ctx.date("patient_dob")
	if !ok {
		return
	}
	age := ctx.engine.now().Sub(dob).Hours() / (365.25 * 24)
	if age < 0 || age > 120 {
		ctx.fail("patient_age_plausible", dobField.Name,
			fmt.Sprintf("patient_dob %s implies an implausible age", dob.Format("2006-01-02")))
	}
}

func rulePrescriptionFreshness(ctx *ruleContext) {
	issued, field, ok := ctx.date("prescription_date")
	if !ok {
		return
	}
	if ctx.engine.now().Sub(issued) > prescriptionStaleAfter {
		ctx.warn("prescription_freshness", field.Name,
			fmt.Sprintf("prescription_date %s is more than two years old", issued.Format("2006-01-02")))
	}
}

func (e *Engine) tolerance(expected float64) float64 {
	return math.Max(e.absTol, e.relTol*math.Abs(expected))
}

func (ctx *ruleContext) field(name string) *domain.ExtractedField {
	for i := range ctx.fields {
		if ctx.fields[i].Name == name {
			return &ctx.fields[i]
		}
	}
	return nil
}

func (ctx *ruleContext) amount(name string) (float64, *domain.ExtractedField, bool) {
	f := ctx.field(name)
	if f == nil || f.Missing {
		return 0, nil, false
	}
	v, ok := amountOf(f)
	if !ok {
		return 0, nil, false
	}
	return v, f, true
}

func (ctx *ruleContext) date(name string) (time.Time, *domain.ExtractedField, bool) {
	f := ctx.field(name)
	if f == nil || f.Missing {
		return time.Time{}, nil, false
	}
	v, ok := dateOf(f)
	if !ok {
		return time.Time{}, nil, false
	}
	return v, f, true
}

// prefixAmounts collects every parseable amount whose field name is the
// prefix itself or prefix_N, returning the field names and their sum.
func (ctx *ruleContext) prefixAmounts(prefix string) ([]string, float64) {
	var names []string
	var sum float64
	for i := range ctx.fields {
		f := &ctx.fields[i]
		if f.Missing {
			continue
		}
		if f.Name != prefix && !strings.HasPrefix(f.Name, prefix+"_") {
			continue
		}
		if v, ok := amountOf(f); ok {
			names = append(names, f.Name)
			sum += v
		}
	}
	return names, sum
}

func (ctx *ruleContext) corroborate(name string) {
	ctx.setConsistency(name, ConsistencyCorroborated)
}

func (ctx *ruleContext) contradict(name string) {
	ctx.setConsistency(name, ConsistencyContradicted)
}

// setConsistency keeps the worst verdict when multiple rules implicate the
// same field.
func (ctx *ruleContext) setConsistency(name string, v float64) {
	if ctx.consistency == nil {
		return
	}
	if existing, ok := ctx.consistency[name]; ok && existing < v {
		return
	}
	ctx.consistency[name] = v
}

func (ctx *ruleContext) pass(ruleID, field string) {
	ctx.findings = append(ctx.findings, domain.Finding{
		Field:   field,
		RuleID:  ruleID,
		Outcome: domain.OutcomePass,
	})
}

func (ctx *ruleContext) warn(ruleID, field, msg string) {
	ctx.findings = append(ctx.findings, domain.Finding{
		Field:   field,
		RuleID:  ruleID,
		Outcome: domain.OutcomeWarning,
		Message: msg,
	})
}

func (ctx *ruleContext) fail(ruleID, field, msg string) {
	ctx.findings = append(ctx.findings, domain.Finding{
		Field:   field,
		RuleID:  ruleID,
		Outcome: domain.OutcomeFail,
		Message: msg,
	})
}

func amountOf(f *domain.ExtractedField) (float64, bool) {
	if f.Normalized != "" {
		if v, ok := quality.ParseAmount(f.Normalized); ok {
			return v, true
		}
	}
	return quality.ParseAmount(f.Value)
}

func dateOf(f *domain.ExtractedField) (time.Time, bool) {
	candidate := f.Normalized
	if candidate == "" {
		if r := quality.MatchPattern(domain.KindDate, f.Value); r.Normalized != "" {
			candidate = r.Normalized
		}
	}
	if candidate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", candidate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func charSimilarity(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	var inter, union int
	for r := range setA {
		if setB[r] {
			inter++
		}
	}
	union = len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool)
	for _, r := range strings.ToLower(s) {
		if r != ' ' {
			set[r] = true
		}
	}
	return set
}
