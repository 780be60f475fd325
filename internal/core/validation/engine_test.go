package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/schema"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	e := NewEngine(reg, 0, DefaultRelTolerance)
	e.now = func() time.Time { return testNow }
	return e
}

func field(name, value string, kind domain.FieldKind, required bool) domain.ExtractedField {
	return domain.ExtractedField{
		Name:     name,
		Value:    value,
		Kind:     kind,
		Required: required,
		Status:   domain.FieldUnchecked,
	}
}

func invoiceFields(total string) []domain.ExtractedField {
	return []domain.ExtractedField{
		field("invoice_number", "INV-2026-001", domain.KindIdentifier, true),
		field("vendor_name", "Acme Corporation", domain.KindFreeText, true),
		field("total_amount", total, domain.KindAmount, true),
		field("line_item_1", "10.00", domain.KindAmount, false),
		field("line_item_2", "5.00", domain.KindAmount, false),
	}
}

func findingFor(findings []domain.Finding, ruleID string) *domain.Finding {
	for i := range findings {
		if findings[i].RuleID == ruleID {
			return &findings[i]
		}
	}
	return nil
}

func TestLineItemsMatchingTotalCorroborates(t *testing.T) {
	e := newTestEngine(t)
	fields := invoiceFields("15.00")

	findings, consistency := e.CrossFieldPass(domain.TypeInvoice, fields)

	for _, name := range []string{"total_amount", "line_item_1", "line_item_2"} {
		if consistency[name] != ConsistencyCorroborated {
			t.Fatalf("consistency[%s] = %v, want corroborated", name, consistency[name])
		}
	}
	f := findingFor(findings, "line_items_sum")
	if f == nil || f.Outcome != domain.OutcomePass {
		t.Fatalf("expected passing line_items_sum finding, got %+v", f)
	}
}

func TestLineItemsMismatchContradictsTotal(t *testing.T) {
	e := newTestEngine(t)
	fields := invoiceFields("20.00")

	findings, consistency := e.CrossFieldPass(domain.TypeInvoice, fields)

	if consistency["total_amount"] != ConsistencyContradicted {
		t.Fatalf("consistency[total_amount] = %v, want contradicted", consistency["total_amount"])
	}
	f := findingFor(findings, "line_items_sum")
	if f == nil || f.Outcome != domain.OutcomeFail || f.Field != "total_amount" {
		t.Fatalf("expected failing finding on total_amount, got %+v", f)
	}
	if !strings.Contains(f.Message, "15.00") || !strings.Contains(f.Message, "20.00") {
		t.Fatalf("mismatch message should carry both amounts, got %q", f.Message)
	}

	Apply(fields, findings)
	result := Finalize(fields, findings)
	if result.Verdict != domain.FieldInvalid {
		t.Fatalf("verdict = %s, want invalid", result.Verdict)
	}
	total := fieldByName(t, fields, "total_amount")
	if total.Status != domain.FieldInvalid || total.Message == "" {
		t.Fatalf("total_amount should be invalid with a recorded message, got %+v", total)
	}
}

func TestMismatchWithinToleranceStillPasses(t *testing.T) {
	e := newTestEngine(t)
	fields := invoiceFields("15.10") // 15.00 itemized, within 1% of 15.10

	findings, _ := e.CrossFieldPass(domain.TypeInvoice, fields)
	if f := findingFor(findings, "line_items_sum"); f == nil || f.Outcome != domain.OutcomePass {
		t.Fatalf("sub-tolerance delta should pass, got %+v", f)
	}
}

func TestSubtotalPlusTaxMismatch(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("subtotal", "100.00", domain.KindAmount, false),
		field("tax_amount", "8.00", domain.KindAmount, false),
		field("total_amount", "120.00", domain.KindAmount, true),
	}

	findings, consistency := e.CrossFieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "subtotal_plus_tax")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("expected subtotal_plus_tax failure, got %+v", f)
	}
	if consistency["total_amount"] != ConsistencyContradicted {
		t.Fatalf("total_amount should be contradicted")
	}
}

func TestDueDateBeforeInvoiceDateFails(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("invoice_date", "2026-07-15", domain.KindDate, false),
		field("due_date", "2026-07-01", domain.KindDate, false),
	}

	findings, consistency := e.CrossFieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "due_after_issue")
	if f == nil || f.Outcome != domain.OutcomeFail || f.Field != "due_date" {
		t.Fatalf("expected due_after_issue failure on due_date, got %+v", f)
	}
	if consistency["due_date"] != ConsistencyContradicted {
		t.Fatalf("due_date should be contradicted")
	}
}

func TestMedicalChargesBreakdown(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("insurance_paid", "800.00", domain.KindAmount, false),
		field("patient_responsibility", "200.00", domain.KindAmount, false),
		field("total_charges", "1000.00", domain.KindAmount, true),
		field("procedure_amount_1", "600.00", domain.KindAmount, false),
		field("procedure_amount_2", "400.00", domain.KindAmount, false),
	}

	findings, consistency := e.CrossFieldPass(domain.TypeMedicalBill, fields)
	if f := findingFor(findings, "charges_breakdown"); f == nil || f.Outcome != domain.OutcomePass {
		t.Fatalf("balanced breakdown should pass, got %+v", f)
	}
	if f := findingFor(findings, "charges_cover_procedures"); f == nil || f.Outcome != domain.OutcomePass {
		t.Fatalf("covered procedures should pass, got %+v", f)
	}
	if consistency["total_charges"] != ConsistencyCorroborated {
		t.Fatalf("total_charges should be corroborated")
	}
}

func TestProceduresExceedingChargesFails(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("total_charges", "500.00", domain.KindAmount, true),
		field("procedure_amount_1", "600.00", domain.KindAmount, false),
	}

	findings, consistency := e.CrossFieldPass(domain.TypeMedicalBill, fields)
	f := findingFor(findings, "charges_cover_procedures")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("expected charges_cover_procedures failure, got %+v", f)
	}
	if consistency["total_charges"] != ConsistencyContradicted {
		t.Fatalf("total_charges should be contradicted")
	}
}

func TestMedicationWithoutDosageFails(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("medication_1", "Amoxicillin", domain.KindFreeText, true),
		field("dosage_1", "500mg three times daily", domain.KindFreeText, false),
		field("medication_2", "Lisinopril", domain.KindFreeText, true),
	}

	findings, consistency := e.CrossFieldPass(domain.TypePrescription, fields)
	f := findingFor(findings, "dosage_per_medication")
	if f == nil {
		t.Fatal("expected dosage_per_medication findings")
	}
	if consistency["medication_1"] != ConsistencyCorroborated {
		t.Fatalf("paired medication should be corroborated")
	}
	if consistency["medication_2"] != ConsistencyContradicted {
		t.Fatalf("unpaired medication should be contradicted")
	}
	var failed bool
	for _, finding := range findings {
		if finding.RuleID == "dosage_per_medication" && finding.Outcome == domain.OutcomeFail && finding.Field == "medication_2" {
			failed = true
		}
	}
	if !failed {
		t.Fatal("expected failing finding on medication_2")
	}
}

func TestSimilarPartyNamesWarn(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("patient_name", "John Smithson", domain.KindFreeText, true),
		field("doctor_name", "Jon Smithson", domain.KindFreeText, true),
	}

	findings, _ := e.CrossFieldPass(domain.TypePrescription, fields)
	f := findingFor(findings, "party_names_distinct")
	if f == nil || f.Outcome != domain.OutcomeWarning {
		t.Fatalf("near-identical names should warn, got %+v", f)
	}
}

func TestFieldPassMissingRequired(t *testing.T) {
	e := newTestEngine(t)
	missing := field("invoice_number", "", domain.KindIdentifier, true)
	missing.Missing = true
	fields := []domain.ExtractedField{missing}

	findings := e.FieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "required_fields")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("missing required field should fail, got %+v", f)
	}
}

func TestFieldPassRejectsImpossibleDate(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("invoice_date", "2024-13-40", domain.KindDate, false),
	}

	findings := e.FieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "shape_date")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("calendar-impossible date should fail the shape rule, got %+v", f)
	}
}

func TestFieldPassFutureInvoiceDate(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("invoice_date", "2027-01-01", domain.KindDate, false),
	}

	findings := e.FieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "date_not_future")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("future invoice_date should fail, got %+v", f)
	}
}

func TestFieldPassNegativeAmount(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("total_amount", "(15.00)", domain.KindAmount, true),
	}

	findings := e.FieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "amount_positive")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("negative amount should fail, got %+v", f)
	}
}

func TestFieldPassRefillsRange(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("refills", "13", domain.KindAmount, false),
	}

	findings := e.FieldPass(domain.TypePrescription, fields)
	f := findingFor(findings, "numeric_range")
	if f == nil || f.Outcome != domain.OutcomeFail {
		t.Fatalf("13 refills should be out of range, got %+v", f)
	}
}

func TestFieldPassStalePrescriptionWarns(t *testing.T) {
	e := newTestEngine(t)
	fields := []domain.ExtractedField{
		field("prescription_date", "2023-05-01", domain.KindDate, false),
	}

	findings := e.FieldPass(domain.TypePrescription, fields)
	f := findingFor(findings, "prescription_freshness")
	if f == nil || f.Outcome != domain.OutcomeWarning {
		t.Fatalf("two-year-old prescription should warn, got %+v", f)
	}
}

func TestFieldPassUnknownFieldWarns(t *testing.T) {
	e := newTestEngine(t)
	unknown := field("loyalty_points", "950", domain.KindFreeText, false)
	unknown.Unknown = true
	fields := []domain.ExtractedField{unknown}

	findings := e.FieldPass(domain.TypeInvoice, fields)
	f := findingFor(findings, "schema_membership")
	if f == nil || f.Outcome != domain.OutcomeWarning {
		t.Fatalf("unknown field should warn, not fail, got %+v", f)
	}
}

func TestApplyNeverUpgradesStatus(t *testing.T) {
	fields := []domain.ExtractedField{
		{Name: "total_amount", Status: domain.FieldInvalid, Message: "kept"},
	}
	Apply(fields, []domain.Finding{
		{Field: "total_amount", Outcome: domain.OutcomeWarning, Message: "softer"},
	})
	if fields[0].Status != domain.FieldInvalid || fields[0].Message != "kept" {
		t.Fatalf("warning must not upgrade an invalid field: %+v", fields[0])
	}
}

func TestValidateVerdictIsWorstStatus(t *testing.T) {
	e := newTestEngine(t)
	fields := invoiceFields("15.00")
	result := e.Validate(domain.TypeInvoice, fields)
	if result.Verdict != domain.FieldValid {
		t.Fatalf("clean invoice should be valid, got %s", result.Verdict)
	}
	for _, f := range fields {
		if f.Status == domain.FieldUnchecked {
			t.Fatalf("field %s left unchecked after Validate", f.Name)
		}
	}

	bad := invoiceFields("20.00")
	result = e.Validate(domain.TypeInvoice, bad)
	if result.Verdict != domain.FieldInvalid {
		t.Fatalf("mismatched invoice should be invalid, got %s", result.Verdict)
	}
}

func TestRulePanicBecomesWarning(t *testing.T) {
	ctx := &ruleContext{consistency: map[string]float64{}}
	runRule(ctx, rule{id: "exploding", run: func(*ruleContext) { panic("boom") }})
	if len(ctx.findings) != 1 {
		t.Fatalf("expected one finding, got %d", len(ctx.findings))
	}
	f := ctx.findings[0]
	if f.Outcome != domain.OutcomeWarning || f.RuleID != "exploding" {
		t.Fatalf("panicking rule should yield a warning finding, got %+v", f)
	}
	if f.Message == "" {
		t.Fatal("warning should carry a message")
	}
}

func fieldByName(t *testing.T, fields []domain.ExtractedField, name string) *domain.ExtractedField {
	t.Helper()
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	t.Fatalf("field %s not found", name)
	return nil
}
