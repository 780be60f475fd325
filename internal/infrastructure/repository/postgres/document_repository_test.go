package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/veridoc/veridoc/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, filename, media_type, storage_path").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansStateAndType(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "filename", "media_type", "storage_path", "state", "doc_type", "failure_reason", "error_message", "created_at", "updated_at",
	}).AddRow("doc-1", "scan.pdf", "application/pdf", "doc-1_scan.pdf", "classified", "invoice", "", "", now, now)

	mock.ExpectQuery("SELECT id, filename, media_type, storage_path").
		WithArgs("doc-1").
		WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.State != domain.StateClassified || doc.Type != domain.TypeInvoice {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStateReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", string(domain.StateScored), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateState(context.Background(), "missing", domain.StateScored)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkFailedRecordsReasonAndMessage(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("doc-1", string(domain.StateFailed), string(domain.ReasonOCRFailed), "engine offline", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), "doc-1", domain.ReasonOCRFailed, "engine offline"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveResultUpsertsFieldsJSON(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	result := &domain.DocumentResult{
		DocumentID: "doc-1",
		Type:       domain.TypeInvoice,
		Fields: []domain.ExtractedField{
			{Name: "total_amount", Value: "$15.00", Kind: domain.KindAmount, Confidence: 0.91, Status: domain.FieldValid},
		},
		OverallConfidence: 0.88,
		Verdict:           domain.FieldValid,
		Messages:          []string{},
		ProcessedAt:       time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO document_results").
		WithArgs("doc-1", "invoice", sqlmock.AnyArg(), 0.88, "valid", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveResult(context.Background(), result); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetResultRoundTripsFields(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	fields := []domain.ExtractedField{
		{Name: "total_amount", Value: "$15.00", Kind: domain.KindAmount, Confidence: 0.91, Status: domain.FieldValid},
	}
	fieldsJSON, _ := json.Marshal(fields)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"document_id", "doc_type", "fields", "overall_confidence", "verdict", "messages", "processed_at",
	}).AddRow("doc-1", "invoice", fieldsJSON, 0.88, "valid", []byte("[]"), now)

	mock.ExpectQuery("SELECT document_id, doc_type, fields").
		WithArgs("doc-1").
		WillReturnRows(rows)

	result, err := repo.GetResult(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if result.Verdict != domain.FieldValid || len(result.Fields) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Fields[0].Name != "total_amount" || result.Fields[0].Confidence != 0.91 {
		t.Fatalf("fields did not round-trip: %+v", result.Fields[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListUnsettledExcludesTerminalStates(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id"}).
		AddRow("doc-1").
		AddRow("doc-2")

	mock.ExpectQuery("SELECT id").
		WithArgs(string(domain.StateComplete), string(domain.StateFailed), 50).
		WillReturnRows(rows)

	ids, err := repo.ListUnsettled(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListUnsettled() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "doc-1" || ids[1] != "doc-2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetResultMissingDocument(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT document_id, doc_type, fields").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetResult(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
