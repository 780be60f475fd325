package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/veridoc/veridoc/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	media_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	state TEXT NOT NULL,
	doc_type TEXT,
	failure_reason TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS document_results (
	document_id TEXT PRIMARY KEY REFERENCES documents(id),
	doc_type TEXT NOT NULL,
	fields JSONB NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL,
	verdict TEXT NOT NULL,
	messages JSONB NOT NULL DEFAULT '[]'::jsonb,
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, media_type, storage_path, state, doc_type, failure_reason, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		doc.ID, doc.Filename, doc.MediaType, doc.StoragePath, string(doc.State),
		string(doc.Type), string(doc.FailureReason), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, media_type, storage_path, state, doc_type, failure_reason, error_message, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var state, docType, failureReason string

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.MediaType, &doc.StoragePath,
		&state, &docType, &failureReason, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.State = domain.DocumentState(state)
	doc.Type = domain.DocumentType(docType)
	doc.FailureReason = domain.FailureReason(failureReason)
	return &doc, nil
}

func (r *DocumentRepository) UpdateState(ctx context.Context, id string, state domain.DocumentState) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET state = $2, updated_at = $3
WHERE id = $1
`, id, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	return requireRow(res, "update document state", id)
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, reason domain.FailureReason, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET state = $2, failure_reason = $3, error_message = $4, updated_at = $5
WHERE id = $1
`, id, string(domain.StateFailed), string(reason), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return requireRow(res, "mark document failed", id)
}

func (r *DocumentRepository) SaveType(ctx context.Context, id string, docType domain.DocumentType) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET doc_type = $2, updated_at = $3
WHERE id = $1
`, id, string(docType), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save document type: %w", err)
	}
	return requireRow(res, "save document type", id)
}

func requireRow(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *DocumentRepository) SaveResult(ctx context.Context, result *domain.DocumentResult) error {
	fieldsJSON, err := json.Marshal(result.Fields)
	if err != nil {
		return fmt.Errorf("marshal result fields: %w", err)
	}
	messagesJSON, err := json.Marshal(result.Messages)
	if err != nil {
		return fmt.Errorf("marshal result messages: %w", err)
	}

	// Reprocessing supersedes the previous result wholesale.
	_, err = r.db.ExecContext(ctx, `
INSERT INTO document_results (document_id, doc_type, fields, overall_confidence, verdict, messages, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (document_id) DO UPDATE
SET doc_type = EXCLUDED.doc_type,
    fields = EXCLUDED.fields,
    overall_confidence = EXCLUDED.overall_confidence,
    verdict = EXCLUDED.verdict,
    messages = EXCLUDED.messages,
    processed_at = EXCLUDED.processed_at
`,
		result.DocumentID, string(result.Type), fieldsJSON,
		result.OverallConfidence, string(result.Verdict), messagesJSON, result.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("save document result: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListUnsettled(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM documents
WHERE state NOT IN ($1, $2)
ORDER BY created_at
LIMIT $3
`, string(domain.StateComplete), string(domain.StateFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unsettled id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsettled ids: %w", err)
	}
	return ids, nil
}

func (r *DocumentRepository) GetResult(ctx context.Context, documentID string) (*domain.DocumentResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, doc_type, fields, overall_confidence, verdict, messages, processed_at
FROM document_results
WHERE document_id = $1
`, documentID)

	var result domain.DocumentResult
	var docType, verdict string
	var fieldsRaw, messagesRaw []byte

	err := row.Scan(
		&result.DocumentID, &docType, &fieldsRaw,
		&result.OverallConfidence, &verdict, &messagesRaw, &result.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get result", fmt.Errorf("document %s", documentID))
		}
		return nil, fmt.Errorf("scan document result: %w", err)
	}

	if err := json.Unmarshal(fieldsRaw, &result.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal result fields: %w", err)
	}
	if err := json.Unmarshal(messagesRaw, &result.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal result messages: %w", err)
	}
	result.Type = domain.DocumentType(docType)
	result.Verdict = domain.FieldStatus(verdict)
	return &result, nil
}
