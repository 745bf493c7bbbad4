package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// uniqueViolation is the SQLSTATE postgres reports for a broken unique constraint.
const uniqueViolation = "23505"

const documentColumns = `id, owner_id, file_name, file_type, file_size, storage_key, content, processing,
	summary, classification, keywords, uploaded_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, owner_id, file_name, file_type, file_size, storage_key, content, processing, uploaded_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		doc.ID, doc.OwnerID, doc.FileName, string(doc.FileType), doc.FileSize, doc.StorageKey,
		doc.Content, doc.Processing, doc.UploadedAt, r.now(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "documents_storage_key_unique" {
			return domain.WrapError(domain.ErrInvalidState, "insert document", fmt.Errorf("storage key %s already registered", doc.StorageKey))
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) GetByStorageKey(ctx context.Context, key string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE storage_key = $1`, key)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document by storage key", fmt.Errorf("key=%s", key))
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOptions) ([]domain.Document, error) {
	opts = opts.Normalize()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE owner_id = $1
ORDER BY uploaded_at DESC, id DESC
LIMIT $2 OFFSET $3
`, ownerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return collectDocuments(rows)
}

func (r *DocumentRepository) Search(ctx context.Context, query domain.SearchQuery) ([]domain.Document, error) {
	limit := query.Limit
	if limit <= 0 || limit > domain.MaxSearchResults {
		limit = domain.MaxSearchResults
	}

	args := []any{query.OwnerID, query.Text}
	var where, rank string
	switch query.Mode {
	case domain.SearchByFilename:
		args = append(args, "%"+escapeLike(query.Text)+"%")
		where = `(file_name_tsv @@ plainto_tsquery('simple', $2) OR file_name ILIKE $3)`
		rank = `ts_rank(file_name_tsv, plainto_tsquery('simple', $2))`
	default:
		where = `processing AND content_tsv @@ plainto_tsquery('simple', $2)`
		rank = `ts_rank(content_tsv, plainto_tsquery('simple', $2))`
	}
	if query.FileType != "" {
		args = append(args, string(query.FileType))
		where += fmt.Sprintf(` AND file_type = $%d`, len(args))
	}
	args = append(args, limit)

	sqlText := fmt.Sprintf(`
SELECT %s
FROM documents
WHERE owner_id = $1 AND %s
ORDER BY %s DESC, uploaded_at DESC
LIMIT $%d
`, documentColumns, where, rank, len(args))

	rows, err := r.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return collectDocuments(rows)
}

func (r *DocumentRepository) SaveExtraction(ctx context.Context, id, content string, processing bool) error {
	// A failed extraction also clears any analysis left from an earlier run.
	query := `
UPDATE documents
SET content = $2, processing = $3, updated_at = $4
WHERE id = $1
`
	if !processing {
		query = `
UPDATE documents
SET content = $2, processing = $3, summary = NULL, classification = NULL, keywords = NULL, updated_at = $4
WHERE id = $1
`
	}
	result, err := r.db.ExecContext(ctx, query, id, content, processing, r.now())
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return requireRow(result, "save extraction", id)
}

func (r *DocumentRepository) CompleteAnalysis(
	ctx context.Context,
	id string,
	analysis domain.DocumentAnalysis,
	records []domain.AnalysisRecord,
	replace bool,
) (err error) {
	keywords := analysis.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin analysis tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var processing bool
	err = tx.QueryRowContext(ctx, `SELECT processing FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&processing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrNotFound, "complete analysis", fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("lock document: %w", err)
	}
	if !processing {
		return domain.WrapError(domain.ErrInvalidState, "complete analysis", fmt.Errorf("id=%s not extracted", id))
	}

	if replace && len(records) > 0 {
		if err = deleteRecordKinds(ctx, tx, id, records); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `
UPDATE documents
SET summary = $2, classification = $3, keywords = $4, updated_at = $5
WHERE id = $1
`, id, analysis.Summary, analysis.Classification, keywordsJSON, r.now()); err != nil {
		return fmt.Errorf("update document analysis: %w", err)
	}

	for _, rec := range records {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO document_analyses (id, document_id, owner_id, kind, result, confidence, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, rec.ID, id, rec.OwnerID, string(rec.Kind), rec.Result, rec.Confidence, rec.CreatedAt); err != nil {
			return fmt.Errorf("insert analysis record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis tx: %w", err)
	}
	return nil
}

func deleteRecordKinds(ctx context.Context, tx *sql.Tx, id string, records []domain.AnalysisRecord) error {
	args := []any{id}
	placeholders := make([]string, 0, len(records))
	seen := map[domain.AnalysisKind]bool{}
	for _, rec := range records {
		if seen[rec.Kind] {
			continue
		}
		seen[rec.Kind] = true
		args = append(args, string(rec.Kind))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := `DELETE FROM document_analyses WHERE document_id = $1 AND kind IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete previous analyses: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListAnalyses(ctx context.Context, documentID string) ([]domain.AnalysisRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, owner_id, kind, result, confidence, created_at
FROM document_analyses
WHERE document_id = $1
ORDER BY created_at ASC, kind ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnalysisRecord, 0, len(domain.DocumentAnalysisKinds))
	for rows.Next() {
		var rec domain.AnalysisRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.OwnerID, &kind, &rec.Result, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		rec.Kind = domain.AnalysisKind(kind)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) Delete(
	ctx context.Context,
	id string,
	beforeCommit func(context.Context, *domain.Document) error,
) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("id=%s", id))
		}
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM document_analyses WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("delete analyses: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if beforeCommit != nil {
		if err = beforeCommit(ctx, doc); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var fileType string
	var summary, classification sql.NullString
	var keywordsRaw []byte

	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.FileName, &fileType, &doc.FileSize, &doc.StorageKey,
		&doc.Content, &doc.Processing, &summary, &classification, &keywordsRaw, &doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.FileType = domain.FileType(fileType)

	if summary.Valid && classification.Valid && keywordsRaw != nil {
		analysis := &domain.DocumentAnalysis{Summary: summary.String, Classification: classification.String}
		if err := json.Unmarshal(keywordsRaw, &analysis.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords: %w", err)
		}
		doc.Analysis = analysis
	}
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	out := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func requireRow(result sql.Result, op, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
