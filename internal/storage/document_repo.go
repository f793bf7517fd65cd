package storage

import (
	"context"
	"errors"
	"fmt"

	"litsearch/internal/models"

	"github.com/jackc/pgx/v5"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// GetFullText returns a document's text, or "" with no error when the
// document exists but carries no text.
func (r *DocumentRepo) GetFullText(ctx context.Context, documentID int64) (string, error) {
	var text *string
	err := r.db.Pool.QueryRow(ctx, `SELECT full_text FROM documents WHERE document_id=$1`, documentID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("document %d not found", documentID)
	}
	if err != nil {
		return "", fmt.Errorf("get document text %d: %w", documentID, err)
	}
	if text == nil {
		return "", nil
	}
	return *text, nil
}

func (r *DocumentRepo) Insert(ctx context.Context, title, fullText string) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO documents (title, full_text)
VALUES (NULLIF($1,''), $2)
RETURNING document_id`, title, fullText).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (r *DocumentRepo) UpdateText(ctx context.Context, documentID int64, fullText string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET full_text=$2, updated_at=NOW() WHERE document_id=$1`, documentID, fullText)
	if err != nil {
		return fmt.Errorf("update document text %d: %w", documentID, err)
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, documentID int64) (models.Document, error) {
	var d models.Document
	err := r.db.Pool.QueryRow(ctx, `
SELECT document_id, COALESCE(title,''), COALESCE(full_text,''), created_at, updated_at
FROM documents WHERE document_id=$1`, documentID).
		Scan(&d.DocumentID, &d.Title, &d.FullText, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("get document %d: %w", documentID, err)
	}
	return d, nil
}

func (r *DocumentRepo) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT document_id FROM documents ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IDsWithoutChunks returns documents that have no chunks at all, the input for
// the chunk-missing bulk mode.
func (r *DocumentRepo) IDsWithoutChunks(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT d.document_id
FROM documents d
LEFT JOIN chunks c ON c.document_id = d.document_id
WHERE c.document_id IS NULL
ORDER BY d.document_id`)
	if err != nil {
		return nil, fmt.Errorf("list unchunked document ids: %w", err)
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unchunked document id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
