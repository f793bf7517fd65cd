package storage

import (
	"context"
	"fmt"

	"litsearch/internal/models"

	"github.com/pgvector/pgvector-go"
)

// ChunkRepo persists chunk spans and vectors. All writes go through the
// natural-key upsert, so re-processing a document with the same parameters
// overwrites instead of duplicating.
type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ChunkKey identifies one (document, model, parameters) chunk group.
type ChunkKey struct {
	DocumentID   int64
	ModelID      int
	ChunkSize    int
	ChunkOverlap int
}

func (r *ChunkRepo) HasChunks(ctx context.Context, key ChunkKey) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM chunks
  WHERE document_id=$1 AND model_id=$2 AND chunk_size=$3 AND chunk_overlap=$4
)`, key.DocumentID, key.ModelID, key.ChunkSize, key.ChunkOverlap).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check chunks exist: %w", err)
	}
	return exists, nil
}

func (r *ChunkRepo) DeleteChunks(ctx context.Context, key ChunkKey) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
DELETE FROM chunks
WHERE document_id=$1 AND model_id=$2 AND chunk_size=$3 AND chunk_overlap=$4`,
		key.DocumentID, key.ModelID, key.ChunkSize, key.ChunkOverlap)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ChunkRepo) UpsertChunk(ctx context.Context, c models.Chunk) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO chunks (document_id, model_id, chunk_size, chunk_overlap, chunk_no, start_pos, end_pos, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (document_id, model_id, chunk_size, chunk_overlap, chunk_no)
DO UPDATE SET
  start_pos = EXCLUDED.start_pos,
  end_pos = EXCLUDED.end_pos,
  embedding = EXCLUDED.embedding,
  created_at = NOW()`,
		c.DocumentID, c.ModelID, c.ChunkSize, c.ChunkOverlap, c.ChunkNo, c.StartPos, c.EndPos, pgvector.NewVector(c.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert chunk %d/%d: %w", c.DocumentID, c.ChunkNo, err)
	}
	return nil
}

func (r *ChunkRepo) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
INSERT INTO chunks (document_id, model_id, chunk_size, chunk_overlap, chunk_no, start_pos, end_pos, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (document_id, model_id, chunk_size, chunk_overlap, chunk_no)
DO UPDATE SET
  start_pos = EXCLUDED.start_pos,
  end_pos = EXCLUDED.end_pos,
  embedding = EXCLUDED.embedding,
  created_at = NOW()`,
			c.DocumentID, c.ModelID, c.ChunkSize, c.ChunkOverlap, c.ChunkNo, c.StartPos, c.EndPos, pgvector.NewVector(c.Embedding),
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %d/%d: %w", c.DocumentID, c.ChunkNo, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListChunks(ctx context.Context, key ChunkKey) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT document_id, model_id, chunk_size, chunk_overlap, chunk_no, start_pos, end_pos, created_at
FROM chunks
WHERE document_id=$1 AND model_id=$2 AND chunk_size=$3 AND chunk_overlap=$4
ORDER BY chunk_no ASC`, key.DocumentID, key.ModelID, key.ChunkSize, key.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.DocumentID, &c.ModelID, &c.ChunkSize, &c.ChunkOverlap, &c.ChunkNo, &c.StartPos, &c.EndPos, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// ChunkedDocumentIDs returns the distinct documents that currently have any
// chunks. The bulk re-chunk captures this set before clearing the table.
func (r *ChunkRepo) ChunkedDocumentIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT document_id FROM chunks ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list chunked document ids: %w", err)
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunked document id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunked document ids: %w", err)
	}
	return out, nil
}

// ClearAll empties the chunk table in one statement so readers never observe a
// partially deleted state.
func (r *ChunkRepo) ClearAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks`)
	if err != nil {
		return 0, fmt.Errorf("clear chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ChunkRepo) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
