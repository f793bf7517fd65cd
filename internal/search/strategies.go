package search

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Strategy names used as keys in SearchResult.Scores.
const (
	StrategyLexical  = "lexical"
	StrategyVector   = "vector"
	StrategyFullText = "fulltext"
)

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Hit is one document scored by a single strategy.
type Hit struct {
	DocumentID int64
	Title      string
	Snippet    string
	Score      float64
}

// Strategies holds the database-backed retrieval strategy adapters. Each
// adapter is an opaque ranked-list provider; the ranking math lives in the
// database.
type Strategies struct {
	q Queryer
}

func NewStrategies(q Queryer) *Strategies {
	return &Strategies{q: q}
}

// Lexical runs a boolean tsquery expression through ts_rank_cd. The query
// must already be repaired; a malformed expression surfaces as a syntax error
// the caller handles with the simplification ladder.
func (s *Strategies) Lexical(ctx context.Context, booleanQuery string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx, `
SELECT d.document_id,
       COALESCE(d.title, '') AS title,
       LEFT(d.full_text, 420) AS snippet,
       ts_rank_cd(to_tsvector('english', d.full_text), query) AS score
FROM documents d, to_tsquery('english', $1) query
WHERE to_tsvector('english', d.full_text) @@ query
ORDER BY score DESC
LIMIT $2`, booleanQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("query lexical search: %w", err)
	}
	return scanHits(rows)
}

// Vector returns per-document best chunk similarity above the threshold.
func (s *Strategies) Vector(ctx context.Context, queryVec []float32, threshold float64, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx, `
SELECT c.document_id,
       COALESCE(d.title, '') AS title,
       LEFT(d.full_text, 420) AS snippet,
       MAX(1 - (c.embedding <=> $1)) AS score
FROM chunks c
JOIN documents d ON d.document_id = c.document_id
WHERE c.embedding IS NOT NULL
GROUP BY c.document_id, d.title, d.full_text
HAVING MAX(1 - (c.embedding <=> $1)) >= $2
ORDER BY score DESC
LIMIT $3`, pgvector.NewVector(queryVec), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	return scanHits(rows)
}

// FullText runs the query through plainto_tsquery, which tolerates arbitrary
// natural-language input.
func (s *Strategies) FullText(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx, `
SELECT d.document_id,
       COALESCE(d.title, '') AS title,
       LEFT(d.full_text, 420) AS snippet,
       ts_rank(to_tsvector('english', d.full_text), query) AS score
FROM documents d, plainto_tsquery('english', $1) query
WHERE to_tsvector('english', d.full_text) @@ query
ORDER BY score DESC
LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query fulltext search: %w", err)
	}
	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]Hit, error) {
	defer rows.Close()
	out := make([]Hit, 0, 20)
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocumentID, &h.Title, &h.Snippet, &h.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return out, nil
}
