package models

import "time"

type Document struct {
	DocumentID int64     `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	FullText   string    `json:"full_text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChunkPosition is an inclusive character span [StartPos, EndPos] within a
// document's text. Extracting the chunk text requires the source document.
type ChunkPosition struct {
	ChunkNo  int `json:"chunk_no"`
	StartPos int `json:"start_pos"`
	EndPos   int `json:"end_pos"`
}

func (p ChunkPosition) Length() int {
	return p.EndPos - p.StartPos + 1
}

// Chunk is owned by its natural key (DocumentID, ModelID, ChunkSize,
// ChunkOverlap, ChunkNo). Re-chunking with different parameters coexists as
// distinct rows.
type Chunk struct {
	DocumentID   int64     `json:"document_id"`
	ModelID      int       `json:"model_id"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	ChunkNo      int       `json:"chunk_no"`
	StartPos     int       `json:"start_pos"`
	EndPos       int       `json:"end_pos"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type EmbeddingModel struct {
	ModelID   int    `json:"model_id"`
	Name      string `json:"name"`
	Dimension *int   `json:"dimension,omitempty"`
}

type QueueEntry struct {
	DocumentID    int64      `json:"document_id"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	QueuedAt      time.Time  `json:"queued_at"`
	Priority      int        `json:"priority"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// SearchResult aggregates per-strategy scores for one document. The Scores map
// is sparse: a document found by only one strategy has one entry.
type SearchResult struct {
	DocumentID    int64              `json:"document_id"`
	Title         string             `json:"title,omitempty"`
	Snippet       string             `json:"snippet,omitempty"`
	Scores        map[string]float64 `json:"scores"`
	CombinedScore float64            `json:"combined_score"`
}

// FusionConfig is read-only once handed to the fusion engine.
type FusionConfig struct {
	Method  string             `json:"method"`
	Weights map[string]float64 `json:"weights,omitempty"`
	RRFK    float64            `json:"rrf_k,omitempty"`
}
