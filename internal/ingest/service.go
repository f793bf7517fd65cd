package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"litsearch/internal/chunk"
	"litsearch/internal/config"
	"litsearch/internal/models"
	"litsearch/internal/providers"
	"litsearch/internal/storage"
	"litsearch/internal/util"

	"github.com/panjf2000/ants/v2"
)

// DocumentStore is the slice of document storage the ingest service needs.
type DocumentStore interface {
	GetFullText(ctx context.Context, documentID int64) (string, error)
	IDsWithoutChunks(ctx context.Context) ([]int64, error)
}

// ChunkStore persists chunk rows keyed by their chunking parameters.
type ChunkStore interface {
	HasChunks(ctx context.Context, key storage.ChunkKey) (bool, error)
	DeleteChunks(ctx context.Context, key storage.ChunkKey) (int64, error)
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	ChunkedDocumentIDs(ctx context.Context) ([]int64, error)
	ClearAll(ctx context.Context) (int64, error)
}

// ModelStore resolves embedding model names to ids and tracks dimensions.
type ModelStore interface {
	GetOrCreate(ctx context.Context, name string) (int, error)
	ObserveDimension(ctx context.Context, modelID, dimension int) error
}

// QueueStore is the persistent embedding work queue.
type QueueStore interface {
	Enqueue(ctx context.Context, documentID int64, priority int) error
	NextBatch(ctx context.Context, batchSize, maxAttempts int) ([]models.QueueEntry, error)
	MarkDone(ctx context.Context, documentID int64) error
	MarkFailed(ctx context.Context, documentID int64, cause string) error
	ListStuck(ctx context.Context, maxAttempts int) ([]models.QueueEntry, error)
	Depth(ctx context.Context, maxAttempts int) (int64, error)
}

// BatchEmbedder is the provider surface the service embeds through.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Info() providers.BackendInfo
}

// Params are the chunking parameters that, with the document and model,
// form the natural key of every chunk row written.
type Params struct {
	Model        string `json:"model"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// Service chunks documents, embeds the chunks in batches, and persists the
// results. It also drains the embedding queue and rebuilds the chunk store.
type Service struct {
	docs     DocumentStore
	chunks   ChunkStore
	modelsDB ModelStore
	queue    QueueStore
	embedder BatchEmbedder
	pool     *ants.Pool
	logger   *slog.Logger

	embedBatchSize   int
	queueMaxAttempts int
	minChunkSize     int
	dataOutRoot      string
	defaults         Params
}

func NewService(cfg config.Config, docs DocumentStore, chunks ChunkStore, modelsDB ModelStore, queue QueueStore, embedder BatchEmbedder, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.QueueWorkers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Service{
		docs:             docs,
		chunks:           chunks,
		modelsDB:         modelsDB,
		queue:            queue,
		embedder:         embedder,
		pool:             pool,
		logger:           logger.With("component", "ingest"),
		embedBatchSize:   cfg.EmbedBatchSize,
		queueMaxAttempts: cfg.QueueMaxAttempts,
		minChunkSize:     cfg.MinChunkSize,
		dataOutRoot:      cfg.DataOutRoot,
		defaults: Params{
			Model:        cfg.EmbedModel,
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
		},
	}, nil
}

func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Defaults returns the configured chunking parameters.
func (s *Service) Defaults() Params { return s.defaults }

func (s *Service) fillParams(p Params) Params {
	if p.Model == "" {
		p.Model = s.defaults.Model
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = s.defaults.ChunkSize
	}
	if p.ChunkOverlap <= 0 {
		p.ChunkOverlap = s.defaults.ChunkOverlap
	}
	return p
}

// ChunkAndEmbed chunks one document, embeds every chunk, and upserts the
// results under the (document, model, params) key. A document with no
// extractable text is a no-op, not an error. With overwrite false an already
// chunked document is skipped. Returns the number of chunks written.
func (s *Service) ChunkAndEmbed(ctx context.Context, documentID int64, p Params, overwrite bool) (int, error) {
	p = s.fillParams(p)

	text, err := s.docs.GetFullText(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("load document %d: %w", documentID, err)
	}
	if strings.TrimSpace(text) == "" {
		s.logger.Info("document has no text, skipping", "document_id", documentID)
		return 0, nil
	}

	modelID, err := s.modelsDB.GetOrCreate(ctx, p.Model)
	if err != nil {
		return 0, fmt.Errorf("resolve model %q: %w", p.Model, err)
	}
	key := storage.ChunkKey{
		DocumentID:   documentID,
		ModelID:      modelID,
		ChunkSize:    p.ChunkSize,
		ChunkOverlap: p.ChunkOverlap,
	}

	if overwrite {
		if _, err := s.chunks.DeleteChunks(ctx, key); err != nil {
			return 0, fmt.Errorf("clear existing chunks for document %d: %w", documentID, err)
		}
	} else {
		exists, err := s.chunks.HasChunks(ctx, key)
		if err != nil {
			return 0, err
		}
		if exists {
			s.logger.Debug("document already chunked, skipping", "document_id", documentID)
			return 0, nil
		}
	}

	positions, err := s.positions(text, p)
	if err != nil {
		return 0, fmt.Errorf("chunk document %d: %w", documentID, err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	rows, err := s.embedPositions(ctx, documentID, text, positions, key)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if dim := s.embedder.Dimension(); dim > 0 {
		if err := s.modelsDB.ObserveDimension(ctx, modelID, dim); err != nil {
			s.logger.Warn("failed to record model dimension", "model_id", modelID, "err", err)
		}
	}
	if err := s.chunks.UpsertChunks(ctx, rows); err != nil {
		return 0, fmt.Errorf("persist chunks for document %d: %w", documentID, err)
	}
	s.logger.Info("document chunked and embedded",
		"document_id", documentID, "chunks", len(rows), "skipped", len(positions)-len(rows), "model", p.Model)
	return len(rows), nil
}

func (s *Service) positions(text string, p Params) ([]models.ChunkPosition, error) {
	if s.minChunkSize > 0 {
		return chunk.PositionsWithFloor(text, p.ChunkSize, p.ChunkOverlap, s.minChunkSize)
	}
	return chunk.Positions(text, p.ChunkSize, p.ChunkOverlap)
}

// embedPositions embeds the chunk texts batch by batch. A chunk whose
// embedding came back absent is logged and dropped, and a batch the embedder
// gave up on drops only that batch; the rest still persist. An error comes
// back only when not a single chunk could be embedded.
func (s *Service) embedPositions(ctx context.Context, documentID int64, text string, positions []models.ChunkPosition, key storage.ChunkKey) ([]models.Chunk, error) {
	batchSize := s.embedBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	rows := make([]models.Chunk, 0, len(positions))
	var embedErr error
	for start := 0; start < len(positions); start += batchSize {
		end := start + batchSize
		if end > len(positions) {
			end = len(positions)
		}
		batch := positions[start:end]

		texts := make([]string, len(batch))
		for i, pos := range batch {
			texts[i] = chunk.Extract(text, pos)
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if !errors.Is(err, util.ErrNoEmbedding) {
				return nil, fmt.Errorf("embed batch for document %d: %w", documentID, err)
			}
			embedErr = err
			s.logger.Warn("embedding batch failed, skipping its chunks",
				"document_id", documentID, "first_chunk_no", batch[0].ChunkNo,
				"chunks", len(batch), "err", err)
			continue
		}
		for i, vec := range vecs {
			if vec == nil {
				s.logger.Warn("chunk embedding failed, skipping chunk",
					"document_id", documentID, "chunk_no", batch[i].ChunkNo,
					"text", util.DisplaySnippet(texts[i], 80))
				continue
			}
			rows = append(rows, models.Chunk{
				DocumentID:   key.DocumentID,
				ModelID:      key.ModelID,
				ChunkSize:    key.ChunkSize,
				ChunkOverlap: key.ChunkOverlap,
				ChunkNo:      batch[i].ChunkNo,
				StartPos:     batch[i].StartPos,
				EndPos:       batch[i].EndPos,
				Embedding:    vec,
			})
		}
	}
	if len(rows) == 0 && embedErr != nil {
		return nil, fmt.Errorf("embed document %d: %w", documentID, embedErr)
	}
	return rows, nil
}

// Enqueue puts a document on the persistent embedding queue.
func (s *Service) Enqueue(ctx context.Context, documentID int64, priority int) error {
	return s.queue.Enqueue(ctx, documentID, priority)
}

// QueueDepth reports how many queue entries are still eligible for retry.
func (s *Service) QueueDepth(ctx context.Context) (int64, error) {
	return s.queue.Depth(ctx, s.queueMaxAttempts)
}
