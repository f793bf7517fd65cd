package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"litsearch/internal/util"
)

// Embedder wraps a backend with retry/backoff and dimension tracking. The
// embedding dimension is learned from the first successful call; later vectors
// of a different length are logged as anomalous but returned unmodified.
type Embedder struct {
	backend EmbeddingBackend
	retry   RetryPolicy
	logger  *slog.Logger

	mu  sync.Mutex
	dim int
}

func NewEmbedder(backend EmbeddingBackend, retry RetryPolicy, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		backend: backend,
		retry:   retry,
		logger:  logger.With("backend", backend.Info().Name),
	}
}

func (e *Embedder) Info() BackendInfo {
	return e.backend.Info()
}

// Dimension returns the learned embedding dimension, 0 before the first
// successful call.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// EmbedOne embeds a single text with retry. Exhausting the retry budget
// returns util.ErrNoEmbedding, never a partial vector.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.retry.Do(ctx, func() error {
		v, err := e.backend.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		e.logger.Warn("embedding failed after retries", "class", ClassifyError(err), "err", err)
		return nil, fmt.Errorf("%w: %s", util.ErrNoEmbedding, err)
	}
	e.observeDimension(len(vec))
	return vec, nil
}

// EmbedBatch embeds texts through the backend's batch path. The result always
// has one slot per input; nil slots mark inputs that produced no vector. An
// output count mismatch fails the whole batch, which is then retried as a
// unit; exhausting retries yields all-absent slots plus the final error.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var vecs [][]float32
	err := e.retry.Do(ctx, func() error {
		out, err := e.backend.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(out) != len(texts) {
			return fmt.Errorf("batch count mismatch: sent %d, got %d", len(texts), len(out))
		}
		vecs = out
		return nil
	})
	if err != nil {
		e.logger.Warn("batch embedding failed after retries", "inputs", len(texts), "class", ClassifyError(err), "err", err)
		return make([][]float32, len(texts)), fmt.Errorf("%w: %s", util.ErrNoEmbedding, err)
	}
	for _, v := range vecs {
		if v != nil {
			e.observeDimension(len(v))
		}
	}
	return vecs, nil
}

func (e *Embedder) observeDimension(got int) {
	if got == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = got
		e.logger.Info("embedding dimension established", "dimension", got)
		return
	}
	if got != e.dim {
		e.logger.Warn("embedding dimension drift", "expected", e.dim, "got", got)
	}
}
