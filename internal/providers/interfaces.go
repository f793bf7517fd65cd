package providers

import "context"

type BackendInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// EmbeddingBackend is one inference source for embedding vectors. Backends are
// interchangeable; callers depend only on this interface.
//
// EmbedBatch returns one slot per input, in order. A nil slot marks an input
// that failed individually without aborting the batch.
type EmbeddingBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Info() BackendInfo
}
