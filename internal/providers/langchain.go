package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainBackend embeds through the langchaingo library against any
// OpenAI-compatible endpoint (llama.cpp server, LM Studio, vLLM). This is the
// in-process-library variant of the backend interface.
type LangchainBackend struct {
	alias    string
	model    string
	embedder embeddings.Embedder
}

func NewLangchainBackend(alias string) (*LangchainBackend, error) {
	host := strings.TrimSpace(os.Getenv("LITSEARCH_LANGCHAIN_BASE_URL"))
	if host == "" {
		host = "http://localhost:8000/v1"
	}
	model := strings.TrimSpace(os.Getenv("LITSEARCH_LANGCHAIN_EMBED_MODEL"))
	if model == "" {
		model = "nomic-embed-text-v1.5"
	}
	token := strings.TrimSpace(os.Getenv("LITSEARCH_LANGCHAIN_TOKEN"))
	if token == "" {
		// Local OpenAI-compatible services usually do not check the token.
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create langchain client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create langchain embedder: %w", err)
	}
	return &LangchainBackend{alias: alias, model: model, embedder: embedder}, nil
}

func (l *LangchainBackend) Info() BackendInfo {
	return BackendInfo{Name: "langchain", Model: l.model, Key: l.alias}
}

func (l *LangchainBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := l.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("langchain embed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("langchain returned no embedding")
	}
	return vecs[0], nil
}

func (l *LangchainBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	inputs := make([]string, 0, len(texts))
	indexes := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		inputs = append(inputs, t)
		indexes = append(indexes, i)
	}
	out := make([][]float32, len(texts))
	if len(inputs) == 0 {
		return out, nil
	}
	vecs, err := l.embedder.EmbedDocuments(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("langchain embed batch: %w", err)
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("langchain embedding count mismatch: sent %d, got %d", len(inputs), len(vecs))
	}
	for i, v := range vecs {
		out[indexes[i]] = v
	}
	return out, nil
}
