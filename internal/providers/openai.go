package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenAIBackend embeds via the OpenAI REST API, which supports a native batch
// call.
type OpenAIBackend struct {
	keyName string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIBackend(keyName string) *OpenAIBackend {
	model := strings.TrimSpace(os.Getenv("LITSEARCH_OPENAI_EMBED_MODEL"))
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIBackend{
		keyName: keyName,
		apiKey:  resolveOpenAIKey(keyName),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIBackend) Info() BackendInfo {
	return BackendInfo{Name: "openai", Model: o.model, Key: o.keyName}
}

func (o *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || vecs[0] == nil {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return vecs[0], nil
}

func (o *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	// The API rejects empty inputs, so blank slots are held back and returned
	// as absent.
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

	payload, _ := json.Marshal(map[string]any{"model": o.model, "input": inputs})
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(payload))
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("openai embedding error %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embedding count mismatch: sent %d, got %d", len(inputs), len(parsed.Data))
	}
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(indexes) {
			return nil, fmt.Errorf("openai embedding index out of range: %d", d.Index)
		}
		out[indexes[d.Index]] = d.Embedding
	}
	return out, nil
}

func resolveOpenAIKey(alias string) string {
	if alias != "" {
		k := os.Getenv("LITSEARCH_OPENAI_KEY_" + strings.ToUpper(alias))
		if k != "" {
			return k
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
