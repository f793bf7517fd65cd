package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MockBackend produces deterministic vectors from the input text. Useful for
// tests and local runs without an inference service.
type MockBackend struct {
	dim int
}

func NewMockBackend(dim int) *MockBackend {
	if dim <= 0 {
		dim = 768
	}
	return &MockBackend{dim: dim}
}

func (m *MockBackend) Info() BackendInfo {
	return BackendInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", m.dim), Key: "mock"}
}

func (m *MockBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	_ = ctx
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("mock backend: empty input")
	}
	return deterministicVector(text, m.dim), nil
}

func (m *MockBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	_ = ctx
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		out[i] = deterministicVector(text, m.dim)
	}
	return out, nil
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)+1e-9))
	for i := range v {
		v[i] *= inv
	}
	return v
}
