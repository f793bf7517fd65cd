package providers

import (
	"fmt"
	"strings"

	"litsearch/internal/config"
)

type NamedBackend struct {
	Ref     ProviderRef
	Backend EmbeddingBackend
}

// Manager builds embedding backends from the configured provider list and
// hands out the preferred one. It replaces any process-wide provider state
// with an explicitly constructed registry.
type Manager struct {
	backends []NamedBackend
}

func NewManager(cfg config.Config) (*Manager, error) {
	refs := ParseProviderList(cfg.EmbedProviders)
	m := &Manager{}
	for _, ref := range refs {
		b, err := buildBackend(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		m.backends = append(m.backends, NamedBackend{Ref: ref, Backend: b})
	}
	if len(m.backends) == 0 {
		m.backends = []NamedBackend{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Backend: NewMockBackend(cfg.EmbedDim)}}
	}
	return m, nil
}

func (m *Manager) First() EmbeddingBackend {
	return m.backends[0].Backend
}

func (m *Manager) ByIndex(i int) (EmbeddingBackend, ProviderRef) {
	if i < 0 || i >= len(m.backends) {
		i = 0
	}
	return m.backends[i].Backend, m.backends[i].Ref
}

func (m *Manager) Count() int {
	return len(m.backends)
}

func (m *Manager) FindIndex(raw string) int {
	target := strings.ToLower(strings.TrimSpace(raw))
	if target == "" {
		return -1
	}
	for i := range m.backends {
		ref := m.backends[i].Ref
		candidates := []string{
			strings.ToLower(strings.TrimSpace(ref.Raw)),
			strings.ToLower(strings.TrimSpace(ref.Name)),
		}
		if ref.KeyAlias != "" {
			candidates = append(candidates, strings.ToLower(ref.Name+":"+ref.KeyAlias))
		}
		for _, c := range candidates {
			if c == target {
				return i
			}
		}
	}
	return -1
}

func (m *Manager) Refs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.backends))
	for i := range m.backends {
		out = append(out, m.backends[i].Ref)
	}
	return out
}

func buildBackend(ref ProviderRef, dim int) (EmbeddingBackend, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockBackend(dim), nil
	case "openai":
		return NewOpenAIBackend(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaBackend(ref.KeyAlias), nil
	case "langchain":
		return NewLangchainBackend(ref.KeyAlias)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ref.Name)
	}
}
