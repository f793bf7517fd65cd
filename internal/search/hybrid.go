package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"litsearch/internal/models"
	"litsearch/internal/util"
)

// QueryEmbedder supplies the query vector for the vector strategy.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Options selects the enabled strategies and fusion configuration for one
// query. Zero-value Strategies means all.
type Options struct {
	Strategies      []string
	TopK            int
	VectorThreshold float64
	Fusion          models.FusionConfig
}

// Response carries the fused ranking plus provenance: which strategies ran
// and which actually produced results.
type Response struct {
	Results            []*models.SearchResult `json:"results"`
	StrategiesRun      []string               `json:"strategies_run"`
	StrategiesWithHits []string               `json:"strategies_with_hits"`
	RepairedQuery      string                 `json:"repaired_query"`
}

// StrategyRunner is the set of retrieval strategy adapters the orchestrator
// fans out to.
type StrategyRunner interface {
	Lexical(ctx context.Context, booleanQuery string, limit int) ([]Hit, error)
	Vector(ctx context.Context, queryVec []float32, threshold float64, limit int) ([]Hit, error)
	FullText(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Hybrid fans a question out to the enabled retrieval strategies, merges
// per-document scores, and fuses them into one ranking. A failure in one
// strategy is logged and the others still contribute.
type Hybrid struct {
	strategies StrategyRunner
	embedder   QueryEmbedder
	logger     *slog.Logger
}

func NewHybrid(strategies StrategyRunner, embedder QueryEmbedder, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hybrid{strategies: strategies, embedder: embedder, logger: logger.With("component", "hybrid-search")}
}

func (h *Hybrid) Search(ctx context.Context, question string, opts Options) (Response, error) {
	// Configuration errors fail before any strategy runs.
	if err := ValidateFusionConfig(opts.Fusion); err != nil {
		return Response{}, err
	}

	enabled := opts.Strategies
	if len(enabled) == 0 {
		enabled = []string{StrategyLexical, StrategyVector, StrategyFullText}
	}
	repaired := RepairQuery(question)

	merged := make(map[int64]*models.SearchResult)
	withHits := make([]string, 0, len(enabled))

	for _, strategy := range enabled {
		hits, err := h.runStrategy(ctx, strategy, question, repaired, opts)
		if err != nil {
			h.logger.Warn("strategy failed, continuing without it", "strategy", strategy, "err", err)
			continue
		}
		if len(hits) > 0 {
			withHits = append(withHits, strategy)
		}
		mergeHits(merged, strategy, question, hits)
	}
	sort.Strings(withHits)

	ranked, err := Fuse(merged, opts.Fusion, h.logger)
	if err != nil {
		return Response{}, err
	}
	if opts.TopK > 0 && len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}
	return Response{
		Results:            ranked,
		StrategiesRun:      enabled,
		StrategiesWithHits: withHits,
		RepairedQuery:      repaired,
	}, nil
}

func (h *Hybrid) runStrategy(ctx context.Context, strategy, question, repaired string, opts Options) ([]Hit, error) {
	switch strategy {
	case StrategyLexical:
		return h.withLadder(ctx, question, repaired, func(q string) ([]Hit, error) {
			return h.strategies.Lexical(ctx, q, opts.TopK)
		})
	case StrategyVector:
		if h.embedder == nil {
			return nil, fmt.Errorf("vector strategy enabled but no embedder configured")
		}
		vec, err := h.embedder.EmbedOne(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return h.strategies.Vector(ctx, vec, opts.VectorThreshold, opts.TopK)
	case StrategyFullText:
		return h.strategies.FullText(ctx, question, opts.TopK)
	default:
		return nil, fmt.Errorf("unknown strategy: %s", strategy)
	}
}

// withLadder runs a boolean-query strategy, escalating through the
// simplification ladder on parser rejection. Exhausting the ladder yields an
// empty result, not an error.
func (h *Hybrid) withLadder(ctx context.Context, question, repaired string, run func(q string) ([]Hit, error)) ([]Hit, error) {
	hits, err := run(repaired)
	if err == nil {
		return hits, nil
	}
	if !IsQuerySyntaxError(err) {
		return nil, err
	}
	h.logger.Info("query rejected by parser, starting simplification ladder", "query", repaired)

	tried := map[string]struct{}{repaired: {}}
	for _, reform := range Reformulations(question) {
		if _, ok := tried[reform]; ok {
			continue
		}
		tried[reform] = struct{}{}
		hits, err = run(reform)
		if err == nil {
			h.logger.Info("simplified query accepted", "query", reform)
			return hits, nil
		}
		if !IsQuerySyntaxError(err) {
			return nil, err
		}
	}
	h.logger.Warn("simplification ladder exhausted, returning no results", "question", question)
	return []Hit{}, nil
}

func mergeHits(merged map[int64]*models.SearchResult, strategy, question string, hits []Hit) {
	for _, hit := range hits {
		r, ok := merged[hit.DocumentID]
		if !ok {
			r = &models.SearchResult{
				DocumentID: hit.DocumentID,
				Title:      hit.Title,
				Snippet:    util.DisplayEvidenceSnippet(hit.Snippet, question, 420),
				Scores:     map[string]float64{},
			}
			merged[hit.DocumentID] = r
		}
		r.Scores[strategy] = hit.Score
	}
}
