package search

import (
	"fmt"
	"log/slog"
	"sort"

	"litsearch/internal/models"
)

// Fusion method names accepted in models.FusionConfig.
const (
	MethodSum      = "sum"
	MethodMax      = "max"
	MethodWeighted = "weighted"
	MethodRRF      = "rrf"
)

// DefaultRRFK is the conventional RRF smoothing constant.
const DefaultRRFK = 60.0

// ValidateFusionConfig fails fast on invalid configuration so no partial
// computation happens: weights must be non-negative, rrf k positive. An
// unrecognized method is not an error here; Fuse falls back to sum with a
// warning.
func ValidateFusionConfig(cfg models.FusionConfig) error {
	if cfg.Method == MethodWeighted {
		for name, w := range cfg.Weights {
			if w < 0 {
				return fmt.Errorf("fusion weight for %q must be non-negative, got %v", name, w)
			}
		}
	}
	if cfg.Method == MethodRRF {
		k := cfg.RRFK
		if k == 0 {
			k = DefaultRRFK
		}
		if k <= 0 {
			return fmt.Errorf("rrf k must be positive, got %v", cfg.RRFK)
		}
	}
	return nil
}

// Fuse computes a combined score for every result from its per-strategy score
// map and sorts descending. The input map is not a ranking; iteration order
// never affects the output.
func Fuse(results map[int64]*models.SearchResult, cfg models.FusionConfig, logger *slog.Logger) ([]*models.SearchResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ValidateFusionConfig(cfg); err != nil {
		return nil, err
	}

	switch cfg.Method {
	case MethodSum:
		fuseSum(results)
	case MethodMax:
		fuseMax(results)
	case MethodWeighted:
		fuseWeighted(results, cfg.Weights)
	case MethodRRF:
		k := cfg.RRFK
		if k == 0 {
			k = DefaultRRFK
		}
		fuseRRF(results, k)
	default:
		logger.Warn("unknown fusion method, falling back to sum", "method", cfg.Method)
		fuseSum(results)
	}

	return sortedResults(results), nil
}

func fuseSum(results map[int64]*models.SearchResult) {
	for _, r := range results {
		var sum float64
		for _, s := range r.Scores {
			sum += s
		}
		r.CombinedScore = sum
	}
}

func fuseMax(results map[int64]*models.SearchResult) {
	for _, r := range results {
		best := 0.0
		first := true
		for _, s := range r.Scores {
			if first || s > best {
				best = s
				first = false
			}
		}
		if first {
			best = 0
		}
		r.CombinedScore = best
	}
}

func fuseWeighted(results map[int64]*models.SearchResult, weights map[string]float64) {
	for _, r := range results {
		var sum float64
		for strategy, s := range r.Scores {
			w, ok := weights[strategy]
			if !ok {
				w = 1.0
			}
			sum += s * w
		}
		r.CombinedScore = sum
	}
}

// fuseRRF ranks each strategy's documents by descending score (rank 1 best)
// and sums 1/(k+rank). A document a strategy never returned contributes the
// penalty term 1/(k+maxRank+1) for that strategy, so strategies with larger
// result sets don't dominate by absence.
func fuseRRF(results map[int64]*models.SearchResult, k float64) {
	ranks := map[string]map[int64]int{}
	maxRank := map[string]int{}
	for _, strategy := range strategiesIn(results) {
		type scored struct {
			id    int64
			score float64
		}
		list := make([]scored, 0, len(results))
		for id, r := range results {
			if s, ok := r.Scores[strategy]; ok {
				list = append(list, scored{id: id, score: s})
			}
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].score != list[j].score {
				return list[i].score > list[j].score
			}
			return list[i].id < list[j].id
		})
		rm := make(map[int64]int, len(list))
		for i, s := range list {
			rm[s.id] = i + 1
		}
		ranks[strategy] = rm
		maxRank[strategy] = len(list)
	}

	for id, r := range results {
		var sum float64
		for strategy, rm := range ranks {
			if rank, ok := rm[id]; ok {
				sum += 1.0 / (k + float64(rank))
			} else {
				sum += 1.0 / (k + float64(maxRank[strategy]) + 1.0)
			}
		}
		r.CombinedScore = sum
	}
}

func strategiesIn(results map[int64]*models.SearchResult) []string {
	seen := map[string]struct{}{}
	for _, r := range results {
		for strategy := range r.Scores {
			seen[strategy] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortedResults(results map[int64]*models.SearchResult) []*models.SearchResult {
	out := make([]*models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CombinedScore != out[j].CombinedScore {
			return out[i].CombinedScore > out[j].CombinedScore
		}
		// Deterministic order for equal scores.
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}
