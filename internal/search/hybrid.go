package search

import (
	"sort"
	"strings"
)

// FusionConfig controls how per-term rankings are combined.
type FusionConfig struct {
	// Decay is the weight multiplier applied to each older term. The most recent
	// term has weight 1, the next Decay, then Decay², and so on.
	Decay float64

	// PerTermLimit bounds hits fetched for each term.
	PerTermLimit int
}

// DefaultFusionConfig halves the weight of each older term.
var DefaultFusionConfig = FusionConfig{
	Decay:        0.5,
	PerTermLimit: 50,
}

// SearchTerms ranks items against several search terms, most recent first. Each
// term's scores are normalized to [0,1] before weighting so a single long query
// cannot dominate the fused ranking.
func (i *Indexer) SearchTerms(terms []string, limit int, config FusionConfig) ([]Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if config.PerTermLimit <= 0 {
		config.PerTermLimit = DefaultFusionConfig.PerTermLimit
	}
	if config.Decay <= 0 || config.Decay > 1 {
		config.Decay = DefaultFusionConfig.Decay
	}

	fused := make(map[string]*Result)
	weight := 1.0

	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		hits, err := i.SearchBM25(term, config.PerTermLimit)
		if err != nil {
			return nil, err
		}
		fuseScores(fused, hits, weight)
		weight *= config.Decay
	}

	results := make([]Result, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].ItemID < results[b].ItemID
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// fuseScores adds weight-scaled, max-normalized hit scores into fused.
func fuseScores(fused map[string]*Result, hits []Result, weight float64) {
	maxScore := 0.0
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	if maxScore == 0 {
		return
	}

	for _, h := range hits {
		contribution := weight * h.Score / maxScore
		if existing, ok := fused[h.ItemID]; ok {
			existing.Score += contribution
			continue
		}
		r := h
		r.Score = contribution
		fused[h.ItemID] = &r
	}
}
