package recommend

import (
	"math"
	"sort"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/signals"
)

const (
	// categoryWeight multiplies the visitor's view count for an item's category.
	categoryWeight = 10.0

	// purchaseBoost is added when the visitor bought from the category before.
	purchaseBoost = 50.0

	// maxJitter bounds the uniform random term.
	maxJitter = 5.0

	// sameCategoryWeight dominates the price-proximity term in SimilarTo.
	sameCategoryWeight = 10.0

	// priceTolerance scales price distance relative to the anchor price.
	priceTolerance = 0.3

	// complementaryPriceCeiling caps cross-sell price relative to the anchor.
	complementaryPriceCeiling = 1.5

	// DefaultContinueLimit is the continue-shopping feed size.
	DefaultContinueLimit = 4
)

// ScoreForYou ranks items for the general feed. Items the visitor recently viewed
// are excluded. A limit <= 0 returns every remaining item.
func ScoreForYou(items []catalog.Item, profile signals.BrowsingProfile, purchased map[string]struct{}, limit int, rng Rand) []ScoredCandidate {
	viewed := profile.ViewedSet()

	scored := make([]ScoredCandidate, 0, len(items))
	for _, item := range items {
		if _, ok := viewed[item.ID]; ok {
			continue
		}

		score := categoryWeight * float64(profile.CategoryCounts[item.Category])
		if _, ok := purchased[item.Category]; ok {
			score += purchaseBoost
		}
		score += item.Discount()
		score += rng.Float64() * maxJitter

		scored = append(scored, ScoredCandidate{Item: item, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return truncate(scored, limit)
}

// TopCategory returns the category with the highest view count. Ties go to the
// lexicographically smallest name. ok is false when there are no counts.
func TopCategory(counts map[string]uint) (category string, ok bool) {
	var best uint
	for cat, n := range counts {
		if !ok || n > best || (n == best && cat < category) {
			category, best, ok = cat, n, true
		}
	}
	return category, ok
}

// ContinueShopping returns up to limit unviewed items from the visitor's most
// browsed category, in catalog order.
func ContinueShopping(items []catalog.Item, profile signals.BrowsingProfile, limit int) []ScoredCandidate {
	out := []ScoredCandidate{}

	anchor, ok := TopCategory(profile.CategoryCounts)
	if !ok {
		return out
	}
	if limit <= 0 {
		limit = DefaultContinueLimit
	}

	viewed := profile.ViewedSet()
	score := categoryWeight * float64(profile.CategoryCounts[anchor])
	for _, item := range items {
		if len(out) == limit {
			break
		}
		if item.Category != anchor {
			continue
		}
		if _, ok := viewed[item.ID]; ok {
			continue
		}
		out = append(out, ScoredCandidate{Item: item, Score: score})
	}
	return out
}

// SimilarTo ranks items other than anchor by category match and price proximity.
func SimilarTo(items []catalog.Item, anchor catalog.Item, count int) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(items))
	for _, item := range items {
		if item.ID == anchor.ID {
			continue
		}
		score := priceProximity(anchor.Price, item.Price)
		if item.Category == anchor.Category {
			score += sameCategoryWeight
		}
		scored = append(scored, ScoredCandidate{Item: item, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return truncate(scored, count)
}

// priceProximity is 1 for an identical price and decays toward 0 as the price
// moves away from the anchor. A non-positive anchor price only matches exactly.
func priceProximity(anchorPrice, price float64) float64 {
	delta := math.Abs(price - anchorPrice)
	if anchorPrice <= 0 {
		if delta == 0 {
			return 1
		}
		return 0
	}
	return 1 / (1 + delta/(priceTolerance*anchorPrice))
}

// Complementary returns a shuffled selection of items from other categories
// priced at most 1.5 times the anchor.
func Complementary(items []catalog.Item, anchor catalog.Item, count int, rng Rand) []ScoredCandidate {
	ceiling := complementaryPriceCeiling * anchor.Price

	pool := make([]ScoredCandidate, 0, len(items))
	for _, item := range items {
		if item.ID == anchor.ID || item.Category == anchor.Category {
			continue
		}
		if item.Price > ceiling {
			continue
		}
		pool = append(pool, ScoredCandidate{Item: item})
	}

	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return truncate(pool, count)
}

func truncate(list []ScoredCandidate, limit int) []ScoredCandidate {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
