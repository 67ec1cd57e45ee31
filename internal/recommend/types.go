package recommend

import (
	"math/rand"
	"sync"

	"github.com/khanglvm/personalize/internal/catalog"
)

// Feed sources.
const (
	SourceGenerator   = "generator"
	SourceSignals     = "signals"
	SourceSignalsOnly = "signals-only"
	SourceSearch      = "search"
	SourceCatalog     = "catalog"
)

// ScoredCandidate is a catalog item with its ranking score.
type ScoredCandidate struct {
	Item  catalog.Item `json:"item"`
	Score float64      `json:"score"`
}

// Feed is a ranked recommendation list returned to the presentation layer.
type Feed struct {
	Items []ScoredCandidate `json:"items"`

	// Reasoning is the generator's explanation, empty for every other source.
	Reasoning string `json:"reasoning"`

	// Source names the path that produced Items.
	Source string `json:"source"`

	// Degraded is set when a collaborator failure reduced the result.
	Degraded bool `json:"degraded,omitempty"`
}

// ItemIDs returns the ids of the feed items in order.
func (f Feed) ItemIDs() []string {
	ids := make([]string, len(f.Items))
	for i, c := range f.Items {
		ids[i] = c.Item.ID
	}
	return ids
}

func emptyFeed(source string, degraded bool) Feed {
	return Feed{Items: []ScoredCandidate{}, Source: source, Degraded: degraded}
}

// Rand is the random source used for jitter and shuffling.
type Rand interface {
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// lockedRand is a Rand safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a concurrency-safe Rand seeded with seed.
func NewLockedRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))} //nolint:gosec // math/rand is fine for ranking jitter
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}
