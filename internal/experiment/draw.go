package experiment

import (
	"math/rand"
	"sync"
)

// ControlVariant is assigned when a definition declares no split at all.
const ControlVariant = "control"

// RandomSource yields uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// DrawVariant picks a variant by weighted random draw. A uniform value in [0, 100)
// is compared against cumulative shares in order and the first variant whose
// cumulative share reaches it wins. When no share does (the split sums to less
// than the draw, or every share is unusable) the first declared variant is
// returned, and an empty split yields ControlVariant.
func DrawVariant(split TrafficSplit, r RandomSource) string {
	if len(split) == 0 {
		return ControlVariant
	}

	draw := r.Float64() * 100
	cumulative := 0.0
	for _, e := range split {
		if !usable(e.Percent) {
			continue
		}
		cumulative += e.Percent
		if cumulative >= draw {
			return e.Variant
		}
	}

	return split[0].Variant
}

// lockedSource is a RandomSource safe for concurrent use.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomSource returns a concurrency-safe RandomSource seeded with seed.
func NewRandomSource(seed int64) RandomSource {
	return &lockedSource{r: rand.New(rand.NewSource(seed))} //nolint:gosec // assignment draws are not security sensitive
}

func (l *lockedSource) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
