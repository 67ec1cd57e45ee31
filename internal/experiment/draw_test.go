package experiment

import (
	"math"
	"testing"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func split(entries ...SplitEntry) TrafficSplit { return TrafficSplit(entries) }

func TestDrawVariant(t *testing.T) {
	fiftyFifty := split(SplitEntry{"control", 50}, SplitEntry{"variant", 50})

	tests := []struct {
		name  string
		split TrafficSplit
		r     float64
		want  string
	}{
		{"low draw picks first", fiftyFifty, 0.1, "control"},
		{"boundary is inclusive", fiftyFifty, 0.5, "control"},
		{"high draw picks second", fiftyFifty, 0.99, "variant"},
		{"zero draw", fiftyFifty, 0, "control"},
		{"empty split", split(), 0.3, "control"},
		{"under-allocated falls back to first key", split(SplitEntry{"b", 10}, SplitEntry{"c", 10}), 0.9, "b"},
		{"zero shares fall back to first key", split(SplitEntry{"b", 0}, SplitEntry{"c", 0}), 0.0, "b"},
		{"negative share skipped", split(SplitEntry{"neg", -20}, SplitEntry{"pos", 100}), 0.05, "pos"},
		{"NaN share skipped", split(SplitEntry{"nan", math.NaN()}, SplitEntry{"ok", 100}), 0.5, "ok"},
		{"over-allocated never reaches later keys", split(SplitEntry{"a", 80}, SplitEntry{"b", 80}, SplitEntry{"c", 80}), 0.99, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DrawVariant(tt.split, fixedSource(tt.r)); got != tt.want {
				t.Errorf("DrawVariant() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDrawVariant_CoverageForWellFormedSplits(t *testing.T) {
	splits := []TrafficSplit{
		split(SplitEntry{"control", 100}),
		split(SplitEntry{"control", 50}, SplitEntry{"variant", 50}),
		split(SplitEntry{"a", 33.3}, SplitEntry{"b", 33.3}, SplitEntry{"c", 33.4}),
		split(SplitEntry{"a", 10}, SplitEntry{"b", 0}, SplitEntry{"c", 90}),
	}
	rng := NewRandomSource(11)

	for _, s := range splits {
		declared := map[string]bool{}
		for _, e := range s {
			declared[e.Variant] = true
		}
		for i := 0; i < 2000; i++ {
			if got := DrawVariant(s, rng); !declared[got] {
				t.Fatalf("draw returned undeclared variant %q for %v", got, s)
			}
		}
	}
}

func TestDrawVariant_Distribution(t *testing.T) {
	s := split(SplitEntry{"control", 20}, SplitEntry{"variant", 80})
	rng := NewRandomSource(5)

	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		counts[DrawVariant(s, rng)]++
	}

	share := float64(counts["control"]) / n
	if share < 0.17 || share > 0.23 {
		t.Errorf("expected roughly 20%% control, got %.3f", share)
	}
	if counts["control"]+counts["variant"] != n {
		t.Errorf("unexpected variants drawn: %v", counts)
	}
}
