package search

import (
	"math"
	"testing"
)

func TestFuseScores_NormalizesAndWeights(t *testing.T) {
	fused := make(map[string]*Result)

	fuseScores(fused, []Result{{ItemID: "a", Score: 4}, {ItemID: "b", Score: 2}}, 1)
	fuseScores(fused, []Result{{ItemID: "b", Score: 10}}, 0.5)

	if math.Abs(fused["a"].Score-1.0) > 0.001 {
		t.Errorf("expected a=1.0, got %f", fused["a"].Score)
	}
	// b: 0.5 from the first term plus 0.5*1.0 from the second.
	if math.Abs(fused["b"].Score-1.0) > 0.001 {
		t.Errorf("expected b=1.0, got %f", fused["b"].Score)
	}
}

func TestFuseScores_NoResults(t *testing.T) {
	fused := make(map[string]*Result)
	fuseScores(fused, nil, 1)

	if len(fused) != 0 {
		t.Errorf("expected 0 fused results, got %d", len(fused))
	}
}

func TestSearchTerms_RecentTermWins(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.SearchTerms([]string{"television", "hose"}, 10, DefaultFusionConfig)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].ItemID != "tv-1" {
		t.Errorf("expected most recent term's hit first, got %s", results[0].ItemID)
	}
	if results[1].ItemID != "hose-1" {
		t.Errorf("expected older term's hit second, got %s", results[1].ItemID)
	}
}

func TestSearchTerms_AccumulatesAcrossTerms(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.SearchTerms([]string{"outdoor", "lamp"}, 10, DefaultFusionConfig)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 || results[0].ItemID != "lamp-3" {
		t.Errorf("expected item matching both terms first, got %+v", results)
	}
}

func TestSearchTerms_LimitAndBlankTerms(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.SearchTerms([]string{"  ", "lamp"}, 2, FusionConfig{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected limit of 2, got %d", len(results))
	}

	empty, err := indexer.SearchTerms(nil, 5, DefaultFusionConfig)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected no results for no terms, got %v %v", empty, err)
	}
}
