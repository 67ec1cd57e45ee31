package recommend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/generator"
	"github.com/khanglvm/personalize/internal/metrics"
	"github.com/khanglvm/personalize/internal/search"
	"github.com/khanglvm/personalize/internal/signals"
	"github.com/khanglvm/personalize/internal/storage"
	"github.com/khanglvm/personalize/internal/visitor"
)

var (
	anon   = visitor.Visitor{DeviceID: "dev-1"}
	authed = visitor.Visitor{DeviceID: "dev-1", IdentityID: "user-1"}
)

// mockCatalog implements catalog.Catalog and catalog.PurchaseHistory.
type mockCatalog struct {
	items        []catalog.Item
	purchased    map[string]struct{}
	listErr      error
	purchasesErr error
	delay        time.Duration
}

func (m *mockCatalog) List(ctx context.Context, limit int) ([]catalog.Item, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.items, nil
}

func (m *mockCatalog) Get(ctx context.Context, id string) (catalog.Item, error) {
	if m.listErr != nil {
		return catalog.Item{}, m.listErr
	}
	for _, item := range m.items {
		if item.ID == id {
			return item, nil
		}
	}
	return catalog.Item{}, catalog.ErrNotFound
}

func (m *mockCatalog) PurchasedCategories(ctx context.Context, identityID string) (map[string]struct{}, error) {
	if m.purchasesErr != nil {
		return nil, m.purchasesErr
	}
	return m.purchased, nil
}

type mockGenerator struct {
	result generator.Result
	err    error
	got    generator.Request
}

func (m *mockGenerator) Generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	m.got = req
	return m.result, m.err
}

type mockIndex struct {
	results []search.Result
	err     error
	terms   []string
}

func (m *mockIndex) SearchTerms(terms []string, limit int, config search.FusionConfig) ([]search.Result, error) {
	m.terms = terms
	return m.results, m.err
}

func newTestRecommender(t *testing.T, cat *mockCatalog, opts ...Option) (*Recommender, *signals.Store) {
	t.Helper()
	store := signals.NewStore(storage.NewMemoryStorage())
	opts = append([]Option{WithRand(NewLockedRand(1))}, opts...)
	return New(cat, cat, store, Config{Timeout: time.Second}, opts...), store
}

func TestForYou_PurchaseBoost(t *testing.T) {
	ctx := context.Background()
	cat := &mockCatalog{items: mixedCatalog(), purchased: map[string]struct{}{"garten": {}}}
	r, _ := newTestRecommender(t, cat)

	feed := r.ForYou(ctx, authed, 5)

	if feed.Source != SourceSignals || feed.Degraded {
		t.Errorf("expected healthy signals feed, got source=%s degraded=%v", feed.Source, feed.Degraded)
	}
	for _, c := range feed.Items {
		if c.Item.Category != "garten" {
			t.Errorf("expected purchased category to dominate, got %v", feed.ItemIDs())
			break
		}
	}
}

func TestForYou_AnonymousGetsNoBoost(t *testing.T) {
	cat := &mockCatalog{items: mixedCatalog(), purchased: map[string]struct{}{"garten": {}}}
	r, _ := newTestRecommender(t, cat)

	for _, c := range r.ForYou(context.Background(), anon, 0).Items {
		if c.Score >= purchaseBoost {
			t.Fatalf("anonymous visitor should not get purchase boost, got %v for %s", c.Score, c.Item.ID)
		}
	}
}

func TestForYou_ExcludesRecentlyViewed(t *testing.T) {
	ctx := context.Background()
	cat := &mockCatalog{items: mixedCatalog()}
	r, store := newTestRecommender(t, cat)

	store.RecordItemViewed(ctx, anon, "e1")
	store.RecordItemViewed(ctx, anon, "g2")

	for _, id := range r.ForYou(ctx, anon, 0).ItemIDs() {
		if id == "e1" || id == "g2" {
			t.Errorf("recently viewed item %s in feed", id)
		}
	}
}

func TestForYou_PurchaseHistoryFailureDegrades(t *testing.T) {
	cat := &mockCatalog{items: mixedCatalog(), purchasesErr: errors.New("orders down")}
	r, _ := newTestRecommender(t, cat)

	feed := r.ForYou(context.Background(), authed, 4)

	if len(feed.Items) != 4 {
		t.Fatalf("expected signal-only feed of 4, got %d", len(feed.Items))
	}
	if feed.Source != SourceSignalsOnly || !feed.Degraded {
		t.Errorf("expected degraded signals-only feed, got source=%s degraded=%v", feed.Source, feed.Degraded)
	}
}

func TestForYou_CatalogFailureReturnsEmpty(t *testing.T) {
	cat := &mockCatalog{listErr: errors.New("catalog down")}
	r, _ := newTestRecommender(t, cat)

	feed := r.ForYou(context.Background(), anon, 4)

	if feed.Items == nil || len(feed.Items) != 0 || !feed.Degraded {
		t.Errorf("expected empty degraded feed, got %+v", feed)
	}
}

func TestForYou_Timeout(t *testing.T) {
	cat := &mockCatalog{items: mixedCatalog(), delay: time.Second}
	store := signals.NewStore(storage.NewMemoryStorage())
	r := New(cat, cat, store, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	feed := r.ForYou(context.Background(), anon, 4)

	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("expected timeout to bound the request, took %v", time.Since(start))
	}
	if !feed.Degraded || len(feed.Items) != 0 {
		t.Errorf("expected empty degraded feed on timeout, got %+v", feed)
	}
}

func TestForYou_GeneratorFirst(t *testing.T) {
	ctx := context.Background()
	cat := &mockCatalog{items: mixedCatalog()}
	gen := &mockGenerator{result: generator.Result{ItemIDs: []string{"g3", "e1", "e2"}, Reasoning: "gardener"}}
	r, store := newTestRecommender(t, cat, WithGenerator(gen))

	store.RecordItemViewed(ctx, anon, "e1")

	feed := r.ForYou(ctx, anon, 5)

	if feed.Source != SourceGenerator || feed.Reasoning != "gardener" {
		t.Fatalf("expected generator feed, got %+v", feed)
	}
	if fmt.Sprint(feed.ItemIDs()) != "[g3 e2]" {
		t.Errorf("expected viewed item filtered out, got %v", feed.ItemIDs())
	}
	for _, c := range gen.got.Candidates {
		if c.ID == "e1" {
			t.Error("viewed item should not be offered to the generator")
		}
	}
}

func TestForYou_GeneratorFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		gen  *mockGenerator
	}{
		{"error", &mockGenerator{err: errors.New("model unavailable")}},
		{"rate limited", &mockGenerator{err: generator.ErrRateLimited}},
		{"nothing usable", &mockGenerator{result: generator.Result{ItemIDs: []string{"ghost"}, Reasoning: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &mockCatalog{items: mixedCatalog()}
			r, _ := newTestRecommender(t, cat, WithGenerator(tt.gen))

			feed := r.ForYou(context.Background(), anon, 3)

			if feed.Source != SourceSignals {
				t.Errorf("expected deterministic fallback, got %s", feed.Source)
			}
			if feed.Reasoning != "" {
				t.Errorf("expected empty reasoning, got %q", feed.Reasoning)
			}
			if len(feed.Items) != 3 {
				t.Errorf("expected 3 items, got %d", len(feed.Items))
			}
		})
	}
}

func TestRecommender_ContinueShopping(t *testing.T) {
	ctx := context.Background()
	cat := &mockCatalog{items: mixedCatalog()}
	r, store := newTestRecommender(t, cat)

	if feed := r.ContinueShopping(ctx, anon, 4); len(feed.Items) != 0 {
		t.Fatalf("expected empty feed without counts, got %v", feed.ItemIDs())
	}

	for i := 0; i < 3; i++ {
		store.RecordCategoryView(ctx, anon, "elektronik")
	}
	store.RecordCategoryView(ctx, anon, "garten")
	store.RecordItemViewed(ctx, anon, "e2")

	feed := r.ContinueShopping(ctx, anon, 4)
	if fmt.Sprint(feed.ItemIDs()) != "[e1 e3 e4 e5]" {
		t.Errorf("expected unviewed elektronik items in catalog order, got %v", feed.ItemIDs())
	}
}

func TestRecommender_EmptyFeedsAreCounted(t *testing.T) {
	ctx := context.Background()
	served := func(feed, source string) float64 {
		return testutil.ToFloat64(metrics.FeedsServed.WithLabelValues(feed, source))
	}

	r, _ := newTestRecommender(t, &mockCatalog{items: mixedCatalog()})
	before := served("continue_shopping", SourceCatalog)
	if feed := r.ContinueShopping(ctx, anon, 4); len(feed.Items) != 0 {
		t.Fatalf("expected empty feed without counts, got %v", feed.ItemIDs())
	}
	if got := served("continue_shopping", SourceCatalog) - before; got != 1 {
		t.Errorf("expected empty continue feed to be counted once, got %v", got)
	}

	failing, store := newTestRecommender(t, &mockCatalog{listErr: errors.New("catalog down")})
	store.RecordCategoryView(ctx, anon, "elektronik")
	before = served("continue_shopping", SourceCatalog)
	if feed := failing.ContinueShopping(ctx, anon, 4); !feed.Degraded {
		t.Error("expected degraded feed on catalog failure")
	}
	if got := served("continue_shopping", SourceCatalog) - before; got != 1 {
		t.Errorf("expected degraded continue feed to be counted once, got %v", got)
	}

	before = served("similar", SourceCatalog)
	failing.SimilarTo(ctx, "e1", 3)
	if got := served("similar", SourceCatalog) - before; got != 1 {
		t.Errorf("expected degraded similar feed to be counted once, got %v", got)
	}

	before = served("from_searches", SourceSearch)
	r.FromSearches(ctx, anon, 3)
	if got := served("from_searches", SourceSearch) - before; got != 1 {
		t.Errorf("expected empty search feed to be counted once, got %v", got)
	}
}

func TestRecommender_SimilarAndComplementary(t *testing.T) {
	ctx := context.Background()
	cat := &mockCatalog{items: mixedCatalog()}
	r, _ := newTestRecommender(t, cat)

	similar := r.SimilarTo(ctx, "e2", 3)
	if len(similar.Items) != 3 || similar.Items[0].Item.Category != "elektronik" {
		t.Errorf("unexpected similar feed %v", similar.ItemIDs())
	}
	for _, id := range similar.ItemIDs() {
		if id == "e2" {
			t.Error("anchor must not be similar to itself")
		}
	}

	comp := r.Complementary(ctx, "e1", 10)
	for _, c := range comp.Items {
		if c.Item.Category == "elektronik" || c.Item.Price > 150 {
			t.Errorf("unexpected complementary item %+v", c.Item)
		}
	}
	if len(comp.Items) != 5 {
		t.Errorf("expected all 5 garten items under 150, got %d", len(comp.Items))
	}

	missing := r.SimilarTo(ctx, "nope", 3)
	if len(missing.Items) != 0 || missing.Degraded {
		t.Errorf("expected empty non-degraded feed for unknown anchor, got %+v", missing)
	}
}

func TestRecommender_AnchorFailureDegrades(t *testing.T) {
	cat := &mockCatalog{listErr: errors.New("down")}
	r, _ := newTestRecommender(t, cat)

	if feed := r.Complementary(context.Background(), "e1", 3); !feed.Degraded {
		t.Errorf("expected degraded feed, got %+v", feed)
	}
}

func TestFromSearches(t *testing.T) {
	ctx := context.Background()
	cat := &mockCatalog{items: mixedCatalog()}
	index := &mockIndex{results: []search.Result{
		{ItemID: "g1", Score: 2},
		{ItemID: "ghost", Score: 1.5},
		{ItemID: "g2", Score: 1},
		{ItemID: "g3", Score: 0.5},
	}}
	r, store := newTestRecommender(t, cat, WithSearchIndex(index))

	if feed := r.FromSearches(ctx, anon, 5); len(feed.Items) != 0 {
		t.Fatalf("expected empty feed without searches, got %v", feed.ItemIDs())
	}

	store.RecordSearch(ctx, anon, "hose")
	store.RecordSearch(ctx, anon, "rake")
	store.RecordItemViewed(ctx, anon, "g2")

	feed := r.FromSearches(ctx, anon, 5)
	if feed.Source != SourceSearch {
		t.Errorf("expected search source, got %s", feed.Source)
	}
	if fmt.Sprint(feed.ItemIDs()) != "[g1 g3]" {
		t.Errorf("expected viewed and unknown items dropped, got %v", feed.ItemIDs())
	}
	if fmt.Sprint(index.terms) != "[rake hose]" {
		t.Errorf("expected most recent term first, got %v", index.terms)
	}
}

func TestFromSearches_WithoutIndex(t *testing.T) {
	r, _ := newTestRecommender(t, &mockCatalog{items: mixedCatalog()})

	if feed := r.FromSearches(context.Background(), anon, 5); len(feed.Items) != 0 {
		t.Errorf("expected empty feed, got %v", feed.ItemIDs())
	}
}
