package recommend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/generator"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
	"github.com/khanglvm/personalize/internal/search"
	"github.com/khanglvm/personalize/internal/signals"
	"github.com/khanglvm/personalize/internal/visitor"
)

const (
	// DefaultTimeout bounds all collaborator calls of one request.
	DefaultTimeout = 3 * time.Second

	// DefaultCandidateLimit bounds how many catalog items one request scores.
	DefaultCandidateLimit = 500

	// DefaultSearchTerms is how many recent search terms feed FromSearches.
	DefaultSearchTerms = 5
)

// Generator is an optional remote recommendation source.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (generator.Result, error)
}

// ProfileReader reads a visitor's browsing profile.
type ProfileReader interface {
	ReadProfile(ctx context.Context, v visitor.Visitor) signals.BrowsingProfile
}

// SearchIndex ranks catalog items against search terms.
type SearchIndex interface {
	SearchTerms(terms []string, limit int, config search.FusionConfig) ([]search.Result, error)
}

// Config tunes a Recommender.
type Config struct {
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
	CandidateLimit int           `koanf:"candidate_limit" yaml:"candidate_limit" validate:"gte=0"`
	SearchTerms    int           `koanf:"search_terms" yaml:"search_terms" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		CandidateLimit: DefaultCandidateLimit,
		SearchTerms:    DefaultSearchTerms,
	}
}

// Option customizes a Recommender.
type Option func(*Recommender)

// WithGenerator tries gen before deterministic scoring in ForYou.
func WithGenerator(gen Generator) Option {
	return func(r *Recommender) { r.generator = gen }
}

// WithSearchIndex enables FromSearches.
func WithSearchIndex(index SearchIndex) Option {
	return func(r *Recommender) { r.index = index }
}

// WithRand replaces the random source.
func WithRand(rng Rand) Option {
	return func(r *Recommender) { r.rng = rng }
}

// Recommender serves recommendation feeds for visitors.
type Recommender struct {
	catalog   catalog.Catalog
	purchases catalog.PurchaseHistory
	profiles  ProfileReader
	generator Generator
	index     SearchIndex
	rng       Rand
	cfg       Config
	log       zerolog.Logger
}

// New creates a Recommender. purchases may be nil.
func New(cat catalog.Catalog, purchases catalog.PurchaseHistory, profiles ProfileReader, cfg Config, opts ...Option) *Recommender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.SearchTerms <= 0 {
		cfg.SearchTerms = DefaultSearchTerms
	}

	r := &Recommender{
		catalog:   cat,
		purchases: purchases,
		profiles:  profiles,
		rng:       NewLockedRand(time.Now().UnixNano()),
		cfg:       cfg,
		log:       logging.Component("recommend"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// inputs are the collaborator results a feed is computed from.
type inputs struct {
	items        []catalog.Item
	purchased    map[string]struct{}
	catalogErr   error
	purchasesErr error
}

// fetch loads the catalog and, for authenticated visitors, their purchased
// categories concurrently. Failures are recorded, not returned.
func (r *Recommender) fetch(ctx context.Context, v visitor.Visitor) inputs {
	var in inputs
	var g errgroup.Group

	g.Go(func() error {
		in.items, in.catalogErr = r.catalog.List(ctx, r.cfg.CandidateLimit)
		return nil
	})

	if r.purchases != nil && v.Authenticated() {
		g.Go(func() error {
			in.purchased, in.purchasesErr = r.purchases.PurchasedCategories(ctx, v.IdentityID)
			return nil
		})
	}

	_ = g.Wait()

	if in.purchasesErr != nil || in.purchased == nil {
		in.purchased = map[string]struct{}{}
	}
	return in
}

// ForYou returns the general personalized feed.
func (r *Recommender) ForYou(ctx context.Context, v visitor.Visitor, limit int) Feed {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	profile := r.profiles.ReadProfile(ctx, v)
	in := r.fetch(ctx, v)

	if in.catalogErr != nil {
		r.degraded("catalog", in.catalogErr)
		feed := emptyFeed(SourceSignalsOnly, true)
		metrics.RecordFeed("for_you", feed.Source, time.Since(start))
		return feed
	}

	if r.generator != nil {
		if feed, ok := r.generate(ctx, in.items, profile, limit); ok {
			metrics.RecordFeed("for_you", feed.Source, time.Since(start))
			return feed
		}
	}

	feed := Feed{
		Items:  ScoreForYou(in.items, profile, in.purchased, limit, r.rng),
		Source: SourceSignals,
	}
	if in.purchasesErr != nil {
		r.degraded("purchases", in.purchasesErr)
		feed.Source = SourceSignalsOnly
		feed.Degraded = true
	}

	metrics.RecordFeed("for_you", feed.Source, time.Since(start))
	return feed
}

// generate asks the generator for a feed. ok is false when the caller should
// fall back to deterministic scoring.
func (r *Recommender) generate(ctx context.Context, items []catalog.Item, profile signals.BrowsingProfile, limit int) (Feed, bool) {
	viewed := profile.ViewedSet()
	byID := make(map[string]catalog.Item, len(items))
	candidates := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if _, ok := viewed[item.ID]; ok {
			continue
		}
		byID[item.ID] = item
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return Feed{}, false
	}

	result, err := r.generator.Generate(ctx, generator.Request{
		Candidates: candidates,
		Profile:    profile,
		Limit:      limit,
	})
	if err != nil {
		if !errors.Is(err, generator.ErrRateLimited) {
			r.degraded("generator", err)
		}
		return Feed{}, false
	}

	picked := make([]ScoredCandidate, 0, len(result.ItemIDs))
	for i, id := range result.ItemIDs {
		item, ok := byID[id]
		if !ok {
			continue
		}
		picked = append(picked, ScoredCandidate{Item: item, Score: float64(len(result.ItemIDs) - i)})
	}
	picked = truncate(picked, limit)
	if len(picked) == 0 {
		return Feed{}, false
	}

	return Feed{Items: picked, Reasoning: result.Reasoning, Source: SourceGenerator}, true
}

// ContinueShopping returns unviewed items from the visitor's most browsed category.
func (r *Recommender) ContinueShopping(ctx context.Context, v visitor.Visitor, limit int) (feed Feed) {
	defer recordFeed("continue_shopping", time.Now(), &feed)
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	profile := r.profiles.ReadProfile(ctx, v)
	if len(profile.CategoryCounts) == 0 {
		return emptyFeed(SourceCatalog, false)
	}

	items, err := r.catalog.List(ctx, r.cfg.CandidateLimit)
	if err != nil {
		r.degraded("catalog", err)
		return emptyFeed(SourceCatalog, true)
	}

	return Feed{Items: ContinueShopping(items, profile, limit), Source: SourceCatalog}
}

// SimilarTo returns items similar to itemID. An unknown item yields an empty feed.
func (r *Recommender) SimilarTo(ctx context.Context, itemID string, count int) (feed Feed) {
	defer recordFeed("similar", time.Now(), &feed)
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	anchor, items, ok := r.anchored(ctx, itemID)
	if !ok {
		return emptyFeed(SourceCatalog, anchor.ID == "")
	}

	return Feed{Items: SimilarTo(items, anchor, count), Source: SourceCatalog}
}

// Complementary returns a shuffled cross-sell selection for itemID.
func (r *Recommender) Complementary(ctx context.Context, itemID string, count int) (feed Feed) {
	defer recordFeed("complementary", time.Now(), &feed)
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	anchor, items, ok := r.anchored(ctx, itemID)
	if !ok {
		return emptyFeed(SourceCatalog, anchor.ID == "")
	}

	return Feed{Items: Complementary(items, anchor, count, r.rng), Source: SourceCatalog}
}

// anchored fetches the anchor item and the catalog concurrently. ok is false when
// either is unavailable. anchor.ID is set on a false ok only when the anchor does
// not exist, which is not a degradation.
func (r *Recommender) anchored(ctx context.Context, itemID string) (anchor catalog.Item, items []catalog.Item, ok bool) {
	var anchorErr, listErr error
	var g errgroup.Group

	g.Go(func() error {
		anchor, anchorErr = r.catalog.Get(ctx, itemID)
		return nil
	})
	g.Go(func() error {
		items, listErr = r.catalog.List(ctx, r.cfg.CandidateLimit)
		return nil
	})
	_ = g.Wait()

	if errors.Is(anchorErr, catalog.ErrNotFound) {
		r.log.Debug().Str("item", itemID).Msg("anchor item not found")
		return catalog.Item{ID: itemID}, nil, false
	}
	if anchorErr != nil {
		r.degraded("catalog", anchorErr)
		return catalog.Item{}, nil, false
	}
	if listErr != nil {
		r.degraded("catalog", listErr)
		return catalog.Item{}, nil, false
	}
	return anchor, items, true
}

// FromSearches ranks items by relevance to the visitor's recent search terms.
func (r *Recommender) FromSearches(ctx context.Context, v visitor.Visitor, limit int) (feed Feed) {
	defer recordFeed("from_searches", time.Now(), &feed)
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if r.index == nil {
		return emptyFeed(SourceSearch, false)
	}

	profile := r.profiles.ReadProfile(ctx, v)
	terms := profile.RecentSearchTerms
	if len(terms) == 0 {
		return emptyFeed(SourceSearch, false)
	}
	if len(terms) > r.cfg.SearchTerms {
		terms = terms[:r.cfg.SearchTerms]
	}

	// Over-fetch so exclusions do not starve the feed.
	hits, err := r.index.SearchTerms(terms, limit+len(profile.RecentlyViewed), search.DefaultFusionConfig)
	if err != nil {
		r.degraded("search", err)
		return emptyFeed(SourceSearch, true)
	}

	viewed := profile.ViewedSet()
	out := make([]ScoredCandidate, 0, len(hits))
	degraded := false
	for _, hit := range hits {
		if _, ok := viewed[hit.ItemID]; ok {
			continue
		}
		item, err := r.catalog.Get(ctx, hit.ItemID)
		if err != nil {
			// Index may lag the catalog.
			if !errors.Is(err, catalog.ErrNotFound) {
				degraded = true
			}
			continue
		}
		out = append(out, ScoredCandidate{Item: item, Score: hit.Score})
	}

	return Feed{Items: truncate(out, limit), Source: SourceSearch, Degraded: degraded}
}

// recordFeed is deferred by feeds with several return paths so every served
// feed is counted, empty ones included.
func recordFeed(name string, start time.Time, feed *Feed) {
	metrics.RecordFeed(name, feed.Source, time.Since(start))
}

func (r *Recommender) degraded(collaborator string, err error) {
	metrics.RecordDegradation(collaborator)
	r.log.Warn().Err(err).Str("collaborator", collaborator).Msg("serving degraded recommendations")
}
