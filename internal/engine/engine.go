/*
Package engine assembles the personalization engine from configuration.

An Engine owns every long-lived resource: the visitor store, the catalog and its
circuit breakers, the search index, the optional generator, the impression tracker
and the experiment definitions. Transports (stdio, HTTP, CLI) call its methods and
serialize the plain structs they return.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/config"
	"github.com/khanglvm/personalize/internal/experiment"
	"github.com/khanglvm/personalize/internal/generator"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/search"
	"github.com/khanglvm/personalize/internal/signals"
	"github.com/khanglvm/personalize/internal/tracking"
	"github.com/khanglvm/personalize/internal/visitor"
)

// definitionStore is a definitions source that can also list inactive experiments.
type definitionStore interface {
	experiment.Definitions
	All() []experiment.Definition
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	generator recommend.Generator
	recRand   recommend.Rand
	expRand   experiment.RandomSource
	noWatch   bool
}

// WithGenerator replaces the configured generator.
func WithGenerator(gen recommend.Generator) Option {
	return func(o *options) { o.generator = gen }
}

// WithRandomSources fixes the random sources used for jitter and variant draws.
func WithRandomSources(rec recommend.Rand, exp experiment.RandomSource) Option {
	return func(o *options) {
		o.recRand = rec
		o.expRand = exp
	}
}

// WithoutWatch disables definition hot reload regardless of configuration.
func WithoutWatch() Option {
	return func(o *options) { o.noWatch = true }
}

// Engine serves recommendations and experiments.
type Engine struct {
	cfg         *config.Config
	store       *backend
	catalog     *catalog.FileCatalog
	guarded     *catalog.GuardedCatalog
	purchases   *catalog.GuardedPurchases
	index       *search.Indexer
	signals     *signals.Store
	recommender *recommend.Recommender
	tracker     *tracking.Tracker
	defs        definitionStore
	fileDefs    *experiment.FileDefinitions
	experiments *experiment.Service
	generator   bool
	log         zerolog.Logger
}

// New builds an Engine from cfg. The caller must Close it.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, log: logging.Component("engine")}

	store, err := openStorage(cfg.Storage, e.log)
	if err != nil {
		return nil, err
	}
	e.store = store

	if err := e.initCatalog(); err != nil {
		e.store.close()
		return nil, err
	}

	if err := e.initDefinitions(!o.noWatch); err != nil {
		e.closeCatalog()
		e.store.close()
		return nil, err
	}

	e.signals = signals.NewStore(store.kv)
	e.tracker = tracking.NewTracker(store.events, cfg.Tracking)
	if !store.enabled() {
		e.log.Warn().Msg("storage disabled, impressions and conversions will not be recorded")
		e.tracker.Disable()
	}

	e.experiments = experiment.NewService(e.defs, store.kv, e.tracker, store.events)
	if o.expRand != nil {
		e.experiments.SetRandomSource(o.expRand)
	}

	recOpts := []recommend.Option{}
	if e.index != nil {
		recOpts = append(recOpts, recommend.WithSearchIndex(e.index))
	}
	if gen := e.buildGenerator(o.generator); gen != nil {
		recOpts = append(recOpts, recommend.WithGenerator(gen))
		e.generator = true
	}
	if o.recRand != nil {
		recOpts = append(recOpts, recommend.WithRand(o.recRand))
	}
	e.recommender = recommend.New(e.guarded, e.purchases, e.signals, cfg.Recommend, recOpts...)

	e.log.Info().
		Str("storage", cfg.Storage.Driver).
		Int("items", e.catalog.Len()).
		Int("experiments", len(e.defs.All())).
		Bool("generator", e.generator).
		Msg("engine ready")

	return e, nil
}

func (e *Engine) initCatalog() error {
	fc, err := catalog.LoadFile(e.cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	e.catalog = fc
	e.guarded = catalog.NewGuardedCatalog(fc, e.cfg.Catalog.Breaker)
	e.purchases = catalog.NewGuardedPurchases(fc, e.cfg.Catalog.Breaker)

	// The index is optional; FromSearches returns an empty feed without it.
	items, _ := fc.List(context.Background(), e.cfg.Catalog.Limit)
	index, err := search.NewIndexer()
	if err != nil {
		e.log.Warn().Err(err).Msg("search index unavailable")
		return nil
	}
	if err := index.IndexItems(items); err != nil {
		index.Close()
		e.log.Warn().Err(err).Msg("failed to index catalog")
		return nil
	}
	e.index = index
	return nil
}

func (e *Engine) closeCatalog() {
	if e.index != nil {
		e.index.Close()
	}
}

func (e *Engine) initDefinitions(watch bool) error {
	path := e.cfg.Experiments.Path
	if path == "" {
		e.defs, _ = experiment.NewStaticDefinitions()
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		e.log.Warn().Str("path", path).Msg("no experiment definitions, every experiment lookup will miss")
		e.defs, _ = experiment.NewStaticDefinitions()
		return nil
	}

	fd, err := experiment.LoadDefinitions(path)
	if err != nil {
		return fmt.Errorf("failed to load experiments: %w", err)
	}
	e.defs = fd
	e.fileDefs = fd

	if watch && e.cfg.Experiments.Watch {
		if err := fd.Watch(); err != nil {
			e.log.Warn().Err(err).Str("path", path).Msg("experiment hot reload disabled")
		}
	}
	return nil
}

func (e *Engine) buildGenerator(override recommend.Generator) recommend.Generator {
	if override != nil {
		return override
	}
	if !e.cfg.Generator.Enabled {
		return nil
	}
	gen, err := generator.NewAnthropic(e.cfg.Generator)
	if err != nil {
		e.log.Warn().Err(err).Msg("generator disabled")
		return nil
	}
	return gen
}

// Close stops background work and releases storage. Queued impressions are
// flushed before the store closes.
func (e *Engine) Close() error {
	var errs []error
	if e.fileDefs != nil {
		if err := e.fileDefs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.tracker.Stop()
	e.closeCatalog()
	if err := e.store.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// ForYou returns the general personalized feed.
func (e *Engine) ForYou(ctx context.Context, v visitor.Visitor, limit int) recommend.Feed {
	return e.recommender.ForYou(ctx, v, limit)
}

// ContinueShopping returns unviewed items from the visitor's favorite category.
func (e *Engine) ContinueShopping(ctx context.Context, v visitor.Visitor, limit int) recommend.Feed {
	return e.recommender.ContinueShopping(ctx, v, limit)
}

// SimilarTo returns items similar to itemID.
func (e *Engine) SimilarTo(ctx context.Context, itemID string, count int) recommend.Feed {
	return e.recommender.SimilarTo(ctx, itemID, count)
}

// Complementary returns cross-sell items for itemID.
func (e *Engine) Complementary(ctx context.Context, itemID string, count int) recommend.Feed {
	return e.recommender.Complementary(ctx, itemID, count)
}

// FromSearches returns items matching the visitor's recent searches.
func (e *Engine) FromSearches(ctx context.Context, v visitor.Visitor, limit int) recommend.Feed {
	return e.recommender.FromSearches(ctx, v, limit)
}

// GetAssignment returns the visitor's variant for the named experiment.
func (e *Engine) GetAssignment(ctx context.Context, v visitor.Visitor, name string) (experiment.Assignment, bool) {
	return e.experiments.GetAssignment(ctx, v, name)
}

// RecordConversion records a conversion for the visitor's assigned variant.
func (e *Engine) RecordConversion(ctx context.Context, v visitor.Visitor, name string, value float64) (experiment.Assignment, bool) {
	return e.experiments.RecordConversion(ctx, v, name, value)
}

// ListExperiments returns active experiments of testType, optionally on targetID.
func (e *Engine) ListExperiments(ctx context.Context, testType, targetID string) []experiment.Definition {
	return e.experiments.ListByType(ctx, testType, targetID)
}

// ExperimentReport tallies outcomes for the named experiment.
func (e *Engine) ExperimentReport(ctx context.Context, name string) (experiment.Report, error) {
	return e.experiments.Report(ctx, name)
}

// RecordCategoryView records a category page view.
func (e *Engine) RecordCategoryView(ctx context.Context, v visitor.Visitor, category string) {
	e.signals.RecordCategoryView(ctx, v, category)
}

// RecordItemViewed records an item detail view.
func (e *Engine) RecordItemViewed(ctx context.Context, v visitor.Visitor, itemID string) {
	e.signals.RecordItemViewed(ctx, v, itemID)
}

// RecordSearch records a search query.
func (e *Engine) RecordSearch(ctx context.Context, v visitor.Visitor, term string) {
	e.signals.RecordSearch(ctx, v, term)
}

// Profile returns the visitor's browsing profile.
func (e *Engine) Profile(ctx context.Context, v visitor.Visitor) signals.BrowsingProfile {
	return e.signals.ReadProfile(ctx, v)
}
