package engine

import (
	"context"

	"github.com/khanglvm/personalize/internal/experiment"
	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/signals"
	"github.com/khanglvm/personalize/internal/visitor"
)

// Operations is the request-level surface transports expose.
type Operations interface {
	ForYou(ctx context.Context, v visitor.Visitor, limit int) recommend.Feed
	ContinueShopping(ctx context.Context, v visitor.Visitor, limit int) recommend.Feed
	SimilarTo(ctx context.Context, itemID string, count int) recommend.Feed
	Complementary(ctx context.Context, itemID string, count int) recommend.Feed
	FromSearches(ctx context.Context, v visitor.Visitor, limit int) recommend.Feed
	GetAssignment(ctx context.Context, v visitor.Visitor, name string) (experiment.Assignment, bool)
	RecordConversion(ctx context.Context, v visitor.Visitor, name string, value float64) (experiment.Assignment, bool)
	ListExperiments(ctx context.Context, testType, targetID string) []experiment.Definition
	ExperimentReport(ctx context.Context, name string) (experiment.Report, error)
	RecordCategoryView(ctx context.Context, v visitor.Visitor, category string)
	RecordItemViewed(ctx context.Context, v visitor.Visitor, itemID string)
	RecordSearch(ctx context.Context, v visitor.Visitor, term string)
	Profile(ctx context.Context, v visitor.Visitor) signals.BrowsingProfile
}

var _ Operations = (*Engine)(nil)
