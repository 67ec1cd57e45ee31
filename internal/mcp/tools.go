package mcp

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/visitor"
)

// DefaultLimit is the feed size when a call omits limit or count.
const DefaultLimit = 10

// MaxLimit caps limit and count arguments.
const MaxLimit = 100

type toolHandler func(ctx context.Context, args arguments) (interface{}, error)

// param describes one input property.
type param struct {
	name        string
	kind        string
	description string
}

type tool struct {
	description string
	params      []param
	required    []string
	handler     toolHandler
}

// schema returns the JSON schema of the tool's input.
func (t tool) schema() map[string]interface{} {
	props := make(map[string]interface{}, len(t.params))
	for _, p := range t.params {
		props[p.name] = map[string]interface{}{
			"type":        p.kind,
			"description": p.description,
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(t.required) > 0 {
		schema["required"] = t.required
	}
	return schema
}

// toolOrder fixes the tools/list order.
var toolOrder = []string{
	"track_category",
	"track_item",
	"track_search",
	"recommend_for_you",
	"recommend_continue",
	"recommend_similar",
	"recommend_complementary",
	"recommend_searches",
	"experiment_assign",
	"experiment_convert",
	"experiment_list",
	"experiment_report",
	"profile_get",
}

var (
	deviceParam   = param{"device_id", "string", "Device id that owns the visitor's stored state"}
	identityParam = param{"identity_id", "string", "Authenticated customer id, omit for anonymous visitors"}
	limitParam    = param{"limit", "integer", "Maximum number of items (default 10)"}
	continueParam = param{"limit", "integer", fmt.Sprintf("Maximum number of items (default %d)", recommend.DefaultContinueLimit)}
	countParam    = param{"count", "integer", "Maximum number of items (default 10)"}
	itemParam     = param{"item_id", "string", "Catalog item id"}
	expParam      = param{"experiment", "string", "Experiment name"}
)

func (s *Server) registerTools() map[string]tool {
	e := s.ops
	return map[string]tool{
		"track_category": {
			description: "Record that the visitor viewed a category page. Feeds ForYou and continue-shopping scoring.",
			params:      []param{deviceParam, {"category", "string", "Category name"}},
			required:    []string{"device_id", "category"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				e.RecordCategoryView(ctx, a.visitor(), a.str("category"))
				return ack(), nil
			},
		},
		"track_item": {
			description: "Record that the visitor viewed an item. Viewed items are excluded from personal feeds.",
			params:      []param{deviceParam, itemParam},
			required:    []string{"device_id", "item_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				e.RecordItemViewed(ctx, a.visitor(), a.str("item_id"))
				return ack(), nil
			},
		},
		"track_search": {
			description: "Record a search query. Terms shorter than two characters are ignored.",
			params:      []param{deviceParam, {"term", "string", "Search query"}},
			required:    []string{"device_id", "term"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				e.RecordSearch(ctx, a.visitor(), a.str("term"))
				return ack(), nil
			},
		},
		"recommend_for_you": {
			description: "General personalized feed from browsing signals and purchase history.",
			params:      []param{deviceParam, identityParam, limitParam},
			required:    []string{"device_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.ForYou(ctx, a.visitor(), a.limit("limit")), nil
			},
		},
		"recommend_continue": {
			description: "Unviewed items from the visitor's most browsed category.",
			params:      []param{deviceParam, continueParam},
			required:    []string{"device_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.ContinueShopping(ctx, a.visitor(), a.limitOr("limit", recommend.DefaultContinueLimit)), nil
			},
		},
		"recommend_similar": {
			description: "Items in the same category and price range as an item.",
			params:      []param{itemParam, countParam},
			required:    []string{"item_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.SimilarTo(ctx, a.str("item_id"), a.limit("count")), nil
			},
		},
		"recommend_complementary": {
			description: "Cross-sell items from other categories.",
			params:      []param{itemParam, countParam},
			required:    []string{"item_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.Complementary(ctx, a.str("item_id"), a.limit("count")), nil
			},
		},
		"recommend_searches": {
			description: "Items matching the visitor's recent searches, most recent term weighted highest.",
			params:      []param{deviceParam, limitParam},
			required:    []string{"device_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.FromSearches(ctx, a.visitor(), a.limit("limit")), nil
			},
		},
		"experiment_assign": {
			description: "Return the visitor's variant for an experiment, drawing one on first exposure.",
			params:      []param{deviceParam, identityParam, expParam},
			required:    []string{"device_id", "experiment"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				assignment, ok := e.GetAssignment(ctx, a.visitor(), a.str("experiment"))
				if !ok {
					return nil, fmt.Errorf("experiment %q is not active", a.str("experiment"))
				}
				return assignment, nil
			},
		},
		"experiment_convert": {
			description: "Record a conversion for the visitor's assigned variant.",
			params:      []param{deviceParam, identityParam, expParam, {"value", "number", "Conversion value, such as order total"}},
			required:    []string{"device_id", "experiment"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				assignment, ok := e.RecordConversion(ctx, a.visitor(), a.str("experiment"), a.float("value"))
				if !ok {
					return nil, fmt.Errorf("no assignment for experiment %q", a.str("experiment"))
				}
				return assignment, nil
			},
		},
		"experiment_list": {
			description: "List active experiments of a type, optionally on one placement.",
			params:      []param{{"type", "string", "Experiment type, such as banner or layout"}, {"target_id", "string", "Placement id"}},
			required:    []string{"type"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.ListExperiments(ctx, a.str("type"), a.str("target_id")), nil
			},
		},
		"experiment_report": {
			description: "Impressions, conversions and conversion rate per variant.",
			params:      []param{expParam},
			required:    []string{"experiment"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.ExperimentReport(ctx, a.str("experiment"))
			},
		},
		"profile_get": {
			description: "Return the visitor's browsing profile.",
			params:      []param{deviceParam},
			required:    []string{"device_id"},
			handler: func(ctx context.Context, a arguments) (interface{}, error) {
				return e.Profile(ctx, a.visitor()), nil
			},
		},
	}
}

func ack() map[string]bool {
	return map[string]bool{"ok": true}
}

// arguments are the decoded tools/call arguments.
type arguments map[string]interface{}

func (a arguments) str(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (a arguments) float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// limit reads a positive count capped at MaxLimit, defaulting to DefaultLimit.
func (a arguments) limit(key string) int {
	return a.limitOr(key, DefaultLimit)
}

// limitOr is limit with a per-tool default.
func (a arguments) limitOr(key string, def int) int {
	n := int(a.float(key))
	switch {
	case n <= 0:
		return def
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

func (a arguments) visitor() visitor.Visitor {
	return visitor.Visitor{DeviceID: a.str("device_id"), IdentityID: a.str("identity_id")}
}

// missing returns the first required key that is absent or empty.
func (a arguments) missing(required []string) string {
	for _, key := range required {
		if a.str(key) == "" {
			return key
		}
	}
	return ""
}
