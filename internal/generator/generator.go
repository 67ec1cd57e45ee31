/*
Package generator asks a remote language model to pick recommendations.

The generator is optional. Callers treat every error as a signal to fall back to
deterministic scoring, so this package never retries.
*/
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
	"github.com/khanglvm/personalize/internal/signals"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

var (
	// ErrRateLimited is returned when the local request budget is exhausted.
	ErrRateLimited = errors.New("generator: rate limited")

	// ErrNoAPIKey is returned by NewAnthropic without credentials.
	ErrNoAPIKey = errors.New("generator: api key is required")
)

// Request is the input to a generation call.
type Request struct {
	Candidates []catalog.Item
	Profile    signals.BrowsingProfile
	Limit      int
}

// Result is the generator's pick, in ranked order.
type Result struct {
	ItemIDs   []string `json:"items"`
	Reasoning string   `json:"reasoning"`
}

// Config configures the Anthropic generator.
type Config struct {
	Enabled       bool   `koanf:"enabled" yaml:"enabled"`
	Model         string `koanf:"model" yaml:"model"`
	APIKey        string `koanf:"api_key" yaml:"api_key,omitempty"`
	MaxTokens     int64  `koanf:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	RatePerMinute int    `koanf:"rate_per_minute" yaml:"rate_per_minute" validate:"gte=0"`
}

// DefaultConfig returns a disabled generator configuration.
func DefaultConfig() Config {
	return Config{
		Model:         DefaultModel,
		MaxTokens:     1024,
		RatePerMinute: 60,
	}
}

// completeFunc sends one system/user prompt pair and returns the text reply.
type completeFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Anthropic generates recommendations with the Anthropic Messages API.
type Anthropic struct {
	complete completeFunc
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewAnthropic creates a generator from cfg.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	log := logging.Component("generator")

	complete := func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(cfg.Model),
			MaxTokens: cfg.MaxTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("anthropic API error: %w", err)
		}

		for _, block := range message.Content {
			if block.Type == "text" {
				log.Debug().
					Int("size", len(block.Text)).
					Int64("tokens_in", message.Usage.InputTokens).
					Int64("tokens_out", message.Usage.OutputTokens).
					Msg("anthropic response")
				return block.Text, nil
			}
		}
		return "", fmt.Errorf("no text content in anthropic response")
	}

	return newWithComplete(complete, cfg.RatePerMinute), nil
}

func newWithComplete(complete completeFunc, perMinute int) *Anthropic {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Anthropic{
		complete: complete,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logging.Component("generator"),
	}
}

// Generate asks the model to choose up to req.Limit items from req.Candidates.
// Ids the model invents are dropped.
func (a *Anthropic) Generate(ctx context.Context, req Request) (Result, error) {
	if len(req.Candidates) == 0 {
		return Result{}, errors.New("generator: no candidates")
	}
	if !a.limiter.Allow() {
		metrics.GeneratorRequests.WithLabelValues("rate_limited").Inc()
		return Result{}, ErrRateLimited
	}

	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		metrics.GeneratorRequests.WithLabelValues("error").Inc()
		return Result{}, err
	}

	responseText, err := a.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		metrics.GeneratorRequests.WithLabelValues("error").Inc()
		return Result{}, err
	}

	result, err := parseResponse(responseText)
	if err != nil {
		metrics.GeneratorRequests.WithLabelValues("error").Inc()
		a.log.Warn().Err(err).Msg("unparsable generator response")
		return Result{}, err
	}

	result.ItemIDs = keepKnown(result.ItemIDs, req.Candidates, req.Limit)
	metrics.GeneratorRequests.WithLabelValues("ok").Inc()
	return result, nil
}

const systemPrompt = `You recommend products for an online store visitor.
You receive the visitor's browsing profile and a list of candidate items.
Choose the items the visitor is most likely to buy, best first.
Only use ids from the candidate list. Never pick an item the visitor recently viewed.
Respond with JSON only: {"items": ["<id>", ...], "reasoning": "<one short sentence>"}`

type promptItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Category string   `json:"category"`
	Price    float64  `json:"price"`
	Discount float64  `json:"discount_percent,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func buildUserPrompt(req Request) (string, error) {
	items := make([]promptItem, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		items = append(items, promptItem{
			ID:       c.ID,
			Name:     c.Name,
			Category: c.Category,
			Price:    c.Price,
			Discount: c.Discount(),
			Tags:     c.Tags,
		})
	}

	profile, err := json.Marshal(req.Profile)
	if err != nil {
		return "", fmt.Errorf("encoding profile: %w", err)
	}
	candidates, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding candidates: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Return at most %d items.\n\n", req.Limit)
	b.WriteString("Browsing profile:\n")
	b.Write(profile)
	b.WriteString("\n\nCandidates:\n")
	b.Write(candidates)
	return b.String(), nil
}

func parseResponse(responseText string) (Result, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var result Result
	if err := json.Unmarshal([]byte(responseText), &result); err != nil {
		return Result{}, fmt.Errorf("parsing generator response: %w (response: %s)", err, responseText)
	}
	result.Reasoning = strings.TrimSpace(result.Reasoning)
	return result, nil
}

// keepKnown drops unknown and duplicate ids and truncates to limit.
func keepKnown(ids []string, candidates []catalog.Item, limit int) []string {
	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ID] = struct{}{}
	}

	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
