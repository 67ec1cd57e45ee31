package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
)

// BreakerConfig configures a collaborator circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests" yaml:"max_requests" validate:"gte=1"`
	Interval         time.Duration `koanf:"interval" yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`
}

// DefaultBreakerConfig returns production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

func newBreaker(name string, cfg BreakerConfig, log zerolog.Logger) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A missing item or a cancelled caller says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

// GuardedCatalog wraps a Catalog with a circuit breaker.
type GuardedCatalog struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker[interface{}]
}

// NewGuardedCatalog wraps next.
func NewGuardedCatalog(next Catalog, cfg BreakerConfig) *GuardedCatalog {
	return &GuardedCatalog{
		next: next,
		cb:   newBreaker("catalog", cfg, logging.Component("catalog")),
	}
}

// List implements Catalog.
func (g *GuardedCatalog) List(ctx context.Context, limit int) ([]Item, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.List(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Item), nil
}

// Get implements Catalog.
func (g *GuardedCatalog) Get(ctx context.Context, id string) (Item, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Get(ctx, id)
	})
	if err != nil {
		return Item{}, err
	}
	return out.(Item), nil
}

// State returns the breaker state name.
func (g *GuardedCatalog) State() string {
	return g.cb.State().String()
}

// GuardedPurchases wraps a PurchaseHistory with a circuit breaker.
type GuardedPurchases struct {
	next PurchaseHistory
	cb   *gobreaker.CircuitBreaker[interface{}]
}

// NewGuardedPurchases wraps next.
func NewGuardedPurchases(next PurchaseHistory, cfg BreakerConfig) *GuardedPurchases {
	return &GuardedPurchases{
		next: next,
		cb:   newBreaker("purchases", cfg, logging.Component("catalog")),
	}
}

// PurchasedCategories implements PurchaseHistory.
func (g *GuardedPurchases) PurchasedCategories(ctx context.Context, identityID string) (map[string]struct{}, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.PurchasedCategories(ctx, identityID)
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]struct{}), nil
}

// State returns the breaker state name.
func (g *GuardedPurchases) State() string {
	return g.cb.State().String()
}
