/*
Package catalog defines the product catalog and purchase history collaborators.

The engine only reads from them. FileCatalog serves both from a JSON document and
the breaker decorators keep a failing upstream from slowing every request.
*/
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no item has the requested id.
var ErrNotFound = errors.New("catalog: item not found")

// Item is the read-only projection of a catalog record.
type Item struct {
	ID              string   `json:"id" validate:"required"`
	Name            string   `json:"name,omitempty"`
	Category        string   `json:"category" validate:"required"`
	Price           float64  `json:"price" validate:"gte=0"`
	DiscountPercent *float64 `json:"discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Tags            []string `json:"tags,omitempty"`
}

// Discount returns the discount percentage, or 0 when none is set.
func (i Item) Discount() float64 {
	if i.DiscountPercent == nil {
		return 0
	}
	return *i.DiscountPercent
}

// Catalog looks up catalog items.
type Catalog interface {
	// List returns up to limit items in catalog order. A limit <= 0 returns all items.
	List(ctx context.Context, limit int) ([]Item, error)

	// Get returns the item with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Item, error)
}

// PurchaseHistory reports what an identity has bought.
type PurchaseHistory interface {
	// PurchasedCategories returns the set of categories bought by identityID.
	// An empty identity yields an empty set.
	PurchasedCategories(ctx context.Context, identityID string) (map[string]struct{}, error)
}
