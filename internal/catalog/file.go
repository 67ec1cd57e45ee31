package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Document is the on-disk layout read by FileCatalog.
type Document struct {
	Items     []Item              `json:"items" validate:"dive"`
	Purchases map[string][]string `json:"purchases,omitempty"`
}

// FileCatalog serves Catalog and PurchaseHistory from a JSON document.
type FileCatalog struct {
	path string

	mu        sync.RWMutex
	items     []Item
	byID      map[string]int
	purchases map[string]map[string]struct{}
}

// LoadFile reads and validates the catalog document at path.
func LoadFile(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	c, err := New(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	c.path = path
	return c, nil
}

// New builds a FileCatalog from an in-memory document.
func New(doc Document) (*FileCatalog, error) {
	if err := validator.New().Struct(doc); err != nil {
		return nil, err
	}

	c := &FileCatalog{
		items:     make([]Item, 0, len(doc.Items)),
		byID:      make(map[string]int, len(doc.Items)),
		purchases: make(map[string]map[string]struct{}, len(doc.Purchases)),
	}
	for _, item := range doc.Items {
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("duplicate item id %q", item.ID)
		}
		c.byID[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}
	for identity, categories := range doc.Purchases {
		set := make(map[string]struct{}, len(categories))
		for _, cat := range categories {
			set[cat] = struct{}{}
		}
		c.purchases[identity] = set
	}
	return c, nil
}

// Path returns the file the catalog was loaded from.
func (c *FileCatalog) Path() string {
	return c.path
}

// List implements Catalog.
func (c *FileCatalog) List(ctx context.Context, limit int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Item, n)
	copy(out, c.items[:n])
	return out, nil
}

// Get implements Catalog.
func (c *FileCatalog) Get(ctx context.Context, id string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.byID[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return c.items[idx], nil
}

// PurchasedCategories implements PurchaseHistory.
func (c *FileCatalog) PurchasedCategories(ctx context.Context, identityID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := map[string]struct{}{}
	if identityID == "" {
		return out, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for cat := range c.purchases[identityID] {
		out[cat] = struct{}{}
	}
	return out, nil
}

// Len returns the number of items.
func (c *FileCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
