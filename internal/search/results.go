/*
Package search implements full-text search across catalog items.

Items are indexed with Bleve by name, category and tags. Single queries are ranked
by BM25; a visitor's recent search terms are fused into one ranking with the most
recent term weighted highest.
*/
package search

// Result is a single search hit with its relevance score.
type Result struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name,omitempty"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// itemDocument is the indexed form of a catalog item.
type itemDocument struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}
