package search

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

const defaultLimit = 10

// SearchBM25 performs BM25 keyword search using Bleve.
func (i *Indexer) SearchBM25(text string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return i.run(i.buildMatchQuery(text), limit)
}

func (i *Indexer) run(q query.Query, limit int) ([]Result, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	searchRequest := bleve.NewSearchRequestOptions(q, limit, 0, false)
	searchRequest.Fields = storedFields

	results, err := i.bleveIndex.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	return convertBleveResults(results), nil
}

// convertBleveResults converts Bleve search results to Results.
func convertBleveResults(results *bleve.SearchResult) []Result {
	out := make([]Result, 0, len(results.Hits))

	for _, hit := range results.Hits {
		name, _ := hit.Fields["name"].(string)
		category, _ := hit.Fields["category"].(string)

		out = append(out, Result{
			ItemID:   hit.ID,
			Name:     name,
			Category: category,
			Score:    hit.Score,
		})
	}

	return out
}
