package search

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/logging"
)

// storedFields are returned with every hit.
var storedFields = []string{"name", "category"}

// Indexer manages the search index for catalog items.
type Indexer struct {
	bleveIndex bleve.Index
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewIndexer creates a new search indexer with in-memory Bleve index.
func NewIndexer() (*Indexer, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	return &Indexer{
		bleveIndex: index,
		log:        logging.Component("search"),
	}, nil
}

// buildIndexMapping creates the Bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	itemMapping := bleve.NewDocumentMapping()

	nameFieldMapping := bleve.NewTextFieldMapping()
	itemMapping.AddFieldMappingsAt("name", nameFieldMapping)

	// Category is stored verbatim.
	categoryFieldMapping := bleve.NewTextFieldMapping()
	categoryFieldMapping.Analyzer = keyword.Name
	itemMapping.AddFieldMappingsAt("category", categoryFieldMapping)

	tagsFieldMapping := bleve.NewTextFieldMapping()
	tagsFieldMapping.Store = false
	itemMapping.AddFieldMappingsAt("tags", tagsFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", itemMapping)

	return indexMapping
}

// IndexItems adds or replaces the given items.
func (i *Indexer) IndexItems(items []catalog.Item) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.bleveIndex.NewBatch()

	for _, item := range items {
		doc := itemDocument{
			Name:     item.Name,
			Category: item.Category,
			Tags:     item.Tags,
		}
		if err := batch.Index(item.ID, doc); err != nil {
			i.log.Warn().Err(err).Str("item", item.ID).Msg("failed to index item")
		}
	}

	if err := i.bleveIndex.Batch(batch); err != nil {
		return fmt.Errorf("failed to batch index items: %w", err)
	}

	return nil
}

// Count returns the total number of indexed items.
func (i *Indexer) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	docCount, err := i.bleveIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get doc count: %w", err)
	}

	return docCount, nil
}

// Close closes the index and releases resources.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bleveIndex != nil {
		return i.bleveIndex.Close()
	}

	return nil
}

// buildMatchQuery creates a match query for BM25 search.
func (i *Indexer) buildMatchQuery(searchText string) query.Query {
	q := bleve.NewMatchQuery(searchText)
	q.SetFuzziness(1)
	return q
}
