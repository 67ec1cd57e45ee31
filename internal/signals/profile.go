/*
Package signals records implicit visitor behavior and exposes it for scoring.

Every operation is a read-modify-write against the visitor's partition of the
durable store. Recording is best-effort: storage failures are logged and dropped.
Reading never fails: missing or corrupt fields come back as empty collections.
*/
package signals

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Persisted keys within a visitor's partition.
const (
	CategoryBrowsingKey = "categoryBrowsing"
	RecentlyViewedKey   = "recentlyViewed"
	SearchQueriesKey    = "searchQueries"
)

const (
	// MaxRecent caps RecentlyViewed and RecentSearchTerms.
	MaxRecent = 20

	// MinSearchTermLength is the shortest search term, in characters, that is kept.
	MinSearchTermLength = 2
)

// BrowsingProfile is the accumulated behavior of one visitor.
type BrowsingProfile struct {
	CategoryCounts    map[string]uint `json:"category_counts"`
	RecentlyViewed    []string        `json:"recently_viewed"`
	RecentSearchTerms []string        `json:"recent_search_terms"`
}

// EmptyProfile returns a profile with non-nil empty collections.
func EmptyProfile() BrowsingProfile {
	return BrowsingProfile{
		CategoryCounts:    map[string]uint{},
		RecentlyViewed:    []string{},
		RecentSearchTerms: []string{},
	}
}

// HasViewed reports whether itemID is in RecentlyViewed.
func (p BrowsingProfile) HasViewed(itemID string) bool {
	for _, id := range p.RecentlyViewed {
		if id == itemID {
			return true
		}
	}
	return false
}

// ViewedSet returns RecentlyViewed as a set.
func (p BrowsingProfile) ViewedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.RecentlyViewed))
	for _, id := range p.RecentlyViewed {
		set[id] = struct{}{}
	}
	return set
}

// ParseError reports a persisted field that could not be decoded.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("corrupt %s state: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// decodeCounts decodes a categoryBrowsing value. On error the empty map is returned
// alongside the ParseError.
func decodeCounts(raw []byte) (map[string]uint, *ParseError) {
	counts := map[string]uint{}
	if len(raw) == 0 {
		return counts, nil
	}
	var decoded map[string]uint
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return counts, &ParseError{Key: CategoryBrowsingKey, Err: err}
	}
	for k, v := range decoded {
		counts[k] = v
	}
	return counts, nil
}

// decodeList decodes a capped id or term list. On error the empty list is returned
// alongside the ParseError.
func decodeList(key string, raw []byte) ([]string, *ParseError) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var decoded []string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return []string{}, &ParseError{Key: key, Err: err}
	}
	if decoded == nil {
		return []string{}, nil
	}
	if len(decoded) > MaxRecent {
		decoded = decoded[:MaxRecent]
	}
	return decoded, nil
}

// pushFront removes any occurrence of v, prepends it and truncates to MaxRecent.
func pushFront(list []string, v string) []string {
	out := make([]string, 0, MaxRecent)
	out = append(out, v)
	for _, existing := range list {
		if existing == v {
			continue
		}
		if len(out) == MaxRecent {
			break
		}
		out = append(out, existing)
	}
	return out
}

// normalizeTerm trims a search term and reports whether it is long enough to keep.
func normalizeTerm(term string) (string, bool) {
	term = strings.TrimSpace(term)
	return term, utf8.RuneCountInString(term) >= MinSearchTermLength
}
