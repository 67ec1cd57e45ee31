package signals

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
	"github.com/khanglvm/personalize/internal/storage"
	"github.com/khanglvm/personalize/internal/visitor"
)

// Store records and reads browsing profiles.
type Store struct {
	kv  storage.KV
	log zerolog.Logger
}

// NewStore creates a signal store over kv.
func NewStore(kv storage.KV) *Store {
	return &Store{
		kv:  kv,
		log: logging.Component("signals"),
	}
}

// RecordCategoryView increments the view count for category.
func (s *Store) RecordCategoryView(ctx context.Context, v visitor.Visitor, category string) {
	if category == "" || v.Validate() != nil {
		return
	}

	raw, err := s.read(ctx, v, CategoryBrowsingKey)
	if err != nil {
		s.dropped(v, CategoryBrowsingKey, err)
		return
	}

	counts, perr := decodeCounts(raw)
	if perr != nil {
		s.log.Debug().Err(perr).Str("device", v.DeviceID).Msg("resetting corrupt category counts")
	}
	counts[category]++

	s.write(ctx, v, CategoryBrowsingKey, counts)
}

// RecordItemViewed moves itemID to the front of the recently viewed list.
func (s *Store) RecordItemViewed(ctx context.Context, v visitor.Visitor, itemID string) {
	if itemID == "" || v.Validate() != nil {
		return
	}
	s.pushRecent(ctx, v, RecentlyViewedKey, itemID)
}

// RecordSearch moves term to the front of the recent search list. Terms shorter
// than MinSearchTermLength are ignored.
func (s *Store) RecordSearch(ctx context.Context, v visitor.Visitor, term string) {
	term, ok := normalizeTerm(term)
	if !ok || v.Validate() != nil {
		return
	}
	s.pushRecent(ctx, v, SearchQueriesKey, term)
}

func (s *Store) pushRecent(ctx context.Context, v visitor.Visitor, key, value string) {
	raw, err := s.read(ctx, v, key)
	if err != nil {
		s.dropped(v, key, err)
		return
	}

	list, perr := decodeList(key, raw)
	if perr != nil {
		s.log.Debug().Err(perr).Str("device", v.DeviceID).Msg("resetting corrupt list")
	}

	s.write(ctx, v, key, pushFront(list, value))
}

// ReadProfile returns the visitor's profile. Fields that are missing, unreadable or
// corrupt are replaced by empty collections.
func (s *Store) ReadProfile(ctx context.Context, v visitor.Visitor) BrowsingProfile {
	profile := EmptyProfile()
	if v.Validate() != nil {
		return profile
	}

	if raw, err := s.read(ctx, v, CategoryBrowsingKey); err == nil {
		counts, perr := decodeCounts(raw)
		s.corrupt(v, perr)
		profile.CategoryCounts = counts
	} else {
		s.log.Debug().Err(err).Str("key", CategoryBrowsingKey).Msg("profile field unavailable")
	}

	if raw, err := s.read(ctx, v, RecentlyViewedKey); err == nil {
		list, perr := decodeList(RecentlyViewedKey, raw)
		s.corrupt(v, perr)
		profile.RecentlyViewed = list
	} else {
		s.log.Debug().Err(err).Str("key", RecentlyViewedKey).Msg("profile field unavailable")
	}

	if raw, err := s.read(ctx, v, SearchQueriesKey); err == nil {
		list, perr := decodeList(SearchQueriesKey, raw)
		s.corrupt(v, perr)
		profile.RecentSearchTerms = list
	} else {
		s.log.Debug().Err(err).Str("key", SearchQueriesKey).Msg("profile field unavailable")
	}

	return profile
}

// read returns the raw value for key, treating a missing key as empty.
func (s *Store) read(ctx context.Context, v visitor.Visitor, key string) ([]byte, error) {
	raw, err := s.kv.Get(ctx, v.DeviceID, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return raw, err
}

func (s *Store) write(ctx context.Context, v visitor.Visitor, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.dropped(v, key, err)
		return
	}
	if err := s.kv.Set(ctx, v.DeviceID, key, data); err != nil {
		s.dropped(v, key, err)
		return
	}
	metrics.SignalsRecorded.WithLabelValues(key).Inc()
}

func (s *Store) dropped(v visitor.Visitor, key string, err error) {
	metrics.SignalsDropped.WithLabelValues(key).Inc()
	s.log.Warn().Err(err).Str("device", v.DeviceID).Str("key", key).Msg("dropping behavioral signal")
}

func (s *Store) corrupt(v visitor.Visitor, perr *ParseError) {
	if perr == nil {
		return
	}
	s.log.Warn().Err(perr).Str("device", v.DeviceID).Msg("ignoring corrupt profile field")
}
