package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
	"github.com/khanglvm/personalize/internal/storage"
	"github.com/khanglvm/personalize/internal/tracking"
	"github.com/khanglvm/personalize/internal/visitor"
)

// AssignmentKeyPrefix prefixes the per-visitor key holding an assigned variant.
const AssignmentKeyPrefix = "ab_test_"

// AssignmentKey returns the per-visitor key for an experiment id.
func AssignmentKey(experimentID string) string {
	return AssignmentKeyPrefix + experimentID
}

// Assignment is a visitor's variant for one experiment.
type Assignment struct {
	ExperimentID string `json:"experiment_id"`
	Experiment   string `json:"experiment"`
	Variant      string `json:"variant"`
	Value        any    `json:"value,omitempty"`
	SessionID    string `json:"session_id"`
	IdentityID   string `json:"identity_id,omitempty"`

	// Fresh is set when this call drew the variant.
	Fresh bool `json:"fresh"`

	// Persisted is false when the draw could not be stored and will not be stable.
	Persisted bool `json:"persisted"`

	Converted       bool     `json:"converted,omitempty"`
	ConversionValue *float64 `json:"conversion_value,omitempty"`
}

// EventTracker queues impressions and conversions for background delivery.
type EventTracker interface {
	Track(event tracking.Event) bool
}

// Service assigns variants and records conversions.
type Service struct {
	defs     Definitions
	kv       storage.KV
	sessions *visitor.Sessions
	tracker  EventTracker
	tallies  storage.EventSink
	rng      RandomSource
	log      zerolog.Logger
}

// NewService creates an assignment service. tallies is only used by Report and may be nil.
func NewService(defs Definitions, kv storage.KV, tracker EventTracker, tallies storage.EventSink) *Service {
	return &Service{
		defs:     defs,
		kv:       kv,
		sessions: visitor.NewSessions(kv),
		tracker:  tracker,
		tallies:  tallies,
		rng:      NewRandomSource(time.Now().UnixNano()),
		log:      logging.Component("experiment"),
	}
}

// SetRandomSource replaces the random source used for draws.
func (s *Service) SetRandomSource(r RandomSource) {
	s.rng = r
}

// GetAssignment returns the visitor's variant for the named experiment, drawing
// and persisting one on first use. ok is false when the experiment does not exist,
// is inactive, or cannot be looked up.
func (s *Service) GetAssignment(ctx context.Context, v visitor.Visitor, name string) (Assignment, bool) {
	def, ok := s.definition(ctx, name)
	if !ok {
		return Assignment{}, false
	}
	if err := v.Validate(); err != nil {
		s.log.Warn().Err(err).Str("experiment", name).Msg("cannot assign visitor")
		return Assignment{}, false
	}

	a := Assignment{
		ExperimentID: def.ID,
		Experiment:   def.Name,
		IdentityID:   v.IdentityID,
		Persisted:    true,
	}

	session, err := s.sessions.Ensure(ctx, v)
	if err != nil {
		s.log.Warn().Err(err).Str("device", v.DeviceID).Msg("session id not persisted")
	}
	a.SessionID = session

	key := AssignmentKey(def.ID)
	raw, err := s.kv.Get(ctx, v.DeviceID, key)
	switch {
	case err == nil && len(raw) > 0:
		return s.finish(a, def, string(raw), "existing"), true
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		s.log.Warn().Err(err).Str("experiment", def.ID).Msg("failed to read assignment")
	}

	drawn := DrawVariant(def.OrderedSplit(), s.rng)

	stored, created, err := s.kv.SetIfAbsent(ctx, v.DeviceID, key, []byte(drawn))
	if err != nil {
		metrics.RecordDegradation("storage")
		s.log.Warn().Err(err).Str("experiment", def.ID).Str("variant", drawn).Msg("assignment not persisted")
		a.Fresh = true
		a.Persisted = false
		return s.finish(a, def, drawn, "unpersisted"), true
	}
	if !created {
		// Lost a concurrent first draw; the winner recorded the impression.
		return s.finish(a, def, string(stored), "existing"), true
	}

	a.Fresh = true
	a = s.finish(a, def, drawn, "new")

	s.tracker.Track(tracking.NewImpressionEvent(storage.Impression{
		ExperimentID: def.ID,
		Variant:      a.Variant,
		SessionID:    a.SessionID,
		IdentityID:   a.IdentityID,
	}))

	return a, true
}

func (s *Service) finish(a Assignment, def Definition, variant, outcome string) Assignment {
	a.Variant = variant
	a.Value = def.VariantValue(variant)
	metrics.Assignments.WithLabelValues(def.ID, variant, outcome).Inc()
	return a
}

// RecordConversion marks the visitor's assignment for the named experiment as
// converted with value. A repeated call replaces the previous value. ok is false
// when the visitor has no persisted assignment.
func (s *Service) RecordConversion(ctx context.Context, v visitor.Visitor, name string, value float64) (Assignment, bool) {
	def, ok := s.definition(ctx, name)
	if !ok || v.Validate() != nil {
		return Assignment{}, false
	}

	raw, err := s.kv.Get(ctx, v.DeviceID, AssignmentKey(def.ID))
	if err != nil || len(raw) == 0 {
		if !errors.Is(err, storage.ErrNotFound) && err != nil {
			s.log.Warn().Err(err).Str("experiment", def.ID).Msg("failed to read assignment")
		}
		return Assignment{}, false
	}

	session, err := s.sessions.Ensure(ctx, v)
	if err != nil {
		s.log.Warn().Err(err).Str("device", v.DeviceID).Msg("session id not persisted")
	}

	a := Assignment{
		ExperimentID:    def.ID,
		Experiment:      def.Name,
		Variant:         string(raw),
		Value:           def.VariantValue(string(raw)),
		SessionID:       session,
		IdentityID:      v.IdentityID,
		Persisted:       true,
		Converted:       true,
		ConversionValue: &value,
	}

	s.tracker.Track(tracking.NewConversionEvent(storage.Conversion{
		ExperimentID: def.ID,
		SessionID:    a.SessionID,
		Variant:      a.Variant,
		Value:        value,
	}))
	metrics.Conversions.WithLabelValues(def.ID, a.Variant).Inc()

	return a, true
}

// ListByType returns the active experiments running on a placement. Lookup
// failures yield an empty list.
func (s *Service) ListByType(ctx context.Context, testType, targetID string) []Definition {
	defs, err := s.defs.ListActive(ctx, testType, targetID)
	if err != nil {
		metrics.RecordDegradation("definitions")
		s.log.Warn().Err(err).Str("type", testType).Msg("failed to list experiments")
		return []Definition{}
	}
	return defs
}

func (s *Service) definition(ctx context.Context, name string) (Definition, bool) {
	def, ok, err := s.defs.Active(ctx, name)
	if err != nil {
		metrics.RecordDegradation("definitions")
		s.log.Warn().Err(err).Str("experiment", name).Msg("failed to load experiment")
		return Definition{}, false
	}
	return def, ok
}

// VariantReport summarizes one variant's outcomes.
type VariantReport struct {
	Variant         string  `json:"variant"`
	SplitPercent    float64 `json:"split_percent"`
	Impressions     int64   `json:"impressions"`
	Conversions     int64   `json:"conversions"`
	ConversionValue float64 `json:"conversion_value"`
	ConversionRate  float64 `json:"conversion_rate"`
}

// Report is the outcome tally for one experiment.
type Report struct {
	ExperimentID string          `json:"experiment_id"`
	Experiment   string          `json:"experiment"`
	Active       bool            `json:"active"`
	Variants     []VariantReport `json:"variants"`
}

// ErrUnknownExperiment is returned by Report for an unknown experiment name.
var ErrUnknownExperiment = errors.New("experiment: unknown experiment")

// allDefinitions is implemented by stores that can list inactive definitions.
type allDefinitions interface {
	All() []Definition
}

// Report tallies impressions and conversions per variant. Declared variants with
// no traffic are listed with zero counts.
func (s *Service) Report(ctx context.Context, name string) (Report, error) {
	def, ok, err := s.defs.Active(ctx, name)
	if err != nil {
		return Report{}, fmt.Errorf("loading experiment %q: %w", name, err)
	}
	if !ok {
		def, ok = s.lookupInactive(name)
	}
	if !ok {
		return Report{}, ErrUnknownExperiment
	}
	if s.tallies == nil {
		return Report{}, errors.New("experiment: no event sink configured")
	}

	tallies, err := s.tallies.Tally(ctx, def.ID)
	if err != nil {
		return Report{}, fmt.Errorf("tallying %q: %w", def.ID, err)
	}

	byVariant := make(map[string]storage.VariantTally, len(tallies))
	for _, t := range tallies {
		byVariant[t.Variant] = t
	}

	r := Report{ExperimentID: def.ID, Experiment: def.Name, Active: def.Active, Variants: []VariantReport{}}
	listed := make(map[string]bool)
	add := func(variant string) {
		if listed[variant] {
			return
		}
		listed[variant] = true
		t := byVariant[variant]
		r.Variants = append(r.Variants, VariantReport{
			Variant:         variant,
			SplitPercent:    def.TrafficSplit.Percent(variant),
			Impressions:     t.Impressions,
			Conversions:     t.Conversions,
			ConversionValue: t.ConversionValue,
			ConversionRate:  t.ConversionRate(),
		})
	}

	for _, e := range def.OrderedSplit() {
		add(e.Variant)
	}
	for _, v := range def.Variants {
		add(v.Name)
	}
	// Variants seen in traffic but since removed from the definition.
	for _, t := range tallies {
		add(t.Variant)
	}

	return r, nil
}

func (s *Service) lookupInactive(name string) (Definition, bool) {
	all, ok := s.defs.(allDefinitions)
	if !ok {
		return Definition{}, false
	}
	for _, d := range all.All() {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
