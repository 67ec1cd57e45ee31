package storage

import "time"

// Impression records that a visitor was assigned and shown a variant.
type Impression struct {
	// ExperimentID identifies the experiment definition.
	ExperimentID string `json:"experiment_id"`

	// Variant is the assigned variant name.
	Variant string `json:"variant"`

	// SessionID is the visitor's stable device-local session id.
	SessionID string `json:"session_id"`

	// IdentityID is the authenticated identity, empty for anonymous visitors.
	IdentityID string `json:"identity_id,omitempty"`

	// Timestamp is when the assignment was made.
	Timestamp time.Time `json:"timestamp"`
}

// Conversion marks an impression as converted.
type Conversion struct {
	ExperimentID string    `json:"experiment_id"`
	SessionID    string    `json:"session_id"`
	Variant      string    `json:"variant"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

// VariantTally is the per-variant outcome count for one experiment.
type VariantTally struct {
	Variant         string  `json:"variant"`
	Impressions     int64   `json:"impressions"`
	Conversions     int64   `json:"conversions"`
	ConversionValue float64 `json:"conversion_value"`
}

// ConversionRate returns conversions per impression, or 0 without impressions.
func (t VariantTally) ConversionRate() float64 {
	if t.Impressions == 0 {
		return 0
	}
	return float64(t.Conversions) / float64(t.Impressions)
}
