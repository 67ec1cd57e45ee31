/*
Package tracking delivers experiment impressions and conversions in the background.

Writes are fire-and-forget from the caller's side: Track never blocks, a full
queue drops the event, and sink failures are logged and counted but not retried.
Events are written in the order they were queued, so a conversion never reaches
the sink before the impression it updates.
*/
package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/khanglvm/personalize/internal/storage"
)

// Kind distinguishes tracked events.
type Kind string

const (
	KindImpression Kind = "impression"
	KindConversion Kind = "conversion"
)

// Event is a queued write to the event sink.
type Event struct {
	// ID identifies the event in logs.
	ID string

	// Kind selects which of Impression or Conversion is set.
	Kind Kind

	Impression storage.Impression
	Conversion storage.Conversion

	// QueuedAt is when the event entered the queue.
	QueuedAt time.Time
}

// NewImpressionEvent wraps an impression for tracking.
func NewImpressionEvent(imp storage.Impression) Event {
	now := time.Now()
	if imp.Timestamp.IsZero() {
		imp.Timestamp = now
	}
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindImpression,
		Impression: imp,
		QueuedAt:   now,
	}
}

// NewConversionEvent wraps a conversion for tracking.
func NewConversionEvent(conv storage.Conversion) Event {
	now := time.Now()
	if conv.Timestamp.IsZero() {
		conv.Timestamp = now
	}
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindConversion,
		Conversion: conv,
		QueuedAt:   now,
	}
}

// ExperimentID returns the experiment the event belongs to.
func (e Event) ExperimentID() string {
	if e.Kind == KindConversion {
		return e.Conversion.ExperimentID
	}
	return e.Impression.ExperimentID
}
