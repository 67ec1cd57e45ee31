package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
	"github.com/khanglvm/personalize/internal/storage"
)

const (
	// DefaultQueueSize is the buffer size for the event queue.
	// If full, events are dropped (non-blocking).
	DefaultQueueSize = 1000

	// DefaultBatchSize is the number of events that triggers an immediate flush.
	DefaultBatchSize = 10

	// DefaultFlushInterval is how often pending events are flushed.
	DefaultFlushInterval = 50 * time.Millisecond

	// writeTimeout bounds a single sink write.
	writeTimeout = 5 * time.Second
)

// Config tunes the tracker queue.
type Config struct {
	QueueSize     int           `koanf:"queue_size" yaml:"queue_size" validate:"gte=0"`
	BatchSize     int           `koanf:"batch_size" yaml:"batch_size" validate:"gte=0"`
	FlushInterval time.Duration `koanf:"flush_interval" yaml:"flush_interval" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     DefaultQueueSize,
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
	}
}

// Tracker writes impressions and conversions in the background with non-blocking enqueue.
type Tracker struct {
	sink       storage.EventSink
	cfg        Config
	eventQueue chan Event
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	enabled    bool
	stopped    bool
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewTracker creates a tracker writing to sink and starts its background loop.
func NewTracker(sink storage.EventSink, cfg Config) *Tracker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	t := &Tracker{
		sink:       sink,
		cfg:        cfg,
		eventQueue: make(chan Event, cfg.QueueSize),
		stopChan:   make(chan struct{}),
		enabled:    sink != nil,
		log:        logging.Component("tracking"),
	}

	t.wg.Add(1)
	go t.processEvents()

	return t
}

// Track queues an event without blocking. It reports whether the event was queued.
func (t *Tracker) Track(event Event) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.enabled || t.stopped {
		metrics.TrackerEvents.WithLabelValues(string(event.Kind), "dropped").Inc()
		return false
	}

	select {
	case t.eventQueue <- event:
		return true
	default:
		metrics.TrackerEvents.WithLabelValues(string(event.Kind), "dropped").Inc()
		t.log.Warn().
			Str("event", event.ID).
			Str("kind", string(event.Kind)).
			Str("experiment", event.ExperimentID()).
			Msg("tracking queue full, dropping event")
		return false
	}
}

// Stop gracefully shuts down the tracker, flushing remaining events.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()

		close(t.stopChan)
		t.wg.Wait()
	})
}

// Disable disables tracking (events are dropped).
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enable enables tracking.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = t.sink != nil
}

// IsEnabled returns whether tracking is enabled.
func (t *Tracker) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled && !t.stopped
}

// QueueSize returns the current number of events in the queue.
func (t *Tracker) QueueSize() int {
	return len(t.eventQueue)
}

// processEvents runs in the background, batching and flushing events.
func (t *Tracker) processEvents() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, t.cfg.BatchSize)

	for {
		select {
		case event := <-t.eventQueue:
			batch = append(batch, event)
			if len(batch) >= t.cfg.BatchSize {
				t.flush(batch)
				batch = make([]Event, 0, t.cfg.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				t.flush(batch)
				batch = make([]Event, 0, t.cfg.BatchSize)
			}

		case <-t.stopChan:
			// Drain whatever was queued before Stop.
			for {
				select {
				case event := <-t.eventQueue:
					batch = append(batch, event)
					if len(batch) >= t.cfg.BatchSize {
						t.flush(batch)
						batch = make([]Event, 0, t.cfg.BatchSize)
					}
				default:
					t.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch of events to the sink in order.
func (t *Tracker) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	start := time.Now()

	for _, event := range events {
		result := "written"
		if err := t.write(event); err != nil {
			result = "failed"
			t.log.Warn().
				Err(err).
				Str("event", event.ID).
				Str("kind", string(event.Kind)).
				Str("experiment", event.ExperimentID()).
				Msg("failed to record experiment event")
		}
		metrics.TrackerEvents.WithLabelValues(string(event.Kind), result).Inc()
	}

	metrics.RecordTrackerFlush(time.Since(start), len(t.eventQueue))
}

func (t *Tracker) write(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch event.Kind {
	case KindImpression:
		return t.sink.RecordImpression(ctx, event.Impression)
	case KindConversion:
		return t.sink.UpdateConversion(ctx, event.Conversion)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}
}
