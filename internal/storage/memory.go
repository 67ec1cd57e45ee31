package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage. It backs the "memory" driver and tests.
type MemoryStorage struct {
	mu     sync.Mutex
	state  map[string]map[string][]byte
	events []memoryEvent

	// FailWrites makes every write return WriteErr, for exercising degradation.
	FailWrites bool
	WriteErr   error
}

type memoryEvent struct {
	imp             Impression
	converted       bool
	conversionValue float64
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: make(map[string]map[string][]byte)}
}

func (m *MemoryStorage) Init() error  { return nil }
func (m *MemoryStorage) Close() error { return nil }

// Enabled always reports true.
func (m *MemoryStorage) Enabled() bool { return true }

func (m *MemoryStorage) writeErr() error {
	if !m.FailWrites {
		return nil
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	return context.DeadlineExceeded
}

func (m *MemoryStorage) Get(ctx context.Context, visitorID, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.state[visitorID][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStorage) Set(ctx context.Context, visitorID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeErr(); err != nil {
		return err
	}
	m.put(visitorID, key, value)
	return nil
}

func (m *MemoryStorage) SetIfAbsent(ctx context.Context, visitorID, key string, value []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.state[visitorID][key]; ok {
		return existing, false, nil
	}
	if err := m.writeErr(); err != nil {
		return nil, false, err
	}
	m.put(visitorID, key, value)
	return value, true, nil
}

// put must be called with mu held.
func (m *MemoryStorage) put(visitorID, key string, value []byte) {
	part, ok := m.state[visitorID]
	if !ok {
		part = make(map[string][]byte)
		m.state[visitorID] = part
	}
	v := make([]byte, len(value))
	copy(v, value)
	part[key] = v
}

func (m *MemoryStorage) RecordImpression(ctx context.Context, imp Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeErr(); err != nil {
		return err
	}
	if imp.Timestamp.IsZero() {
		imp.Timestamp = time.Now()
	}
	m.events = append(m.events, memoryEvent{imp: imp})
	return nil
}

func (m *MemoryStorage) UpdateConversion(ctx context.Context, conv Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeErr(); err != nil {
		return err
	}
	for i := range m.events {
		e := &m.events[i]
		if e.imp.ExperimentID == conv.ExperimentID && e.imp.SessionID == conv.SessionID && e.imp.Variant == conv.Variant {
			e.converted = true
			e.conversionValue = conv.Value
		}
	}
	return nil
}

func (m *MemoryStorage) Tally(ctx context.Context, experimentID string) ([]VariantTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byVariant := make(map[string]*VariantTally)
	for _, e := range m.events {
		if e.imp.ExperimentID != experimentID {
			continue
		}
		t, ok := byVariant[e.imp.Variant]
		if !ok {
			t = &VariantTally{Variant: e.imp.Variant}
			byVariant[e.imp.Variant] = t
		}
		t.Impressions++
		if e.converted {
			t.Conversions++
			t.ConversionValue += e.conversionValue
		}
	}

	tallies := make([]VariantTally, 0, len(byVariant))
	for _, t := range byVariant {
		tallies = append(tallies, *t)
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].Variant < tallies[j].Variant })
	return tallies, nil
}

// Impressions returns a copy of every recorded impression.
func (m *MemoryStorage) Impressions() []Impression {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Impression, len(m.events))
	for i, e := range m.events {
		out[i] = e.imp
	}
	return out
}
