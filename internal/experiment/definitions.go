package experiment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/file"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/metrics"
)

// Definitions looks up experiment definitions.
type Definitions interface {
	// Active returns the active definition with the given name. ok is false when
	// none exists or it is inactive.
	Active(ctx context.Context, name string) (def Definition, ok bool, err error)

	// ListActive returns active definitions of testType, optionally narrowed to targetID.
	ListActive(ctx context.Context, testType, targetID string) ([]Definition, error)
}

// Document is the on-disk layout of a definitions file.
type Document struct {
	Experiments []Definition `yaml:"experiments" validate:"dive"`
}

// definitionSet is an immutable, indexed list of definitions.
type definitionSet struct {
	ordered []Definition
	byName  map[string]int
}

func newDefinitionSet(defs []Definition) (*definitionSet, error) {
	doc := Document{Experiments: defs}
	if err := validator.New().Struct(doc); err != nil {
		return nil, err
	}

	set := &definitionSet{
		ordered: make([]Definition, 0, len(defs)),
		byName:  make(map[string]int, len(defs)),
	}
	ids := make(map[string]bool, len(defs))

	for _, d := range defs {
		if ids[d.ID] {
			return nil, fmt.Errorf("duplicate experiment id %q", d.ID)
		}
		if _, dup := set.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate experiment name %q", d.Name)
		}
		seen := make(map[string]bool, len(d.Variants))
		for _, v := range d.Variants {
			if seen[v.Name] {
				return nil, fmt.Errorf("experiment %q: duplicate variant %q", d.Name, v.Name)
			}
			seen[v.Name] = true
		}
		ids[d.ID] = true
		set.byName[d.Name] = len(set.ordered)
		set.ordered = append(set.ordered, d)
	}
	return set, nil
}

func (s *definitionSet) active(name string) (Definition, bool) {
	idx, ok := s.byName[name]
	if !ok || !s.ordered[idx].Active {
		return Definition{}, false
	}
	return s.ordered[idx], true
}

func (s *definitionSet) listActive(testType, targetID string) []Definition {
	out := []Definition{}
	for _, d := range s.ordered {
		if d.Active && d.Matches(testType, targetID) {
			out = append(out, d)
		}
	}
	return out
}

// StaticDefinitions serves a fixed set of definitions.
type StaticDefinitions struct {
	set *definitionSet
}

// NewStaticDefinitions validates defs and serves them.
func NewStaticDefinitions(defs ...Definition) (*StaticDefinitions, error) {
	set, err := newDefinitionSet(defs)
	if err != nil {
		return nil, err
	}
	return &StaticDefinitions{set: set}, nil
}

// Active implements Definitions.
func (s *StaticDefinitions) Active(ctx context.Context, name string) (Definition, bool, error) {
	d, ok := s.set.active(name)
	return d, ok, nil
}

// ListActive implements Definitions.
func (s *StaticDefinitions) ListActive(ctx context.Context, testType, targetID string) ([]Definition, error) {
	return s.set.listActive(testType, targetID), nil
}

// All returns every definition, active or not.
func (s *StaticDefinitions) All() []Definition {
	return append([]Definition(nil), s.set.ordered...)
}

// FileDefinitions serves definitions from a YAML file and can reload it on change.
type FileDefinitions struct {
	path     string
	mu       sync.RWMutex
	set      *definitionSet
	provider *file.File
	log      zerolog.Logger
}

// LoadDefinitions reads and validates the definitions file at path.
func LoadDefinitions(path string) (*FileDefinitions, error) {
	f := &FileDefinitions{
		path: path,
		log:  logging.Component("experiment"),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseDefinitions decodes a definitions document.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}
	return doc.Experiments, nil
}

// Reload re-reads the file. On error the previous definitions stay in effect.
func (f *FileDefinitions) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		metrics.DefinitionReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to read definitions: %w", err)
	}
	// A watcher can observe the file truncated mid-write.
	if len(bytes.TrimSpace(data)) == 0 {
		metrics.DefinitionReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: definitions file is empty", f.path)
	}

	defs, err := ParseDefinitions(data)
	if err != nil {
		metrics.DefinitionReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: %w", f.path, err)
	}

	set, err := newDefinitionSet(defs)
	if err != nil {
		metrics.DefinitionReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("invalid definitions %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.set = set
	f.mu.Unlock()

	metrics.DefinitionReloads.WithLabelValues("ok").Inc()
	f.log.Debug().Str("path", f.path).Int("experiments", len(defs)).Msg("experiment definitions loaded")
	return nil
}

// Watch reloads the file whenever it changes until Close is called.
func (f *FileDefinitions) Watch() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.provider != nil {
		return errors.New("already watching")
	}

	provider := file.Provider(f.path)
	err := provider.Watch(func(event interface{}, err error) {
		if err != nil {
			f.log.Warn().Err(err).Str("path", f.path).Msg("definitions watch error")
			return
		}
		if err := f.Reload(); err != nil {
			f.log.Warn().Err(err).Msg("keeping previous experiment definitions")
			return
		}
		f.log.Info().Str("path", f.path).Msg("experiment definitions reloaded")
	})
	if err != nil {
		return fmt.Errorf("failed to watch definitions: %w", err)
	}

	f.provider = provider
	return nil
}

// Close stops watching.
func (f *FileDefinitions) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.provider == nil {
		return nil
	}
	err := f.provider.Unwatch()
	f.provider = nil
	return err
}

// Watching reports whether hot reload is active.
func (f *FileDefinitions) Watching() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.provider != nil
}

// Path returns the definitions file path.
func (f *FileDefinitions) Path() string {
	return f.path
}

// All returns every definition, active or not.
func (f *FileDefinitions) All() []Definition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Definition(nil), f.set.ordered...)
}

// Active implements Definitions.
func (f *FileDefinitions) Active(ctx context.Context, name string) (Definition, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	d, ok := f.set.active(name)
	return d, ok, nil
}

// ListActive implements Definitions.
func (f *FileDefinitions) ListActive(ctx context.Context, testType, targetID string) ([]Definition, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.set.listActive(testType, targetID), nil
}
