package engine

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/config"
	"github.com/khanglvm/personalize/internal/storage"
)

// EventsFile is the SQLite event database created next to a Badger state directory.
const EventsFile = "events.db"

// backend is an opened visitor store plus its event sink.
type backend struct {
	kv      storage.KV
	events  storage.EventSink
	enabled func() bool
	closers []func() error
}

// openStorage opens the configured visitor store and event sink. A backend that
// fails to initialize is kept in its disabled state: reads report absence and
// writes are dropped.
func openStorage(cfg config.StorageConfig, log zerolog.Logger) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		mem := storage.NewMemoryStorage()
		return &backend{kv: mem, events: mem, enabled: mem.Enabled}, nil

	case config.DriverBadger:
		kv := storage.NewBadgerStorage(cfg.Path)
		if err := kv.Init(); err != nil {
			log.Warn().Err(err).Str("path", cfg.Path).Msg("badger storage disabled, visitor state will not persist")
		}
		eventsPath := filepath.Join(filepath.Dir(filepath.Clean(cfg.Path)), EventsFile)
		events := storage.NewStorage(eventsPath)
		if err := events.Init(); err != nil {
			log.Warn().Err(err).Str("path", eventsPath).Msg("event storage disabled, impressions will be dropped")
		}
		return &backend{
			kv:      kv,
			events:  events,
			enabled: func() bool { return kv.Enabled() && events.Enabled() },
			closers: []func() error{events.Close, kv.Close},
		}, nil

	case config.DriverSQLite, "":
		db := storage.NewStorage(cfg.Path)
		if err := db.Init(); err != nil {
			log.Warn().Err(err).Str("path", cfg.Path).Msg("sqlite storage disabled, visitor state will not persist")
		}
		return &backend{kv: db, events: db, enabled: db.Enabled, closers: []func() error{db.Close}}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (b *backend) close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
