package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/khanglvm/personalize/internal/logging"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	enabled  bool
	mu       sync.Mutex
	initOnce sync.Once
	log      zerolog.Logger
}

// DefaultPath returns ~/.personalize/state.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".personalize", "state.db"), nil
}

// NewStorage creates a SQLite storage at dbPath, or at DefaultPath when empty.
//
// If the path cannot be resolved the storage is disabled but operations do not fail.
func NewStorage(dbPath string) *SQLiteStorage {
	log := logging.Component("storage")

	if dbPath == "" {
		p, err := DefaultPath()
		if err != nil {
			log.Warn().Err(err).Msg("sqlite storage disabled")
			return &SQLiteStorage{enabled: false, log: log}
		}
		dbPath = p
	}

	return &SQLiteStorage{
		dbPath:  dbPath,
		enabled: true,
		log:     log,
	}
}

// Init opens the database and runs migrations.
//
// If initialization fails, storage is disabled and subsequent operations
// become no-ops (graceful degradation).
func (s *SQLiteStorage) Init() error {
	if !s.enabled {
		return nil
	}

	var initErr error
	s.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
			initErr = fmt.Errorf("failed to create db directory: %w", err)
			s.enabled = false
			return
		}

		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			s.enabled = false
			s.log.Warn().Err(initErr).Msg("sqlite storage disabled")
			return
		}
		s.db = db

		if err := db.Ping(); err != nil {
			initErr = fmt.Errorf("failed to ping database: %w", err)
			s.enabled = false
			s.log.Warn().Err(initErr).Msg("sqlite storage disabled")
			return
		}

		if err := s.runMigrations(); err != nil {
			initErr = fmt.Errorf("failed to run migrations: %w", err)
			s.enabled = false
			s.log.Warn().Err(initErr).Msg("sqlite storage disabled")
			return
		}
	})

	return initErr
}

// Enabled reports whether the database is usable.
func (s *SQLiteStorage) Enabled() bool {
	return s.enabled && s.db != nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.db = nil
	return nil
}

// migration represents a single schema migration.
type migration struct {
	version int
	name    string
	up      func() error
}

// runMigrations executes schema migrations in order.
func (s *SQLiteStorage) runMigrations() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "visitor_state", up: s.migration001VisitorState},
		{version: 2, name: "experiment_events", up: s.migration002ExperimentEvents},
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		s.log.Debug().Int("version", m.version).Str("name", m.name).Msg("running migration")
		if err := m.up(); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLiteStorage) migration001VisitorState() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS visitor_state (
			visitor_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (visitor_id, key)
		)
	`); err != nil {
		return fmt.Errorf("failed to create visitor_state table: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) migration002ExperimentEvents() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS experiment_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			experiment_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			session_id TEXT NOT NULL,
			identity_id TEXT,
			created_at TEXT NOT NULL,
			converted INTEGER NOT NULL DEFAULT 0,
			conversion_value REAL,
			converted_at TEXT
		)
	`); err != nil {
		return fmt.Errorf("failed to create experiment_events table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_experiment_events_session
		ON experiment_events(experiment_id, session_id, variant)
	`); err != nil {
		return fmt.Errorf("failed to create experiment_events session index: %w", err)
	}

	return nil
}
