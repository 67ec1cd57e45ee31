package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Get returns the value stored under key for the visitor.
func (s *SQLiteStorage) Get(ctx context.Context, visitorID, key string) ([]byte, error) {
	if !s.enabled || s.db == nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM visitor_state WHERE visitor_id = ? AND key = ?",
		visitorID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores value under key for the visitor.
func (s *SQLiteStorage) Set(ctx context.Context, visitorID, key string, value []byte) error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visitor_state (visitor_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (visitor_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, visitorID, key, value, time.Now().Format(time.RFC3339))

	return err
}

// SetIfAbsent stores value only when key is unset, atomically.
func (s *SQLiteStorage) SetIfAbsent(ctx context.Context, visitorID, key string, value []byte) ([]byte, bool, error) {
	if !s.enabled || s.db == nil {
		return nil, false, ErrDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO visitor_state (visitor_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (visitor_id, key) DO NOTHING
	`, visitorID, key, value, time.Now().Format(time.RFC3339))
	if err != nil {
		return nil, false, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return value, true, nil
	}

	var existing []byte
	if err := s.db.QueryRowContext(ctx,
		"SELECT value FROM visitor_state WHERE visitor_id = ? AND key = ?",
		visitorID, key,
	).Scan(&existing); err != nil {
		return nil, false, err
	}

	return existing, false, nil
}
