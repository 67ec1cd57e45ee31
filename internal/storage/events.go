package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordImpression stores one assignment impression.
func (s *SQLiteStorage) RecordImpression(ctx context.Context, imp Impression) error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var identity sql.NullString
	if imp.IdentityID != "" {
		identity = sql.NullString{String: imp.IdentityID, Valid: true}
	}

	if imp.Timestamp.IsZero() {
		imp.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_events (experiment_id, variant, session_id, identity_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, imp.ExperimentID, imp.Variant, imp.SessionID, identity, imp.Timestamp.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record impression: %w", err)
	}

	return nil
}

// UpdateConversion marks matching impressions as converted with the given value.
func (s *SQLiteStorage) UpdateConversion(ctx context.Context, conv Conversion) error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.Timestamp.IsZero() {
		conv.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE experiment_events
		SET converted = 1, conversion_value = ?, converted_at = ?
		WHERE experiment_id = ? AND session_id = ? AND variant = ?
	`, conv.Value, conv.Timestamp.Format(time.RFC3339), conv.ExperimentID, conv.SessionID, conv.Variant)
	if err != nil {
		return fmt.Errorf("failed to update conversion: %w", err)
	}

	return nil
}

// Tally aggregates impressions and conversions per variant, ordered by variant name.
func (s *SQLiteStorage) Tally(ctx context.Context, experimentID string) ([]VariantTally, error) {
	if !s.enabled || s.db == nil {
		return []VariantTally{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT variant,
		       COUNT(*),
		       COALESCE(SUM(converted), 0),
		       COALESCE(SUM(CASE WHEN converted = 1 THEN conversion_value END), 0)
		FROM experiment_events
		WHERE experiment_id = ?
		GROUP BY variant
		ORDER BY variant
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tally: %w", err)
	}
	defer rows.Close()

	tallies := []VariantTally{}
	for rows.Next() {
		var t VariantTally
		if err := rows.Scan(&t.Variant, &t.Impressions, &t.Conversions, &t.ConversionValue); err != nil {
			s.log.Warn().Err(err).Msg("failed to scan tally row")
			continue
		}
		tallies = append(tallies, t)
	}

	return tallies, rows.Err()
}
