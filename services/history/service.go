package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"anibridge/internal/database"
	"anibridge/models"
)

var ErrDatabaseRequired = errors.New("database not provided")

const defaultListLimit = 50

// Service persists scrobble outcomes to the history table. The store is an
// audit surface only; reconciliation decisions never read from it.
type Service struct {
	db *database.DB
}

// NewService constructs a history service over an already-migrated database.
func NewService(db *database.DB) (*Service, error) {
	if db == nil {
		return nil, ErrDatabaseRequired
	}
	return &Service{db: db}, nil
}

// Record inserts one scrobble outcome.
func (s *Service) Record(ctx context.Context, rec models.ScrobbleRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("record id is required")
	}

	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO scrobble_history
			(id, username, series, series_id, media_id, season, episode, action, success, message, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Username, rec.Series, rec.SeriesID, rec.MediaID,
		rec.Season, rec.Episode, string(rec.Action), rec.Success,
		rec.Message, string(rec.Severity), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first, optionally filtered by
// username. limit <= 0 applies the default.
func (s *Service) List(ctx context.Context, username string, limit int) ([]models.ScrobbleRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, username, series, series_id, media_id, season, episode, action, success, message, severity, created_at
		FROM scrobble_history`
	args := []any{}
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := make([]models.ScrobbleRecord, 0)
	for rows.Next() {
		var (
			rec      models.ScrobbleRecord
			action   string
			severity string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Username, &rec.Series, &rec.SeriesID, &rec.MediaID,
			&rec.Season, &rec.Episode, &action, &rec.Success,
			&rec.Message, &severity, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.Action = models.ScrobbleAction(action)
		rec.Severity = models.Severity(severity)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// Prune deletes everything beyond the keep most recent rows so the audit
// table does not grow without bound.
func (s *Service) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, errors.New("keep must be positive")
	}
	res, err := s.db.Conn().ExecContext(ctx, `
		DELETE FROM scrobble_history
		WHERE id NOT IN (
			SELECT id FROM scrobble_history ORDER BY created_at DESC, id LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return n, nil
}
