package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// lastUpdateKey is shared with databases created by the earlier dashboard server
const lastUpdateKey = "last_update"

// GetLastRun returns when the collector last completed a run. A zero time
// means no run has been recorded.
func (r *SQLiteCreelRepository) GetLastRun(ctx context.Context) (time.Time, error) {
	var value sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", lastUpdateKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last update time: %w", err)
	}

	if !value.Valid || value.String == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(value.String)
}

// SetLastRun overwrites the last-run timestamp
func (r *SQLiteCreelRepository) SetLastRun(ctx context.Context, t time.Time) error {
	stamp := t.UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		lastUpdateKey, stamp, stamp)
	if err != nil {
		return fmt.Errorf("failed to write update timestamp: %w", err)
	}
	return nil
}
