package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCursor returns the stored cursor for a synchronizer key, or "" when
// the synchronizer has never been pulled.
func (o ops) GetCursor(ctx context.Context, key string) (string, error) {
	var cursor string
	err := o.q.QueryRowContext(ctx, `SELECT cursor FROM cursors WHERE key = ?`, key).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor %s: %w", key, err)
	}
	return cursor, nil
}

// SetCursor stores the resume point of a synchronizer.
func (o ops) SetCursor(ctx context.Context, key, cursor string) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO cursors (key, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, key, cursor, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}
