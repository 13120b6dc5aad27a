package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM metadata WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetTime stores a timestamp under key.
func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetMetadata(ctx, key, t.UTC().Format(time.RFC3339))
}

// GetTime returns the timestamp stored under key, or the zero time.
func (s *Store) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := s.GetMetadata(ctx, key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
