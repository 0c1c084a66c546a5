package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entry is one persisted cache page.
type Entry struct {
	Key       string
	Payload   []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats summarizes the cache file.
type Stats struct {
	Entries int
	Expired int
	Bytes   int64
	Oldest  time.Time
}

// Save writes an entry, replacing any previous entry under the same key.
func (s *Store) Save(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_cache (key, payload, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`,
		e.Key,
		string(e.Payload),
		e.StoredAt.UnixMilli(),
		e.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", e.Key, err)
	}
	return nil
}

// Load returns the entry under key. Expired entries are reported as missing
// and left for Prune.
func (s *Store) Load(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	var (
		payload            string
		storedAt, expireAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, stored_at, expires_at
		FROM page_cache
		WHERE key = ? AND expires_at > ?
	`, key, now.UnixMilli()).Scan(&payload, &storedAt, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	return Entry{
		Key:       key,
		Payload:   []byte(payload),
		StoredAt:  time.UnixMilli(storedAt).UTC(),
		ExpiresAt: time.UnixMilli(expireAt).UTC(),
	}, true, nil
}

// Keys lists every stored key, expired or not, in key order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM page_cache ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM page_cache WHERE substr(key, 1, ?) = ?
	`, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return res.RowsAffected()
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM page_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Prune removes entries that expired at or before now.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM page_cache WHERE expires_at <= ?
	`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports entry counts and payload volume as of now.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var (
		st     Stats
		oldest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(length(CAST(payload AS BLOB))), 0),
			MIN(stored_at)
		FROM page_cache
	`, now.UnixMilli()).Scan(&st.Entries, &st.Expired, &st.Bytes, &oldest)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	if oldest.Valid {
		st.Oldest = time.UnixMilli(oldest.Int64).UTC()
	}
	return st, nil
}
