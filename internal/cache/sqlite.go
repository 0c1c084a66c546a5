package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/habitfeed/internal/store"
)

// SQLite persists pages through a store.Store so they survive restarts.
type SQLite struct {
	store *store.Store
}

// NewSQLite wraps an opened cache store.
func NewSQLite(s *store.Store) *SQLite {
	return &SQLite{store: s}
}

var _ Backend = (*SQLite)(nil)

func (b *SQLite) Load(ctx context.Context, key string, now time.Time) (Page, bool, error) {
	e, ok, err := b.store.Load(ctx, key, now)
	if err != nil || !ok {
		return Page{}, false, err
	}
	var page Page
	if err := json.Unmarshal(e.Payload, &page); err != nil {
		return Page{}, false, fmt.Errorf("decode cached page %s: %w", key, err)
	}
	if page.StoredAt.IsZero() {
		page.StoredAt = e.StoredAt
	}
	return page, true, nil
}

func (b *SQLite) Save(ctx context.Context, key string, page Page, expiresAt time.Time) error {
	payload, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode page %s: %w", key, err)
	}
	return b.store.Save(ctx, store.Entry{
		Key:       key,
		Payload:   payload,
		StoredAt:  page.StoredAt,
		ExpiresAt: expiresAt,
	})
}

func (b *SQLite) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := b.store.DeletePrefix(ctx, prefix)
	return err
}

func (b *SQLite) Clear(ctx context.Context) error {
	return b.store.Clear(ctx)
}
