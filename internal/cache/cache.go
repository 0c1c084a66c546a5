// Package cache holds first pages of feed views so a view can render without
// a network round trip.
//
// Only first pages are cached. Keys are feed.ViewKey.CacheKey() values, so
// Invalidate(feed.CacheKeyPrefix) drops every feed view at once. A backend
// failure never surfaces to callers: it is logged and reads as a miss.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/habitfeed/internal/feed"
)

// Page is a cached first page of one view.
type Page struct {
	Posts    []feed.Post `json:"posts"`
	HasMore  bool        `json:"has_more"`
	StoredAt time.Time   `json:"stored_at"`
}

// Backend stores pages. Implementations must treat expiresAt as exclusive
// and must be safe for concurrent use.
type Backend interface {
	Load(ctx context.Context, key string, now time.Time) (Page, bool, error)
	Save(ctx context.Context, key string, page Page, expiresAt time.Time) error
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}

// Cache is the page cache consulted by the engine before fetching.
type Cache struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithBackend replaces the default in-memory backend.
func WithBackend(b Backend) Option {
	return func(c *Cache) { c.backend = b }
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used to report backend failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache backed by memory unless WithBackend says otherwise.
func New(opts ...Option) *Cache {
	c := &Cache{
		backend: NewMemory(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the unexpired page under key.
func (c *Cache) Get(ctx context.Context, key string) (Page, bool) {
	page, ok, err := c.backend.Load(ctx, key, c.now())
	if err != nil {
		c.logger.Warn("page cache read failed", "key", key, "error", err)
		return Page{}, false
	}
	return page, ok
}

// Set stores page under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(ctx context.Context, key string, page Page, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	if page.StoredAt.IsZero() {
		page.StoredAt = now
	}
	if err := c.backend.Save(ctx, key, page, now.Add(ttl)); err != nil {
		c.logger.Warn("page cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops every page whose key starts with prefix.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	if err := c.backend.DeletePrefix(ctx, prefix); err != nil {
		c.logger.Warn("page cache invalidate failed", "prefix", prefix, "error", err)
	}
}

// Clear drops every page.
func (c *Cache) Clear(ctx context.Context) {
	if err := c.backend.Clear(ctx); err != nil {
		c.logger.Warn("page cache clear failed", "error", err)
	}
}

// Memory is the default Backend. Pages are deep-copied on the way in and
// out so callers can mutate what they get back.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	page      Page
	expiresAt time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

var _ Backend = (*Memory)(nil)

func (m *Memory) Load(_ context.Context, key string, now time.Time) (Page, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Page{}, false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(m.entries, key)
		return Page{}, false, nil
	}
	return clonePage(e.page), true, nil
}

func (m *Memory) Save(_ context.Context, key string, page Page, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{page: clonePage(page), expiresAt: expiresAt}
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}

// Len returns the number of stored pages, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func clonePage(p Page) Page {
	out := p
	if p.Posts != nil {
		out.Posts = make([]feed.Post, len(p.Posts))
		for i := range p.Posts {
			out.Posts[i] = *p.Posts[i].Clone()
		}
	}
	return out
}
