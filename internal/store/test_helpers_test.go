package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore opens a fresh cache database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// createTestEntry builds an entry stored at testNow that lives for ttl.
func createTestEntry(key, payload string, ttl time.Duration) Entry {
	return Entry{
		Key:       key,
		Payload:   []byte(payload),
		StoredAt:  testNow,
		ExpiresAt: testNow.Add(ttl),
	}
}
