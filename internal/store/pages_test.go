package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_ReplacesExistingKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, createTestEntry("feed:unified", "v1", time.Minute)))
	require.NoError(t, s.Save(ctx, createTestEntry("feed:unified", "v2", time.Minute)))

	e, ok, err := s.Load(ctx, "feed:unified", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(e.Payload))
	assert.True(t, e.StoredAt.Equal(testNow))
	assert.True(t, e.ExpiresAt.Equal(testNow.Add(time.Minute)))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"feed:unified"}, keys)
}

func TestLoad_ExpiredEntryIsMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, createTestEntry("feed:follow", "x", time.Minute)))

	_, ok, err := s.Load(ctx, "feed:follow", testNow.Add(59*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Load(ctx, "feed:follow", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "expiry is exclusive")

	_, ok, err = s.Load(ctx, "feed:missing", testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePrefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"feed:unified", "feed:circle:c1", "feed:circle:c1:photo", "other:thing"} {
		require.NoError(t, s.Save(ctx, createTestEntry(k, "x", time.Hour)))
	}

	n, err := s.DeletePrefix(ctx, "feed:circle:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeletePrefix(ctx, "feed:")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other:thing"}, keys)
}

func TestDeletePrefix_PercentIsLiteral(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, createTestEntry("feed:a", "x", time.Hour)))

	n, err := s.DeletePrefix(ctx, "feed:%")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruneAndClear(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, createTestEntry("feed:old", "x", time.Second)))
	require.NoError(t, s.Save(ctx, createTestEntry("feed:new", "x", time.Hour)))

	n, err := s.Prune(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"feed:new"}, keys)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)

	older := createTestEntry("feed:a", "abcd", time.Second)
	older.StoredAt = testNow.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, createTestEntry("feed:b", "é", time.Hour)))

	st, err := s.Stats(ctx, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, int64(6), st.Bytes, "bytes, not characters")
	assert.True(t, st.Oldest.Equal(testNow.Add(-time.Hour)))
}

func TestEntryExpired(t *testing.T) {
	e := createTestEntry("k", "", time.Minute)
	assert.False(t, e.Expired(testNow))
	assert.True(t, e.Expired(testNow.Add(time.Minute)))
}
