package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/testutil"
)

func TestSignOut_ForgetsEverything(t *testing.T) {
	mem := cache.NewMemory()
	f := newFixture(t, WithCache(cache.New(cache.WithBackend(mem))))
	f.gw.Seed(testutil.Records("p", 3)...)
	f.refresh(t, feed.Unified(), feed.Follow())
	habit := HabitCompletion{ActionID: "meditate"}
	_, err := f.eng.RecordHabitCompletion(f.ctx, habit)
	require.NoError(t, err)

	require.NoError(t, f.eng.SignOut(f.ctx))

	snaps, err := f.eng.Snapshots(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
	assert.Zero(t, mem.Len())

	_, err = f.eng.UndoHabitCompletion(f.ctx, habit)
	assert.Equal(t, ErrCodeUnknownPost, CodeOf(err))
	_, err = f.eng.ToggleLike(f.ctx, "p1")
	assert.Equal(t, ErrCodeUnknownPost, CodeOf(err))
}

func TestSignOut_PendingCreateDiscarded(t *testing.T) {
	f := newFixture(t)
	f.refresh(t, feed.Unified())
	release := f.gw.Hold(gateway.OpCreatePost)

	done := make(chan error, 1)
	go func() {
		_, err := f.eng.CreatePost(f.ctx, Draft{Content: "bye"})
		done <- err
	}()
	eventually(t, func() bool { return f.gw.Calls(gateway.OpCreatePost) == 1 })

	require.NoError(t, f.eng.SignOut(f.ctx))
	release()

	assert.True(t, IsDiscarded(<-done))
	f.refresh(t, feed.Unified())
	ids := f.ids(t, feed.Unified())
	assert.Len(t, ids, 1, "the remote kept the post; a fresh load shows it once")
	assert.False(t, feed.IsTemporaryID(ids[0]))
}

func TestSignOut_InFlightMutationDiscarded(t *testing.T) {
	f := loadedFixture(t)
	release := f.gw.Hold(gateway.OpToggleLike)

	done := make(chan error, 1)
	go func() {
		_, err := f.eng.ToggleLike(f.ctx, "p1")
		done <- err
	}()
	eventually(t, func() bool { return f.gw.Calls(gateway.OpToggleLike) == 1 })

	require.NoError(t, f.eng.SignOut(f.ctx))
	release()

	assert.True(t, IsDiscarded(<-done))
}

func TestSignOut_InFlightRefreshDropped(t *testing.T) {
	var gated *gatedFetch
	f := newFixtureWith(t, func(m *gateway.Memory) gateway.Gateway {
		gated = newGatedFetch(m)
		return gated
	})
	f.gw.Seed(testutil.Records("p", 2)...)

	done := make(chan error, 1)
	go func() { done <- f.eng.Refresh(f.ctx, feed.Unified()) }()
	gate := gated.next(t)

	require.NoError(t, f.eng.SignOut(f.ctx))
	close(gate)
	require.NoError(t, <-done)

	snaps, err := f.eng.Snapshots(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestInvalidateMembership_DropsCachedPages(t *testing.T) {
	mem := cache.NewMemory()
	f := newFixture(t, WithCache(cache.New(cache.WithBackend(mem))))
	f.gw.Seed(testutil.CircleRecord("c1post", "u2", 0, "c1"))
	f.refresh(t, feed.Unified(), feed.Circle("c1"))
	require.Equal(t, 2, mem.Len())

	require.NoError(t, f.eng.InvalidateMembership(f.ctx))
	assert.Zero(t, mem.Len())

	require.NoError(t, f.eng.Refresh(f.ctx, feed.Circle("c1")))
	assert.Equal(t, 3, f.gw.Calls(gateway.OpFetchPage))
	assert.Equal(t, []string{"c1post"}, f.ids(t, feed.Circle("c1")), "views keep their lists")
}
