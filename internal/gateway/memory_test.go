package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitfeed/internal/feed"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestMemory() *Memory {
	return NewMemory("me", WithClock(func() time.Time { return fixedNow }), WithViewerName("Me"))
}

func ids(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i], _ = r["id"].(string)
	}
	return out
}

func TestMemory_FetchPageOffsetsNewestFirst(t *testing.T) {
	m := newTestMemory()
	m.Seed(
		Record{"id": "p1", "visibility": "network"},
		Record{"id": "p2", "visibility": "network"},
		Record{"id": "p3", "visibility": "network"},
	)
	ctx := context.Background()

	first, err := m.FetchPage(ctx, feed.Unified(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids(first.Records))
	assert.True(t, first.HasMore)

	m.Publish(Record{"id": "p0", "visibility": "network"})

	second, err := m.FetchPage(ctx, feed.Unified(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p3"}, ids(second.Records), "a newer post shifts offsets")
	assert.False(t, second.HasMore)

	past, err := m.FetchPage(ctx, feed.Unified(), 2, 10)
	require.NoError(t, err)
	assert.Empty(t, past.Records)
	assert.Equal(t, 3, m.Calls(OpFetchPage))
}

func TestMemory_ViewMembership(t *testing.T) {
	m := newTestMemory()
	m.Seed(
		Record{"id": "mine-private", "user_id": "me", "visibility": "private"},
		Record{"id": "other-private", "user_id": "u2", "visibility": "private"},
		Record{"id": "public", "visibility": "public", "type": "photo"},
		Record{"id": "circle", "visibility": "groups", "circle_ids": []string{"c1"}},
	)
	ctx := context.Background()

	tests := []struct {
		view feed.ViewKey
		want []string
	}{
		{feed.Unified(), []string{"mine-private", "public", "circle"}},
		{feed.Follow(), []string{"public"}},
		{feed.Circle("c1"), []string{"circle"}},
		{feed.Circle("c2"), []string{}},
		{feed.Unified().WithFilter("photo"), []string{"public"}},
	}
	for _, tt := range tests {
		t.Run(tt.view.String(), func(t *testing.T) {
			page, err := m.FetchPage(ctx, tt.view, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Records))
		})
	}
}

func TestMemory_SeededCountsSurviveToggles(t *testing.T) {
	m := newTestMemory()
	m.Seed(Record{"id": "p1", "like_count": 3, "reaction_count": 2, "has_reacted": true, "viewer_reaction": "🔥"})
	ctx := context.Background()

	rec := m.Record("p1")
	assert.Equal(t, 3, rec["like_count"])
	assert.Equal(t, 2, rec["reaction_count"])
	assert.Equal(t, true, rec["has_reacted"])

	res, err := m.ToggleLike(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, LikeCount: 4}, res)

	_, err = m.React(ctx, "p1", "🔥")
	require.NoError(t, err)
	rec = m.Record("p1")
	assert.Equal(t, 1, rec["reaction_count"])
	assert.Equal(t, false, rec["has_reacted"])
}

func TestMemory_MutationsOnUnknownPostAreRejected(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	_, err := m.ToggleLike(ctx, "missing")
	assert.True(t, IsRejected(err))
	_, err = m.React(ctx, "missing", "🔥")
	assert.True(t, IsRejected(err))
	_, err = m.AddComment(ctx, "missing", "hi")
	assert.True(t, IsRejected(err))
	_, err = m.UpdateDailyAggregate(ctx, "missing", feed.CompletedActionEntry{ActionID: "a"}, 1)
	assert.True(t, IsRejected(err))
}

func TestMemory_CreatePostAndComment(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	rec, err := m.CreatePost(ctx, PostPayload{
		ClientID:   "tmp-1",
		Kind:       feed.KindStatus,
		Visibility: feed.Visibility{Scope: feed.VisibilityNetwork},
		Content:    "hello",
	})
	require.NoError(t, err)
	id := rec["id"].(string)
	assert.Equal(t, "tmp-1", rec["client_id"])
	assert.Equal(t, "Me", rec["author_name"])
	assert.Equal(t, 1, m.Len())

	c, err := m.AddComment(ctx, id, "first")
	require.NoError(t, err)
	assert.Equal(t, id, c["post_id"])

	after := m.Record(id)
	assert.Equal(t, 1, after["comment_count"])
	assert.Len(t, after["recent_comments"], 1)
}

func TestMemory_DailyAggregateUpsertAndEntries(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	first, err := m.UpsertDailyAggregate(ctx, "me", "2026-03-14", "")
	require.NoError(t, err)
	again, err := m.UpsertDailyAggregate(ctx, "me", "2026-03-14", "")
	require.NoError(t, err)
	assert.Equal(t, first["id"], again["id"], "same user, day and challenge share one aggregate")

	other, err := m.UpsertDailyAggregate(ctx, "me", "2026-03-14", "ch-1")
	require.NoError(t, err)
	assert.NotEqual(t, first["id"], other["id"])

	aggID := first["id"].(string)
	entry := feed.CompletedActionEntry{ActionID: "run", Title: "Run", CompletedAt: fixedNow, Success: true}
	rec, err := m.UpdateDailyAggregate(ctx, aggID, entry, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rec["completed_count"])
	assert.Equal(t, 3, rec["total_actions"])

	entry.Success = false
	rec, err = m.UpdateDailyAggregate(ctx, aggID, entry, 0)
	require.NoError(t, err)
	assert.Len(t, rec["completed_actions"], 1, "entries are unique by action id")
	assert.Equal(t, 0, rec["completed_count"])
	assert.Equal(t, 1, rec["total_actions"])

	rec, err = m.RemoveDailyAggregateEntry(ctx, aggID, "run")
	require.NoError(t, err)
	assert.Empty(t, rec["completed_actions"])
}

func TestMemory_FailNextQueuesFaults(t *testing.T) {
	m := newTestMemory()
	m.Seed(Record{"id": "p1"})
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext(OpToggleLike, boom)
	m.FailNext(OpToggleLike, ErrRejected)

	_, err := m.ToggleLike(ctx, "p1")
	assert.ErrorIs(t, err, boom)
	_, err = m.ToggleLike(ctx, "p1")
	assert.True(t, IsRejected(err))
	_, err = m.ToggleLike(ctx, "p1")
	assert.NoError(t, err)
	assert.Equal(t, 3, m.Calls(OpToggleLike))
}

func TestMemory_HoldBlocksUntilRelease(t *testing.T) {
	m := newTestMemory()
	m.Seed(Record{"id": "p1"})
	release := m.Hold(OpToggleLike)

	done := make(chan error, 1)
	go func() {
		_, err := m.ToggleLike(context.Background(), "p1")
		done <- err
	}()

	require.Eventually(t, func() bool { return m.Calls(OpToggleLike) == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("call resolved while held")
	default:
	}

	release()
	release()
	require.NoError(t, <-done)
}

func TestMemory_HeldCallHonorsContext(t *testing.T) {
	m := newTestMemory()
	m.Hold(OpFetchPage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.FetchPage(ctx, feed.Unified(), 10, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDayKey(t *testing.T) {
	assert.Equal(t, "2026-03-14", DayKey(fixedNow))
}
