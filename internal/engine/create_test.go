package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/testutil"
)

func TestCreatePost_OptimisticThenRenamedInPlace(t *testing.T) {
	f := loadedFixture(t)
	release := f.gw.Hold(gateway.OpCreatePost)

	type result struct {
		p   feed.Post
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := f.eng.CreatePost(f.ctx, Draft{Content: "  ran 5k  "})
		done <- result{p, err}
	}()
	eventually(t, func() bool { return len(f.ids(t, feed.Unified())) == 4 })

	assert.Equal(t, []string{"tmp-1", "p1", "p2", "p3"}, f.ids(t, feed.Unified()))
	assert.Equal(t, []string{"tmp-1", "p1", "p2", "p3"}, f.ids(t, feed.Follow()))
	tmp := f.post(t, feed.Unified(), "tmp-1")
	assert.True(t, tmp.IsTemporary())
	assert.True(t, tmp.Author.IsViewer)
	assert.Equal(t, "You", tmp.Author.DisplayName)
	assert.Equal(t, "ran 5k", tmp.Content)
	assert.Equal(t, "just now", tmp.DisplayTime)

	release()
	r := <-done
	require.NoError(t, r.err)
	assert.False(t, r.p.IsTemporary())

	want := []string{r.p.ID, "p1", "p2", "p3"}
	assert.Equal(t, want, f.ids(t, feed.Unified()))
	assert.Equal(t, want, f.ids(t, feed.Follow()))
	assert.Equal(t, "tmp-1", f.gw.Record(r.p.ID)["client_id"])
}

func TestCreatePost_FailureRestoresEveryView(t *testing.T) {
	f := loadedFixture(t)
	before := map[string][]string{
		"unified": f.ids(t, feed.Unified()),
		"follow":  f.ids(t, feed.Follow()),
	}
	f.gw.FailNext(gateway.OpCreatePost, gateway.ErrUnavailable)

	_, err := f.eng.CreatePost(f.ctx, Draft{Content: "lost"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, "tmp-1", err.(*FeedError).PostID)

	assert.Equal(t, before["unified"], f.ids(t, feed.Unified()))
	assert.Equal(t, before["follow"], f.ids(t, feed.Follow()))
}

func TestCreatePost_RetryOfPendingJoins(t *testing.T) {
	f := newFixture(t)
	f.refresh(t, feed.Unified())
	release := f.gw.Hold(gateway.OpCreatePost)

	d := Draft{TempID: "tmp-x", Content: "once"}
	results := make(chan feed.Post, 2)
	for range 2 {
		go func() {
			p, err := f.eng.CreatePost(f.ctx, d)
			assert.NoError(t, err)
			results <- p
		}()
	}
	eventually(t, func() bool { return f.gw.Calls(gateway.OpCreatePost) == 1 })
	release()

	a, b := <-results, <-results
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpCreatePost))
	assert.Equal(t, []string{a.ID}, f.ids(t, feed.Unified()))
}

func TestCreatePost_RetryAfterCommitReturnsDurable(t *testing.T) {
	f := newFixture(t)
	f.refresh(t, feed.Unified())

	d := Draft{TempID: "tmp-x", Content: "once"}
	first, err := f.eng.CreatePost(f.ctx, d)
	require.NoError(t, err)
	again, err := f.eng.CreatePost(f.ctx, d)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpCreatePost))
	assert.Len(t, f.ids(t, feed.Unified()), 1)
}

func TestCreatePost_TempIDReusedForDifferentDraft(t *testing.T) {
	f := newFixture(t)
	f.refresh(t, feed.Unified())

	_, err := f.eng.CreatePost(f.ctx, Draft{TempID: "tmp-x", Content: "one"})
	require.NoError(t, err)
	_, err = f.eng.CreatePost(f.ctx, Draft{TempID: "tmp-x", Content: "two"})

	assert.Equal(t, ErrCodeDuplicateSubmission, CodeOf(err))
	assert.Equal(t, 1, f.gw.Calls(gateway.OpCreatePost))
}

func TestCreatePost_RetryAfterFailureSubmitsAgain(t *testing.T) {
	f := newFixture(t)
	f.refresh(t, feed.Unified())
	f.gw.FailNext(gateway.OpCreatePost, gateway.ErrUnavailable)

	d := Draft{TempID: "tmp-x", Content: "retry me"}
	_, err := f.eng.CreatePost(f.ctx, d)
	require.Error(t, err)

	p, err := f.eng.CreatePost(f.ctx, d)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, f.ids(t, feed.Unified()))
	assert.Equal(t, 2, f.gw.Calls(gateway.OpCreatePost))
}

func TestCreatePost_RoutesByVisibility(t *testing.T) {
	f := newFixture(t)
	f.gw.Seed(testutil.CircleRecord("c1post", "u2", time.Minute, "c1"))
	photos := feed.Unified().WithFilter(string(feed.KindPhoto))
	f.refresh(t, feed.Unified(), feed.Follow(), feed.Circle("c1"), feed.Circle("c2"), photos)

	circle, err := f.eng.CreatePost(f.ctx, Draft{
		Content:    "circle only",
		Visibility: feed.Visibility{Scope: feed.VisibilityGroups, GroupIDs: []string{"c1"}},
	})
	require.NoError(t, err)

	photo, err := f.eng.CreatePost(f.ctx, Draft{
		Kind:     feed.KindPhoto,
		MediaURL: "https://cdn.example/x.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{photo.ID, circle.ID, "c1post"}, f.ids(t, feed.Unified()))
	assert.Equal(t, []string{photo.ID}, f.ids(t, feed.Follow()))
	assert.Equal(t, []string{circle.ID, "c1post"}, f.ids(t, feed.Circle("c1")))
	assert.Empty(t, f.ids(t, feed.Circle("c2")))
	assert.Equal(t, []string{photo.ID}, f.ids(t, photos))
}

func TestCreatePost_InvalidatesCachedPages(t *testing.T) {
	mem := cache.NewMemory()
	f := newFixture(t, WithCache(cache.New(cache.WithBackend(mem))))
	f.gw.Seed(testutil.Records("p", 2)...)
	f.refresh(t, feed.Unified(), feed.Follow())
	require.Equal(t, 2, mem.Len())

	_, err := f.eng.CreatePost(f.ctx, Draft{Content: "new"})
	require.NoError(t, err)
	assert.Zero(t, mem.Len())

	require.NoError(t, f.eng.Refresh(f.ctx, feed.Unified()))
	assert.Equal(t, 3, f.gw.Calls(gateway.OpFetchPage), "refresh after create goes to the gateway")
}

func TestCreatePost_PendingSurvivesRefresh(t *testing.T) {
	f := loadedFixture(t)
	release := f.gw.Hold(gateway.OpCreatePost)

	done := make(chan error, 1)
	go func() {
		_, err := f.eng.CreatePost(f.ctx, Draft{Content: "still here"})
		done <- err
	}()
	eventually(t, func() bool { return len(f.ids(t, feed.Unified())) == 4 })

	f.refresh(t, feed.Unified())
	s := f.snapshot(t, feed.Unified())
	assert.Equal(t, []string{"tmp-1", "p1", "p2", "p3"}, s.IDs())
	assert.Equal(t, 3, s.Offset, "pending posts do not count toward the offset")

	release()
	require.NoError(t, <-done)
}

func TestCreatePost_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		draft Draft
	}{
		{"aggregate kind", Draft{Kind: feed.KindDailyAggregate, Content: "x"}},
		{"unknown kind", Draft{Kind: "poll", Content: "x"}},
		{"temp id without prefix", Draft{TempID: "abc", Content: "x"}},
		{"nothing to show", Draft{Content: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreatePost(f.ctx, tt.draft)
			assert.Error(t, err)
		})
	}
	assert.Zero(t, f.gw.Calls(gateway.OpCreatePost))
}
