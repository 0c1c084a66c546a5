package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/testutil"
)

func aggregateRecord(id, user string, actions ...string) gateway.Record {
	entries := make([]any, len(actions))
	for i, a := range actions {
		entries[i] = map[string]any{
			"action_id":    a,
			"title":        a,
			"completed_at": testutil.Epoch.Add(-time.Hour).Format(time.RFC3339),
			"success":      true,
		}
	}
	return gateway.Record{
		"id":                id,
		"user_id":           user,
		"type":              "daily_aggregate",
		"visibility":        "network",
		"content":           "",
		"created_at":        testutil.Epoch.Add(-2 * time.Hour).Format(time.RFC3339),
		"day_key":           gateway.DayKey(testutil.Epoch),
		"completed_actions": entries,
		"completed_count":   len(actions),
	}
}

func TestRecordHabitCompletion_CreatesAggregateInViews(t *testing.T) {
	f := loadedFixture(t)

	post, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{
		ActionID: "meditate",
		Title:    "Meditate",
		Goal:     "10 minutes",
		Streak:   4,
	})
	require.NoError(t, err)

	agg := post.Aggregate()
	require.NotNil(t, agg)
	assert.Equal(t, viewerID, agg.UserID)
	assert.Equal(t, gateway.DayKey(testutil.Epoch), agg.DayKey)
	assert.Equal(t, 1, agg.CompletedCount)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, "Meditate", agg.Entries[0].Title)
	assert.Equal(t, 4, agg.Entries[0].Streak)

	for _, key := range []feed.ViewKey{feed.Unified(), feed.Follow()} {
		assert.Equal(t, []string{post.ID, "p1", "p2", "p3"}, f.ids(t, key), key.String())
	}
	assert.Equal(t, 1, f.gw.Calls(gateway.OpUpsertAggregate))
}

func TestRecordHabitCompletion_TwoHabitsOnePost(t *testing.T) {
	f := loadedFixture(t)

	first, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "meditate", Title: "Meditate"})
	require.NoError(t, err)
	second, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "read", Title: "Read", ExpectedTotal: 3})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	ids := f.ids(t, feed.Unified())
	assert.Equal(t, []string{first.ID, "p1", "p2", "p3"}, ids)

	merged := f.post(t, feed.Unified(), first.ID)
	agg := merged.Aggregate()
	require.NotNil(t, agg)
	assert.Equal(t, 2, agg.CompletedCount)
	assert.Equal(t, 3, agg.ExpectedTotal)
	assert.Equal(t, []string{"meditate", "read"}, []string{agg.Entries[0].ActionID, agg.Entries[1].ActionID})
	assert.Equal(t, 1, f.gw.Calls(gateway.OpUpsertAggregate))
}

func TestRecordHabitCompletion_ChallengeScopedAggregate(t *testing.T) {
	f := loadedFixture(t)

	personal, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "meditate"})
	require.NoError(t, err)
	challenge, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "run", ChallengeID: "ch-1"})
	require.NoError(t, err)

	assert.NotEqual(t, personal.ID, challenge.ID)
	assert.Equal(t, "ch-1", challenge.Aggregate().ChallengeID)
	assert.Equal(t, 2, f.gw.Calls(gateway.OpUpsertAggregate))
}

func TestRecordHabitCompletion_ReusesAggregateFromPage(t *testing.T) {
	f := newFixture(t)
	f.gw.Seed(
		testutil.StatusRecord("p1", "u2", time.Minute),
		aggregateRecord("agg-remote", viewerID, "meditate"),
	)
	f.refresh(t, feed.Unified())

	post, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "read"})
	require.NoError(t, err)

	assert.Equal(t, "agg-remote", post.ID)
	assert.Zero(t, f.gw.Calls(gateway.OpUpsertAggregate))
	assert.Equal(t, []string{"p1", "agg-remote"}, f.ids(t, feed.Unified()), "updated in place")
	remote := f.post(t, feed.Unified(), "agg-remote")
	assert.Equal(t, 2, remote.Aggregate().CompletedCount)
}

func TestRecordHabitCompletion_FailureRollsBack(t *testing.T) {
	f := loadedFixture(t)
	f.gw.FailNext(gateway.OpUpdateAggregate, gateway.ErrUnavailable)

	_, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "meditate"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	for _, key := range []feed.ViewKey{feed.Unified(), feed.Follow()} {
		assert.Equal(t, []string{"p1", "p2", "p3"}, f.ids(t, key), "empty aggregate stays hidden")
	}

	post, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "meditate"})
	require.NoError(t, err)
	assert.Equal(t, 1, post.Aggregate().CompletedCount)
	assert.Equal(t, 1, f.gw.Calls(gateway.OpUpsertAggregate), "aggregate found locally on retry")
}

func TestRecordHabitCompletion_UpsertFailure(t *testing.T) {
	f := loadedFixture(t)
	f.gw.FailNext(gateway.OpUpsertAggregate, gateway.ErrRejected)

	_, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "meditate"})
	assert.True(t, IsRejected(err))
	assert.Zero(t, f.gw.Calls(gateway.OpUpdateAggregate))
}

func TestRecordHabitCompletion_RequiresAction(t *testing.T) {
	f := loadedFixture(t)

	_, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{Title: "nameless"})
	assert.Error(t, err)
}

func TestRecordHabitCompletion_MissedDoesNotSurface(t *testing.T) {
	f := loadedFixture(t)

	post, err := f.eng.RecordHabitCompletion(f.ctx, HabitCompletion{ActionID: "gym", Missed: true})
	require.NoError(t, err)

	assert.Zero(t, post.Aggregate().CompletedCount)
	assert.Equal(t, []string{"p1", "p2", "p3"}, f.ids(t, feed.Unified()))
}

func TestUndoHabitCompletion_LastEntryHidesAggregate(t *testing.T) {
	f := loadedFixture(t)
	c := HabitCompletion{ActionID: "meditate"}

	created, err := f.eng.RecordHabitCompletion(f.ctx, c)
	require.NoError(t, err)
	require.Contains(t, f.ids(t, feed.Follow()), created.ID)

	post, err := f.eng.UndoHabitCompletion(f.ctx, c)
	require.NoError(t, err)
	assert.Zero(t, post.Aggregate().CompletedCount)

	for _, key := range []feed.ViewKey{feed.Unified(), feed.Follow()} {
		assert.NotContains(t, f.ids(t, key), created.ID, key.String())
	}

	// Completing again brings the same aggregate back in its old place.
	again, err := f.eng.RecordHabitCompletion(f.ctx, c)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, created.ID, f.ids(t, feed.Unified())[0])
}

func TestUndoHabitCompletion_Unknown(t *testing.T) {
	f := loadedFixture(t)

	_, err := f.eng.UndoHabitCompletion(f.ctx, HabitCompletion{ActionID: "meditate"})
	assert.Equal(t, ErrCodeUnknownPost, CodeOf(err))
}

func TestUndoHabitCompletion_FailureRestores(t *testing.T) {
	f := loadedFixture(t)
	c := HabitCompletion{ActionID: "meditate"}
	created, err := f.eng.RecordHabitCompletion(f.ctx, c)
	require.NoError(t, err)

	f.gw.FailNext(gateway.OpRemoveEntry, gateway.ErrUnavailable)
	_, err = f.eng.UndoHabitCompletion(f.ctx, c)
	require.Error(t, err)

	restored := f.post(t, feed.Unified(), created.ID)
	assert.Equal(t, 1, restored.Aggregate().CompletedCount)
}

// Hidden aggregates still occupy their slot in the remote page, so the next
// page starts after them.
func TestRefresh_EmptyAggregateHiddenButCounted(t *testing.T) {
	f := newFixture(t)
	f.gw.Seed(
		testutil.StatusRecord("p1", "u2", time.Minute),
		aggregateRecord("agg-empty", "u3"),
		testutil.StatusRecord("p2", "u2", 3*time.Minute),
		testutil.StatusRecord("p3", "u2", 4*time.Minute),
	)
	f.refresh(t, feed.Unified())

	s := f.snapshot(t, feed.Unified())
	assert.Equal(t, []string{"p1", "p2"}, s.IDs())
	assert.Equal(t, 3, s.Offset)

	require.NoError(t, f.eng.LoadMore(f.ctx, feed.Unified()))
	assert.Equal(t, []string{"p1", "p2", "p3"}, f.ids(t, feed.Unified()))
}
