package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/habitfeed/internal/aggregate"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
)

// HabitCompletion is one completed (or missed) habit of the viewer.
type HabitCompletion struct {
	ActionID string
	Title    string
	Goal     string
	Streak   int

	// Missed records the habit as attempted but not achieved. Missed
	// entries appear in the aggregate without counting as completions.
	Missed bool

	// CompletedAt picks the aggregate's day. Zero means now.
	CompletedAt time.Time

	// ChallengeID scopes the completion to a challenge aggregate; empty is
	// the personal aggregate.
	ChallengeID string

	// ExpectedTotal is the number of habits scheduled that day. It only
	// ever raises the aggregate's known total.
	ExpectedTotal int
}

// RecordHabitCompletion folds a completion into the viewer's aggregate for
// the day, creating the aggregate on first use. Completing the same action
// again replaces its entry in place.
func (e *Engine) RecordHabitCompletion(ctx context.Context, c HabitCompletion) (feed.Post, error) {
	const op = "record_habit_completion"
	if c.ActionID == "" {
		return feed.Post{}, errors.New("habit completion requires an action id")
	}
	if c.CompletedAt.IsZero() {
		c.CompletedAt = e.now()
	}
	key := e.aggregateKey(c)

	agg, err := e.resolver.FindOrCreate(ctx, key, c.ExpectedTotal)
	if err != nil {
		return feed.Post{}, gatewayError(op, "", err)
	}

	entry := feed.CompletedActionEntry{
		ActionID:    c.ActionID,
		Title:       c.Title,
		Goal:        c.Goal,
		CompletedAt: c.CompletedAt,
		Streak:      c.Streak,
		Success:     !c.Missed,
	}
	post, err := e.resolver.AppendCompletion(ctx, agg.ID, entry, c.ExpectedTotal)
	if err != nil {
		if errors.Is(err, aggregate.ErrUnknownAggregate) {
			return feed.Post{}, unknownPost(op, agg.ID)
		}
		e.metrics.rollback(op)
		return feed.Post{}, gatewayError(op, agg.ID, err)
	}
	// Publications from the resolver are queued; wait for them to land.
	if err := e.barrier(ctx); err != nil {
		return feed.Post{}, err
	}
	return post, nil
}

// UndoHabitCompletion removes an action from the viewer's aggregate for the
// day. ActionID, CompletedAt and ChallengeID of c select the entry. An
// aggregate left without completions stays known but leaves every view.
func (e *Engine) UndoHabitCompletion(ctx context.Context, c HabitCompletion) (feed.Post, error) {
	const op = "undo_habit_completion"
	if c.CompletedAt.IsZero() {
		c.CompletedAt = e.now()
	}
	key := e.aggregateKey(c)

	id, ok := e.resolver.Lookup(key)
	if !ok {
		return feed.Post{}, unknownPost(op, key.String())
	}
	post, err := e.resolver.RemoveCompletion(ctx, id, c.ActionID)
	if err != nil {
		if errors.Is(err, aggregate.ErrUnknownAggregate) {
			return feed.Post{}, unknownPost(op, id)
		}
		e.metrics.rollback(op)
		return feed.Post{}, gatewayError(op, id, err)
	}
	if err := e.barrier(ctx); err != nil {
		return feed.Post{}, err
	}
	return post, nil
}

func (e *Engine) aggregateKey(c HabitCompletion) aggregate.Key {
	return aggregate.Key{
		UserID:      e.viewer().UserID,
		DayKey:      gateway.DayKey(c.CompletedAt),
		ChallengeID: c.ChallengeID,
	}
}

// PublishAggregate implements aggregate.Publisher. The new state replaces the
// canonical post in place; a visible aggregate is put at the head of every
// view that accepts it and does not list it yet. It never
// blocks: the update is queued for the loop.
func (e *Engine) PublishAggregate(post feed.Post) {
	ok := e.queue.Enqueue(func() {
		ent, known := e.posts[post.ID]
		if !known {
			ent = &entry{versions: make(map[string]uint64)}
			e.posts[post.ID] = ent
		}
		next := post
		if known {
			// Interaction fields are owned by the mutation coordinator.
			keepInteractions(&next, &ent.post)
		}
		ent.post = next
		if normalize.Visible(&ent.post) {
			e.route(&ent.post)
		}
	})
	if !ok {
		e.logger.Debug("engine stopped, aggregate update dropped", "id", post.ID)
	}
}

var _ aggregate.Publisher = (*Engine)(nil)
