package gateway

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/roach88/habitfeed/internal/feed"
)

// Throttle wraps a Gateway with a client-side token bucket so bursts of
// toggles or scroll-triggered fetches cannot flood the backend. A call that
// cannot get a token before ctx ends fails as ErrUnavailable, which the engine
// treats like any other transient failure.
type Throttle struct {
	next    Gateway
	limiter *rate.Limiter
}

var _ Gateway = (*Throttle)(nil)

// NewThrottle allows perSecond calls per second with the given burst.
func NewThrottle(next Gateway, perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttle) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (t *Throttle) FetchPage(ctx context.Context, view feed.ViewKey, limit, offset int) (PageResult, error) {
	if err := t.wait(ctx); err != nil {
		return PageResult{}, err
	}
	return t.next.FetchPage(ctx, view, limit, offset)
}

func (t *Throttle) CreatePost(ctx context.Context, payload PostPayload) (Record, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.CreatePost(ctx, payload)
}

func (t *Throttle) React(ctx context.Context, postID, emoji string) (ReactResult, error) {
	if err := t.wait(ctx); err != nil {
		return ReactResult{}, err
	}
	return t.next.React(ctx, postID, emoji)
}

func (t *Throttle) ToggleLike(ctx context.Context, postID string) (LikeResult, error) {
	if err := t.wait(ctx); err != nil {
		return LikeResult{}, err
	}
	return t.next.ToggleLike(ctx, postID)
}

func (t *Throttle) AddComment(ctx context.Context, postID, content string) (Record, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.AddComment(ctx, postID, content)
}

func (t *Throttle) UpsertDailyAggregate(ctx context.Context, userID, dayKey, challengeID string) (Record, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.UpsertDailyAggregate(ctx, userID, dayKey, challengeID)
}

func (t *Throttle) UpdateDailyAggregate(ctx context.Context, aggregateID string, entry feed.CompletedActionEntry, expectedTotal int) (Record, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.UpdateDailyAggregate(ctx, aggregateID, entry, expectedTotal)
}

func (t *Throttle) RemoveDailyAggregateEntry(ctx context.Context, aggregateID, actionID string) (Record, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.RemoveDailyAggregateEntry(ctx, aggregateID, actionID)
}
