// Package gateway declares the remote post gateway the feed engine talks to,
// along with an in-memory implementation and a rate-limiting decorator.
//
// The gateway is an opaque collaborator. It owns timeouts and retries at the
// transport level; the engine only distinguishes a rejection (the remote was
// reachable and declined, wrapped as ErrRejected) from everything else, which
// is treated as a transient network failure.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/habitfeed/internal/feed"
)

// Record is a raw remote record as decoded from the wire. Field names and
// shapes vary by backend version; the normalize package turns records into
// feed entities.
type Record map[string]any

// Clone returns a shallow copy of the record. Nested values are shared.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

var (
	// ErrRejected marks a call the remote received and declined.
	ErrRejected = errors.New("gateway: rejected")

	// ErrUnavailable marks a call that never reached the remote.
	ErrUnavailable = errors.New("gateway: unavailable")
)

// IsRejected reports whether err (or anything it wraps) is a rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// PageResult is one page of a feed view.
type PageResult struct {
	Records []Record
	HasMore bool
}

// PostPayload is what the viewer composes when creating a post.
type PostPayload struct {
	ClientID    string          `json:"client_id"`
	Kind        feed.Kind       `json:"kind"`
	Visibility  feed.Visibility `json:"visibility"`
	Content     string          `json:"content"`
	MediaURL    string          `json:"media_url,omitempty"`
	ChallengeID string          `json:"challenge_id,omitempty"`
}

// ReactResult reports whether the remote accepted a reaction toggle.
type ReactResult struct {
	Accepted bool
}

// LikeResult carries the authoritative like state after a toggle.
type LikeResult struct {
	Liked     bool
	LikeCount int
}

// Gateway is the remote post API consumed by the engine and the aggregate
// resolver. Every method may block on the network and must honor ctx.
type Gateway interface {
	FetchPage(ctx context.Context, view feed.ViewKey, limit, offset int) (PageResult, error)
	CreatePost(ctx context.Context, payload PostPayload) (Record, error)
	React(ctx context.Context, postID, emoji string) (ReactResult, error)
	ToggleLike(ctx context.Context, postID string) (LikeResult, error)
	AddComment(ctx context.Context, postID, content string) (Record, error)
	UpsertDailyAggregate(ctx context.Context, userID, dayKey, challengeID string) (Record, error)
	UpdateDailyAggregate(ctx context.Context, aggregateID string, entry feed.CompletedActionEntry, expectedTotal int) (Record, error)
	RemoveDailyAggregateEntry(ctx context.Context, aggregateID, actionID string) (Record, error)
}

// DayKey formats t as the calendar day key used by daily aggregates.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
