package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
)

// Draft is a post composed by the viewer.
type Draft struct {
	// TempID identifies the submission. Retrying with the same TempID never
	// creates a second post. Empty means a fresh id is generated.
	TempID string

	Kind        feed.Kind
	Content     string
	Visibility  feed.Visibility
	MediaURL    string
	ChallengeID string
}

func (d Draft) same(o Draft) bool {
	return d.Kind == o.Kind &&
		d.Content == o.Content &&
		d.MediaURL == o.MediaURL &&
		d.ChallengeID == o.ChallengeID &&
		d.Visibility.Scope == o.Visibility.Scope &&
		slices.Equal(d.Visibility.GroupIDs, o.Visibility.GroupIDs)
}

// submission is a create in flight. post and err are written on the loop
// before done is closed.
type submission struct {
	draft Draft
	done  chan struct{}
	post  feed.Post
	err   error
}

// commit remembers a temp id that resolved, so retries and late mutations
// find the durable post.
type commit struct {
	durableID string
	draft     Draft
}

// CreatePost inserts an optimistic post under a temporary id at the head of
// every view it belongs to and submits it. On success the temporary post is
// replaced in place by the durable one and cached first pages are dropped;
// on failure it is removed from every view.
//
// A retry with the TempID of a pending submission joins it. A retry after
// commit returns the durable post without calling the gateway again.
func (e *Engine) CreatePost(ctx context.Context, d Draft) (feed.Post, error) {
	if d.Kind == "" {
		d.Kind = feed.KindStatus
	}
	if !slices.Contains(feed.ValidKinds, d.Kind) || d.Kind == feed.KindDailyAggregate {
		return feed.Post{}, fmt.Errorf("cannot create a post of kind %q", d.Kind)
	}
	if d.Visibility.Scope == "" {
		d.Visibility.Scope = feed.VisibilityNetwork
	}
	d.Content = strings.TrimSpace(d.Content)
	if d.TempID != "" && !feed.IsTemporaryID(d.TempID) {
		return feed.Post{}, fmt.Errorf("temporary id %q lacks the %q prefix", d.TempID, feed.TempIDPrefix)
	}

	type start struct {
		sub   *submission
		owner bool
		post  feed.Post
		err   error
	}
	st, err := onLoop(ctx, e, func() start {
		if d.TempID != "" {
			if c, ok := e.committed[d.TempID]; ok {
				if !c.draft.same(d) {
					return start{err: duplicate(d.TempID)}
				}
				if ent, ok := e.posts[c.durableID]; ok {
					return start{post: *ent.post.Clone()}
				}
				return start{post: feed.Post{ID: c.durableID}}
			}
			if s, ok := e.pending[d.TempID]; ok {
				if !s.draft.same(d) {
					return start{err: duplicate(d.TempID)}
				}
				e.logger.Debug("joining pending submission", "temp_id", d.TempID)
				return start{sub: s}
			}
		} else {
			d.TempID = e.ids.Generate()
		}

		p, err := e.norm.Normalize(draftRecord(d, e.viewer().UserID, e.now()))
		if err != nil {
			return start{err: &FeedError{Code: ErrCodeMalformedRecord, Op: "create_post", PostID: d.TempID, Err: err}}
		}
		e.posts[p.ID] = &entry{post: p, versions: make(map[string]uint64)}
		e.route(&p)
		s := &submission{draft: d, done: make(chan struct{})}
		e.pending[p.ID] = s
		e.logger.Debug("optimistic post inserted", "temp_id", p.ID, "kind", p.Kind())
		return start{sub: s, owner: true}
	})
	if err != nil {
		return feed.Post{}, err
	}
	if st.err != nil {
		return feed.Post{}, st.err
	}
	if st.sub == nil {
		return st.post, nil
	}
	if !st.owner {
		select {
		case <-st.sub.done:
			return st.sub.post, st.sub.err
		case <-ctx.Done():
			return feed.Post{}, ctx.Err()
		}
	}

	rec, createErr := e.gw.CreatePost(ctx, gateway.PostPayload{
		ClientID:    d.TempID,
		Kind:        d.Kind,
		Visibility:  d.Visibility,
		Content:     d.Content,
		MediaURL:    d.MediaURL,
		ChallengeID: d.ChallengeID,
	})
	e.metrics.gatewayCall("create_post", createErr)

	err = e.continueOnLoop(ctx, func() {
		e.settle(context.WithoutCancel(ctx), d.TempID, st.sub, rec, createErr)
	})
	if err != nil {
		return feed.Post{}, err
	}
	return st.sub.post, st.sub.err
}

// settle resolves a submission and wakes everyone waiting on it.
func (e *Engine) settle(ctx context.Context, tempID string, s *submission, rec gateway.Record, createErr error) {
	defer close(s.done)

	if e.pending[tempID] != s {
		s.err = discarded("create_post", tempID, errors.New("session ended before commit"))
		return
	}
	delete(e.pending, tempID)

	if createErr != nil {
		e.unlist(tempID)
		s.err = gatewayError("create_post", tempID, createErr)
		e.metrics.rollback("create_post")
		e.logger.Warn("create failed, optimistic post removed", "temp_id", tempID, "error", createErr)
		return
	}

	durable, err := e.norm.Normalize(rec)
	if err != nil {
		// The remote has the post; the next refresh will bring it.
		e.unlist(tempID)
		e.cache.Invalidate(ctx, feed.CacheKeyPrefix)
		s.err = &FeedError{Code: ErrCodeMalformedRecord, Op: "create_post", PostID: tempID, Err: err}
		e.logger.Warn("created post could not be decoded", "temp_id", tempID, "error", err)
		return
	}

	ent := e.posts[tempID]
	delete(e.posts, tempID)
	if ent.inflight > 0 {
		keepInteractions(&durable, &ent.post)
	}
	ent.post = durable
	e.posts[durable.ID] = ent
	for _, v := range e.views {
		v.rename(tempID, durable.ID)
	}
	e.committed[tempID] = commit{durableID: durable.ID, draft: s.draft}
	e.cache.Invalidate(ctx, feed.CacheKeyPrefix)

	s.post = *durable.Clone()
	e.logger.Info("post committed", "temp_id", tempID, "id", durable.ID)
}

// draftRecord renders a draft in the gateway's wire shape so the optimistic
// post goes through the same normalization as remote posts.
func draftRecord(d Draft, viewerID string, now time.Time) gateway.Record {
	rec := gateway.Record{
		"id":         d.TempID,
		"user_id":    viewerID,
		"type":       string(d.Kind),
		"visibility": string(d.Visibility.Scope),
		"content":    d.Content,
		"created_at": now.UTC().Format(time.RFC3339),
	}
	if len(d.Visibility.GroupIDs) > 0 {
		ids := make([]any, len(d.Visibility.GroupIDs))
		for i, id := range d.Visibility.GroupIDs {
			ids[i] = id
		}
		rec["circle_ids"] = ids
	}
	if d.MediaURL != "" {
		rec["media_url"] = d.MediaURL
	}
	if d.ChallengeID != "" {
		rec["challenge_id"] = d.ChallengeID
	}
	return rec
}

func duplicate(tempID string) *FeedError {
	return &FeedError{
		Code:   ErrCodeDuplicateSubmission,
		Op:     "create_post",
		PostID: tempID,
		Err:    errors.New("temporary id already used for a different draft"),
	}
}
