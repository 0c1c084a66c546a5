package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
)

// Field groups. A rollback only restores its own group, and is skipped when
// a newer mutation of the same group was applied in the meantime.
const (
	groupReaction = "reaction"
	groupLike     = "like"
)

// ErrEmptyComment is returned for a comment without text.
var ErrEmptyComment = errors.New("engine: comment is empty")

// mutation describes one optimistic change to a post.
type mutation[R any] struct {
	op     string
	postID string
	group  string

	// apply changes the canonical post optimistically.
	apply func(p *feed.Post)

	// remote performs the change against the durable post id. It runs off
	// the loop.
	remote func(ctx context.Context, durableID string) (R, error)

	// reconcile folds the authoritative result into the post. It only runs
	// while the mutation is still the latest of its group.
	reconcile func(p *feed.Post, r R) error

	// rollback undoes apply. The default restores the group's fields from
	// the snapshot taken before apply.
	rollback func(p, snapshot *feed.Post)
}

// runMutation applies m optimistically to the canonical post, which every
// view holding the post shares, then calls the gateway and either reconciles
// or rolls back. Mutations on a pending post are sent once the post commits,
// and fail with POST_DISCARDED if it does not.
func runMutation[R any](ctx context.Context, e *Engine, m mutation[R]) (feed.Post, R, error) {
	var zero R

	type start struct {
		ent      *entry
		snapshot *feed.Post
		version  uint64
		wait     *submission
		err      error
	}
	st, err := onLoop(ctx, e, func() start {
		id := e.resolveID(m.postID)
		ent, ok := e.posts[id]
		if !ok {
			return start{err: unknownPost(m.op, m.postID)}
		}
		snap := ent.post.Clone()
		version := e.clock.Next()
		ent.versions[m.group] = version
		ent.inflight++
		m.apply(&ent.post)
		ent.post.ClampCounts()
		return start{ent: ent, snapshot: snap, version: version, wait: e.pending[id]}
	})
	if err != nil {
		return feed.Post{}, zero, err
	}
	if st.err != nil {
		return feed.Post{}, zero, st.err
	}

	durableID := st.snapshot.ID
	if st.wait != nil {
		e.logger.Debug("deferring mutation until commit", "op", m.op, "post", durableID)
		select {
		case <-st.wait.done:
		case <-ctx.Done():
			_ = e.continueOnLoop(ctx, func() {
				if e.posts[st.ent.post.ID] == st.ent {
					st.ent.inflight--
					if st.ent.versions[m.group] == st.version {
						m.restore(&st.ent.post, st.snapshot)
					}
				}
			})
			return feed.Post{}, zero, &FeedError{Code: ErrCodeTransientNetwork, Op: m.op, PostID: durableID, Err: ctx.Err()}
		}
		if st.wait.err != nil {
			return feed.Post{}, zero, discarded(m.op, durableID, st.wait.err)
		}
		durableID = st.wait.post.ID
	}

	res, remoteErr := m.remote(ctx, durableID)
	e.metrics.gatewayCall(m.op, remoteErr)

	var (
		out    feed.Post
		result error
	)
	err = e.continueOnLoop(ctx, func() {
		ent := st.ent
		if e.posts[ent.post.ID] != ent {
			// Signed out, or the post was discarded while the call was out.
			result = discarded(m.op, durableID, errors.New("post no longer tracked"))
			return
		}
		ent.inflight--
		latest := ent.versions[m.group] == st.version

		if remoteErr != nil {
			result = gatewayError(m.op, durableID, remoteErr)
			if latest {
				m.restore(&ent.post, st.snapshot)
				e.metrics.rollback(m.op)
				e.logger.Warn("mutation rolled back", "op", m.op, "post", durableID, "error", remoteErr)
			} else {
				e.logger.Debug("rollback superseded by a newer mutation", "op", m.op, "post", durableID)
			}
			out = *ent.post.Clone()
			return
		}

		if latest && m.reconcile != nil {
			if err := m.reconcile(&ent.post, res); err != nil {
				result = gatewayError(m.op, durableID, err)
			}
			ent.post.ClampCounts()
		}
		out = *ent.post.Clone()
	})
	if err != nil {
		return feed.Post{}, zero, err
	}
	return out, res, result
}

func (m mutation[R]) restore(p, snapshot *feed.Post) {
	if m.rollback != nil {
		m.rollback(p, snapshot)
		return
	}
	switch m.group {
	case groupReaction:
		p.ReactionCount = snapshot.ReactionCount
		p.ViewerReacted = snapshot.ViewerReacted
		p.ViewerReaction = snapshot.ViewerReaction
	case groupLike:
		p.LikeCount = snapshot.LikeCount
		p.ViewerLiked = snapshot.ViewerLiked
	}
}

// resolveID maps a committed temporary id to its durable id.
func (e *Engine) resolveID(id string) string {
	if c, ok := e.committed[id]; ok {
		return c.durableID
	}
	return id
}

// React toggles the viewer's reaction on a post. If the viewer already
// reacted the reaction is removed, otherwise emoji is added. A rejected
// toggle is rolled back in every view holding the post.
func (e *Engine) React(ctx context.Context, postID, emoji string) (feed.Post, error) {
	post, _, err := runMutation(ctx, e, mutation[gateway.ReactResult]{
		op:     "react",
		postID: postID,
		group:  groupReaction,
		apply: func(p *feed.Post) {
			if p.ViewerReacted {
				p.ViewerReacted = false
				p.ViewerReaction = ""
				p.ReactionCount--
				return
			}
			p.ViewerReacted = true
			p.ViewerReaction = emoji
			p.ReactionCount++
		},
		remote: func(ctx context.Context, id string) (gateway.ReactResult, error) {
			res, err := e.gw.React(ctx, id, emoji)
			if err == nil && !res.Accepted {
				err = fmt.Errorf("%w: reaction not accepted", gateway.ErrRejected)
			}
			return res, err
		},
	})
	return post, err
}

// ToggleLike flips the viewer's like on a post. The gateway's like state and
// count replace the optimistic values.
func (e *Engine) ToggleLike(ctx context.Context, postID string) (feed.Post, error) {
	post, _, err := runMutation(ctx, e, mutation[gateway.LikeResult]{
		op:     "toggle_like",
		postID: postID,
		group:  groupLike,
		apply: func(p *feed.Post) {
			if p.ViewerLiked {
				p.ViewerLiked = false
				p.LikeCount--
				return
			}
			p.ViewerLiked = true
			p.LikeCount++
		},
		remote: func(ctx context.Context, id string) (gateway.LikeResult, error) {
			return e.gw.ToggleLike(ctx, id)
		},
		reconcile: func(p *feed.Post, r gateway.LikeResult) error {
			p.ViewerLiked = r.Liked
			p.LikeCount = r.LikeCount
			if p.ViewerLiked {
				p.LikeCount = max(p.LikeCount, 1)
			}
			return nil
		},
	})
	return post, err
}

// Comment appends a comment to a post. The comment shows at once under a
// temporary id and is replaced by the gateway's comment, or removed again if
// the gateway fails. When the gateway stores the comment but returns a copy
// that does not normalize, the local comment stays, under the gateway's id
// if it sent one.
func (e *Engine) Comment(ctx context.Context, postID, content string) (feed.Comment, error) {
	content = norm.NFC.String(strings.TrimSpace(content))
	if content == "" {
		return feed.Comment{}, ErrEmptyComment
	}

	now := e.now()
	viewer := e.viewer()
	pending := feed.Comment{
		ID:      e.ids.Generate(),
		PostID:  postID,
		Content: content,
		Author: feed.Author{
			ID:          viewer.UserID,
			DisplayName: normalize.ViewerDisplayName,
			AvatarURL:   viewer.AvatarURL,
			IsViewer:    true,
		},
		CreatedAt:   now,
		DisplayTime: normalize.RelativeTime(now, now),
	}
	var result feed.Comment

	_, _, err := runMutation(ctx, e, mutation[gateway.Record]{
		op:     "comment",
		postID: postID,
		// Every comment is its own group; comments never supersede each other.
		group: "comment:" + pending.ID,
		apply: func(p *feed.Post) {
			pending.PostID = p.ID
			p.Comments = append(p.Comments, pending)
			p.CommentCount++
		},
		remote: func(ctx context.Context, id string) (gateway.Record, error) {
			return e.gw.AddComment(ctx, id, content)
		},
		reconcile: func(p *feed.Post, rec gateway.Record) error {
			c, err := e.norm.NormalizeComment(rec)
			if err != nil {
				// The gateway stored the comment; only its copy is unusable.
				e.logger.Warn("keeping local comment", "post", p.ID, "error", err)
				c = pending
				if id, _ := rec["id"].(string); id != "" {
					c.ID = id
				}
			}
			if c.PostID == "" {
				c.PostID = p.ID
			}
			for i := range p.Comments {
				if p.Comments[i].ID == pending.ID {
					p.Comments[i] = c
				}
			}
			result = c
			return nil
		},
		rollback: func(p, _ *feed.Post) {
			for i := range p.Comments {
				if p.Comments[i].ID == pending.ID {
					p.Comments = append(p.Comments[:i], p.Comments[i+1:]...)
					p.CommentCount--
					break
				}
			}
		},
	})
	if err != nil {
		return feed.Comment{}, err
	}
	return result, nil
}
