package engine

import (
	"context"

	"github.com/roach88/habitfeed/internal/feed"
)

// InvalidateMembership drops every cached feed page. Call it after the
// viewer joins or leaves a circle: which posts each view may show has
// changed, so the next refresh must go to the gateway.
func (e *Engine) InvalidateMembership(ctx context.Context) error {
	return e.do(ctx, func() {
		e.cache.Invalidate(ctx, feed.CacheKeyPrefix)
		e.logger.Info("membership changed, feed cache invalidated")
	})
}

// SignOut forgets every post, view, pending submission and aggregate and
// clears the page cache. Gateway calls still in flight finish, but their
// results are dropped; pending submissions fail with POST_DISCARDED.
func (e *Engine) SignOut(ctx context.Context) error {
	return e.do(ctx, func() {
		e.posts = make(map[string]*entry)
		e.views = make(map[string]*viewState)
		e.pending = make(map[string]*submission)
		e.committed = make(map[string]commit)
		e.resolver.Reset()
		e.cache.Clear(ctx)
		e.logger.Info("signed out, feed state cleared")
	})
}
