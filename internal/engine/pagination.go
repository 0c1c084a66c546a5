package engine

import (
	"context"

	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
)

// RefreshOptions tune a refresh.
type RefreshOptions struct {
	// Force skips the page cache, as pull-to-refresh does.
	Force bool
}

// Refresh reloads the first page of a view. The prior list stays visible
// while the request is in flight. On success the list, offset and has-more
// flag are replaced and the page is cached; on failure the prior state is
// kept and the view's error is set.
//
// A refresh superseded by a newer one returns nil without applying its
// response.
func (e *Engine) Refresh(ctx context.Context, key feed.ViewKey) error {
	return e.RefreshWith(ctx, key, RefreshOptions{})
}

// RefreshWith is Refresh with options.
func (e *Engine) RefreshWith(ctx context.Context, key feed.ViewKey, opts RefreshOptions) error {
	if err := key.Validate(); err != nil {
		return err
	}

	type start struct {
		token uint64
		fetch bool
	}
	st, err := onLoop(ctx, e, func() start {
		v := e.view(key)
		if !opts.Force {
			page, hit := e.cache.Get(ctx, key.CacheKey())
			e.metrics.cacheLookup(hit)
			if hit {
				e.applyFirstPage(v, page.Posts, page.HasMore, true)
				e.logger.Debug("view served from cache", "view", key.CacheKey(), "posts", len(page.Posts))
				return start{}
			}
		}
		v.refreshToken = e.clock.Next()
		if v.state == StateIdle {
			v.state = StateLoading
		} else {
			v.refreshing = true
		}
		return start{token: v.refreshToken, fetch: true}
	})
	if err != nil || !st.fetch {
		return err
	}

	res, fetchErr := e.gw.FetchPage(ctx, key, e.pageSize, 0)
	e.metrics.gatewayCall("fetch_page", fetchErr)

	var result error
	err = e.continueOnLoop(ctx, func() {
		v, ok := e.views[key.CacheKey()]
		if !ok || v.refreshToken != st.token {
			e.metrics.discarded("superseded_refresh")
			e.logger.Debug("discarding superseded refresh", "view", key.CacheKey())
			return
		}
		v.refreshing = false
		if fetchErr != nil {
			if v.state == StateLoading {
				v.state = StateIdle
			}
			v.err = viewError("refresh", key, fetchErr)
			result = v.err
			e.logger.Warn("refresh failed", "view", key.CacheKey(), "error", fetchErr)
			return
		}

		posts := e.normalizePage(res)
		e.applyFirstPage(v, posts, res.HasMore, false)
		e.cache.Set(context.WithoutCancel(ctx), key.CacheKey(), cache.Page{Posts: posts, HasMore: res.HasMore}, e.cacheTTL)
		e.logger.Debug("view refreshed", "view", key.CacheKey(), "posts", len(posts), "has_more", res.HasMore)
	})
	if err != nil {
		return err
	}
	return result
}

// applyFirstPage replaces the view's list with a first page. Any load more
// in flight belongs to the old list and is dropped when it lands.
//
// A cached page is older than any post the engine already holds, since
// interactions land on the canonical posts and not in the cache, so only the
// posts it does not know yet are taken from it.
func (e *Engine) applyFirstPage(v *viewState, posts []feed.Post, hasMore, cached bool) {
	page := make([]string, 0, len(posts))
	for _, p := range posts {
		if _, known := e.posts[p.ID]; !cached || !known {
			e.absorb(p)
		}
		page = append(page, p.ID)
	}

	var pending []string
	for _, id := range v.ids {
		if _, ok := e.pending[id]; ok {
			pending = append(pending, id)
		}
	}
	v.replaceList(pending, page)
	v.offset = len(v.ids) - len(pending)
	v.hasMore = hasMore
	v.state = StateLoaded
	v.refreshing = false
	v.loadingMore = false
	v.err = nil
	v.epoch = e.clock.Next()
}

// LoadMore fetches the next page of a view and appends the posts it does
// not list yet. It is a no-op while a load more is in flight, when the view
// has no more pages, or before the view has loaded. The offset advances by
// the number of posts appended; a page that adds nothing ends pagination.
func (e *Engine) LoadMore(ctx context.Context, key feed.ViewKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	type start struct {
		epoch  uint64
		offset int
		fetch  bool
	}
	st, err := onLoop(ctx, e, func() start {
		v, ok := e.views[key.CacheKey()]
		if !ok || v.state != StateLoaded || v.loadingMore || !v.hasMore {
			return start{}
		}
		v.loadingMore = true
		return start{epoch: v.epoch, offset: v.offset, fetch: true}
	})
	if err != nil || !st.fetch {
		return err
	}

	res, fetchErr := e.gw.FetchPage(ctx, key, e.pageSize, st.offset)
	e.metrics.gatewayCall("fetch_page", fetchErr)

	var result error
	err = e.continueOnLoop(ctx, func() {
		v, ok := e.views[key.CacheKey()]
		if !ok || v.epoch != st.epoch {
			e.metrics.discarded("stale_load_more")
			e.logger.Debug("discarding load more against a replaced list", "view", key.CacheKey())
			return
		}
		v.loadingMore = false
		if fetchErr != nil {
			v.err = viewError("load_more", key, fetchErr)
			result = v.err
			e.logger.Warn("load more failed", "view", key.CacheKey(), "offset", st.offset, "error", fetchErr)
			return
		}

		appended := 0
		for _, p := range e.normalizePage(res) {
			e.absorb(p)
			if v.push(p.ID) {
				appended++
			}
		}
		v.offset += appended
		v.hasMore = res.HasMore && appended > 0
		v.err = nil
		e.logger.Debug("view extended", "view", key.CacheKey(), "appended", appended, "offset", v.offset, "has_more", v.hasMore)
	})
	if err != nil {
		return err
	}
	return result
}

// normalizePage converts a gateway page. Hidden aggregates are kept so they
// hold their place in the list; snapshots leave them out.
func (e *Engine) normalizePage(res gateway.PageResult) []feed.Post {
	posts := make([]feed.Post, 0, len(res.Records))
	for _, rec := range res.Records {
		p, err := e.norm.Normalize(rec)
		if err != nil {
			e.logger.Debug("dropping remote record", "error", err)
			continue
		}
		posts = append(posts, p)
	}
	return posts
}
