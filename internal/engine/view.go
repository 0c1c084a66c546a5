package engine

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/normalize"
)

// LoadState is the lifecycle of a view. Refreshing and loading more are
// separate flags on top of it.
type LoadState int

const (
	StateIdle LoadState = iota
	StateLoading
	StateLoaded
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "idle"
	}
}

// ViewSnapshot is a read-only copy of one view. Posts are resolved against
// the canonical collection at the moment the snapshot was taken; aggregates
// that must not surface are left out.
type ViewSnapshot struct {
	Key         feed.ViewKey
	State       LoadState
	Refreshing  bool
	LoadingMore bool
	HasMore     bool
	Offset      int
	Posts       []feed.Post
	Err         error
}

// IDs returns the ids of the snapshot's posts in order.
func (s ViewSnapshot) IDs() []string {
	ids := make([]string, len(s.Posts))
	for i := range s.Posts {
		ids[i] = s.Posts[i].ID
	}
	return ids
}

// viewState is the loop-owned state of one view. ids may hold aggregates
// that are currently hidden; they keep their position and offset share and
// reappear in place once they have completions again.
type viewState struct {
	key         feed.ViewKey
	state       LoadState
	refreshing  bool
	loadingMore bool
	ids         []string
	members     map[string]struct{}
	offset      int
	hasMore     bool
	err         error

	// refreshToken is the stamp of the latest refresh request; responses
	// carrying an older stamp are superseded.
	refreshToken uint64

	// epoch changes whenever the list is replaced, so a load-more response
	// fetched against the previous list is dropped.
	epoch uint64
}

func newViewState(key feed.ViewKey) *viewState {
	return &viewState{key: key, members: make(map[string]struct{})}
}

func (v *viewState) contains(id string) bool {
	_, ok := v.members[id]
	return ok
}

func (v *viewState) insertHead(id string) {
	if v.contains(id) {
		return
	}
	v.ids = slices.Insert(v.ids, 0, id)
	v.members[id] = struct{}{}
}

func (v *viewState) push(id string) bool {
	if v.contains(id) {
		return false
	}
	v.ids = append(v.ids, id)
	v.members[id] = struct{}{}
	return true
}

func (v *viewState) remove(id string) bool {
	if !v.contains(id) {
		return false
	}
	v.ids = slices.DeleteFunc(v.ids, func(x string) bool { return x == id })
	delete(v.members, id)
	return true
}

// rename swaps oldID for newID in place. If newID is already listed the old
// entry is dropped instead, so the list never holds the same post twice.
func (v *viewState) rename(oldID, newID string) {
	if !v.contains(oldID) {
		return
	}
	if v.contains(newID) {
		v.remove(oldID)
		return
	}
	i := slices.Index(v.ids, oldID)
	v.ids[i] = newID
	delete(v.members, oldID)
	v.members[newID] = struct{}{}
}

// replaceList installs a fresh first page. Pending optimistic posts stay at
// the head; the remote does not know them yet.
func (v *viewState) replaceList(pending, page []string) {
	v.ids = v.ids[:0:0]
	clear(v.members)
	for _, id := range pending {
		v.push(id)
	}
	for _, id := range page {
		v.push(id)
	}
}

// Snapshot returns a copy of the view under key. A view that was never
// loaded reads as idle and empty.
func (e *Engine) Snapshot(ctx context.Context, key feed.ViewKey) (ViewSnapshot, error) {
	return onLoop(ctx, e, func() ViewSnapshot {
		v, ok := e.views[key.CacheKey()]
		if !ok {
			return ViewSnapshot{Key: key}
		}
		return e.snapshot(v)
	})
}

// Snapshots returns every known view, ordered by cache key. All snapshots
// are taken in one loop step and are mutually consistent.
func (e *Engine) Snapshots(ctx context.Context) ([]ViewSnapshot, error) {
	return onLoop(ctx, e, func() []ViewSnapshot {
		out := make([]ViewSnapshot, 0, len(e.views))
		for _, v := range e.views {
			out = append(out, e.snapshot(v))
		}
		slices.SortFunc(out, func(a, b ViewSnapshot) int {
			return strings.Compare(a.Key.CacheKey(), b.Key.CacheKey())
		})
		return out
	})
}

// DismissError clears the view's error.
func (e *Engine) DismissError(ctx context.Context, key feed.ViewKey) error {
	return e.do(ctx, func() {
		if v, ok := e.views[key.CacheKey()]; ok {
			v.err = nil
		}
	})
}

func (e *Engine) snapshot(v *viewState) ViewSnapshot {
	s := ViewSnapshot{
		Key:         v.key,
		State:       v.state,
		Refreshing:  v.refreshing,
		LoadingMore: v.loadingMore,
		HasMore:     v.hasMore,
		Offset:      v.offset,
		Err:         v.err,
		Posts:       make([]feed.Post, 0, len(v.ids)),
	}
	for _, id := range v.ids {
		ent, ok := e.posts[id]
		if !ok || !normalize.Visible(&ent.post) {
			continue
		}
		p := ent.post.Clone()
		e.norm.Retime(p)
		s.Posts = append(s.Posts, *p)
	}
	return s
}

// view returns the state of key, creating it idle.
func (e *Engine) view(key feed.ViewKey) *viewState {
	ck := key.CacheKey()
	v, ok := e.views[ck]
	if !ok {
		v = newViewState(key)
		e.views[ck] = v
	}
	return v
}

// route inserts id at the head of every view that accepts the post and does
// not list it yet.
func (e *Engine) route(p *feed.Post) {
	for _, v := range e.views {
		if v.key.Accepts(p) {
			v.insertHead(p.ID)
		}
	}
}

// unlist removes id from every view and forgets the post.
func (e *Engine) unlist(id string) {
	for _, v := range e.views {
		v.remove(id)
	}
	delete(e.posts, id)
}

// absorb merges a remote copy of a post into the canonical collection and
// returns its entry. Interaction fields of a post with mutations in flight
// keep their optimistic values; the pending reconciliations settle them.
func (e *Engine) absorb(p feed.Post) *entry {
	ent, ok := e.posts[p.ID]
	if !ok {
		ent = &entry{versions: make(map[string]uint64)}
		e.posts[p.ID] = ent
	} else if ent.inflight > 0 {
		keepInteractions(&p, &ent.post)
	}
	ent.post = p
	if p.Aggregate() != nil {
		e.resolver.Observe(*p.Clone())
	}
	return ent
}

func keepInteractions(dst, src *feed.Post) {
	dst.ReactionCount = src.ReactionCount
	dst.ViewerReacted = src.ViewerReacted
	dst.ViewerReaction = src.ViewerReaction
	dst.LikeCount = src.LikeCount
	dst.ViewerLiked = src.ViewerLiked
	dst.CommentCount = src.CommentCount
	dst.Comments = slices.Clone(src.Comments)
}
