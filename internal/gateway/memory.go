package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/habitfeed/internal/feed"
)

// Op names a gateway method for fault injection and call accounting.
type Op string

const (
	OpFetchPage       Op = "fetch_page"
	OpCreatePost      Op = "create_post"
	OpReact           Op = "react"
	OpToggleLike      Op = "toggle_like"
	OpAddComment      Op = "add_comment"
	OpUpsertAggregate Op = "upsert_aggregate"
	OpUpdateAggregate Op = "update_aggregate"
	OpRemoveEntry     Op = "remove_aggregate_entry"
)

// Memory is an in-process Gateway that behaves like the remote backend: it
// keeps posts newest first, applies toggles per viewer and upserts daily
// aggregates by (user, day, challenge). It renders records in the backend's
// wire shape so they go through the same normalization as real responses.
//
// Memory is safe for concurrent use. Hold and FailNext let tests control
// when and how calls resolve.
type Memory struct {
	mu sync.Mutex

	viewerID   string
	viewerName string
	now        func() time.Time

	posts      []Record // newest first
	reactions  map[string]map[string]string
	likes      map[string]map[string]bool
	comments   map[string][]Record
	aggregates map[string]string
	nextID     int

	calls  map[Op]int
	faults map[Op][]error
	gates  map[Op]chan struct{}
}

// MemoryOption configures a Memory gateway.
type MemoryOption func(*Memory)

// WithClock sets the time source used for created_at stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithViewerName sets the author name stamped on the viewer's own records.
func WithViewerName(name string) MemoryOption {
	return func(m *Memory) { m.viewerName = name }
}

// NewMemory creates an empty in-memory backend. viewerID is the signed-in
// user every mutating call is attributed to.
func NewMemory(viewerID string, opts ...MemoryOption) *Memory {
	m := &Memory{
		viewerID:   viewerID,
		viewerName: viewerID,
		now:        time.Now,
		reactions:  make(map[string]map[string]string),
		likes:      make(map[string]map[string]bool),
		comments:   make(map[string][]Record),
		aggregates: make(map[string]string),
		calls:      make(map[Op]int),
		faults:     make(map[Op][]error),
		gates:      make(map[Op]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Gateway = (*Memory)(nil)

// Seed appends records as the oldest posts, in the given order.
func (m *Memory) Seed(recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.posts = append(m.posts, m.absorb(r))
	}
}

// Publish inserts a record as the newest post, as if another user had just
// posted. Offsets of every later page shift by one.
func (m *Memory) Publish(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append([]Record{m.absorb(rec)}, m.posts...)
}

// absorb copies a seeded record and turns its reaction/like counters into
// per-user state, so later toggles start from the seeded numbers. Callers
// hold m.mu.
func (m *Memory) absorb(rec Record) Record {
	out := rec.Clone()
	id, _ := out["id"].(string)
	if n := intField(out, "like_count"); n > 0 || out["has_liked"] == true {
		byUser := make(map[string]bool)
		if out["has_liked"] == true {
			byUser[m.viewerID] = true
		}
		for i := 0; len(byUser) < n; i++ {
			byUser[fmt.Sprintf("seed-user-%d", i)] = true
		}
		m.likes[id] = byUser
	}
	if n := intField(out, "reaction_count"); n > 0 || out["has_reacted"] == true {
		byUser := make(map[string]string)
		if out["has_reacted"] == true {
			emoji, _ := out["viewer_reaction"].(string)
			byUser[m.viewerID] = emoji
		}
		for i := 0; len(byUser) < n; i++ {
			byUser[fmt.Sprintf("seed-user-%d", i)] = "+1"
		}
		m.reactions[id] = byUser
	}
	return out
}

// Record returns the current rendering of a post, or nil.
func (m *Memory) Record(id string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		return m.render(m.posts[i])
	}
	return nil
}

// Len returns the number of stored posts.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

// Calls returns how many times op has been invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// FailNext makes the next call of op return err. Calls queue up: FailNext
// twice fails the next two calls.
func (m *Memory) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], err)
}

// Hold blocks every call of op that arrives before the returned release func
// is invoked. Release is idempotent.
func (m *Memory) Hold(op Op) (release func()) {
	m.mu.Lock()
	gate := make(chan struct{})
	m.gates[op] = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gates[op] == gate {
				delete(m.gates, op)
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// enter accounts for a call, waits on any gate and returns an injected fault.
func (m *Memory) enter(ctx context.Context, op Op) error {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gates[op]
	var fault error
	if q := m.faults[op]; len(q) > 0 {
		fault = q[0]
		m.faults[op] = q[1:]
	}
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-gate:
		}
	}
	return fault
}

func (m *Memory) FetchPage(ctx context.Context, view feed.ViewKey, limit, offset int) (PageResult, error) {
	if err := m.enter(ctx, OpFetchPage); err != nil {
		return PageResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Record
	for _, p := range m.posts {
		if m.inView(p, view) {
			matched = append(matched, p)
		}
	}
	if offset >= len(matched) {
		return PageResult{}, nil
	}
	end := min(offset+limit, len(matched))
	page := PageResult{HasMore: end < len(matched)}
	for _, p := range matched[offset:end] {
		page.Records = append(page.Records, m.render(p))
	}
	return page, nil
}

func (m *Memory) CreatePost(ctx context.Context, payload PostPayload) (Record, error) {
	if err := m.enter(ctx, OpCreatePost); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Record{
		"id":            m.newID("post"),
		"user_id":       m.viewerID,
		"author_name":   m.viewerName,
		"type":          string(payload.Kind),
		"visibility":    string(payload.Visibility.Scope),
		"circle_ids":    toAnySlice(payload.Visibility.GroupIDs),
		"content":       payload.Content,
		"created_at":    m.now().UTC().Format(time.RFC3339),
		"client_id":     payload.ClientID,
		"comment_count": 0,
	}
	if payload.MediaURL != "" {
		rec["media_url"] = payload.MediaURL
	}
	if payload.ChallengeID != "" {
		rec["challenge_id"] = payload.ChallengeID
	}
	m.posts = append([]Record{rec}, m.posts...)
	return m.render(rec), nil
}

func (m *Memory) React(ctx context.Context, postID, emoji string) (ReactResult, error) {
	if err := m.enter(ctx, OpReact); err != nil {
		return ReactResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(postID) < 0 {
		return ReactResult{}, fmt.Errorf("%w: post %s not found", ErrRejected, postID)
	}
	byUser := m.reactions[postID]
	if byUser == nil {
		byUser = make(map[string]string)
		m.reactions[postID] = byUser
	}
	if _, ok := byUser[m.viewerID]; ok {
		delete(byUser, m.viewerID)
	} else {
		byUser[m.viewerID] = emoji
	}
	return ReactResult{Accepted: true}, nil
}

func (m *Memory) ToggleLike(ctx context.Context, postID string) (LikeResult, error) {
	if err := m.enter(ctx, OpToggleLike); err != nil {
		return LikeResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(postID) < 0 {
		return LikeResult{}, fmt.Errorf("%w: post %s not found", ErrRejected, postID)
	}
	byUser := m.likes[postID]
	if byUser == nil {
		byUser = make(map[string]bool)
		m.likes[postID] = byUser
	}
	if byUser[m.viewerID] {
		delete(byUser, m.viewerID)
	} else {
		byUser[m.viewerID] = true
	}
	return LikeResult{Liked: byUser[m.viewerID], LikeCount: len(byUser)}, nil
}

func (m *Memory) AddComment(ctx context.Context, postID, content string) (Record, error) {
	if err := m.enter(ctx, OpAddComment); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(postID) < 0 {
		return nil, fmt.Errorf("%w: post %s not found", ErrRejected, postID)
	}
	c := Record{
		"id":          m.newID("comment"),
		"post_id":     postID,
		"user_id":     m.viewerID,
		"author_name": m.viewerName,
		"content":     content,
		"created_at":  m.now().UTC().Format(time.RFC3339),
	}
	m.comments[postID] = append(m.comments[postID], c)
	return c.Clone(), nil
}

func (m *Memory) UpsertDailyAggregate(ctx context.Context, userID, dayKey, challengeID string) (Record, error) {
	if err := m.enter(ctx, OpUpsertAggregate); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID + "|" + dayKey + "|" + challengeID
	if id, ok := m.aggregates[key]; ok {
		if i := m.indexOf(id); i >= 0 {
			return m.render(m.posts[i]), nil
		}
	}
	rec := Record{
		"id":                m.newID("agg"),
		"user_id":           userID,
		"author_name":       m.viewerName,
		"type":              "daily_aggregate",
		"visibility":        string(feed.VisibilityNetwork),
		"content":           "",
		"created_at":        m.now().UTC().Format(time.RFC3339),
		"day_key":           dayKey,
		"completed_actions": []any{},
		"total_actions":     0,
		"completed_count":   0,
	}
	if challengeID != "" {
		rec["challenge_id"] = challengeID
	}
	m.aggregates[key] = rec["id"].(string)
	m.posts = append([]Record{rec}, m.posts...)
	return m.render(rec), nil
}

func (m *Memory) UpdateDailyAggregate(ctx context.Context, aggregateID string, entry feed.CompletedActionEntry, expectedTotal int) (Record, error) {
	if err := m.enter(ctx, OpUpdateAggregate); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(aggregateID)
	if i < 0 {
		return nil, fmt.Errorf("%w: aggregate %s not found", ErrRejected, aggregateID)
	}
	rec := m.posts[i]
	entries, _ := rec["completed_actions"].([]any)
	entries = slices.Clone(entries)
	encoded := entryRecord(entry)
	replaced := false
	for j, e := range entries {
		if em, ok := e.(map[string]any); ok && em["action_id"] == entry.ActionID {
			entries[j] = encoded
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, encoded)
	}
	rec["completed_actions"] = entries
	rec["total_actions"] = max(expectedTotal, len(entries))
	rec["completed_count"] = countSuccess(entries)
	return m.render(rec), nil
}

func (m *Memory) RemoveDailyAggregateEntry(ctx context.Context, aggregateID, actionID string) (Record, error) {
	if err := m.enter(ctx, OpRemoveEntry); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(aggregateID)
	if i < 0 {
		return nil, fmt.Errorf("%w: aggregate %s not found", ErrRejected, aggregateID)
	}
	rec := m.posts[i]
	entries, _ := rec["completed_actions"].([]any)
	kept := make([]any, 0, len(entries))
	for _, e := range entries {
		if em, ok := e.(map[string]any); ok && em["action_id"] == actionID {
			continue
		}
		kept = append(kept, e)
	}
	rec["completed_actions"] = kept
	rec["completed_count"] = countSuccess(kept)
	return m.render(rec), nil
}

func (m *Memory) newID(kind string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", kind, m.nextID)
}

func (m *Memory) indexOf(id string) int {
	return slices.IndexFunc(m.posts, func(r Record) bool { return r["id"] == id })
}

func (m *Memory) inView(rec Record, view feed.ViewKey) bool {
	if view.Filter != "" && slices.Contains(feed.ValidKinds, feed.Kind(view.Filter)) && rec["type"] != view.Filter {
		return false
	}
	scope, _ := rec["visibility"].(string)
	switch view.Kind {
	case feed.ViewUnified:
		return scope != string(feed.VisibilityPrivate) || rec["user_id"] == m.viewerID
	case feed.ViewFollow:
		return scope == string(feed.VisibilityNetwork) || scope == string(feed.VisibilityPublic)
	case feed.ViewCircle:
		if scope != string(feed.VisibilityGroups) {
			return false
		}
		return slices.Contains(stringList(rec["circle_ids"]), view.CircleID)
	}
	return false
}

// render returns a copy of rec with the viewer-relative fields filled in.
func (m *Memory) render(rec Record) Record {
	out := rec.Clone()
	id, _ := rec["id"].(string)

	reactions := m.reactions[id]
	out["reaction_count"] = len(reactions)
	if emoji, ok := reactions[m.viewerID]; ok {
		out["has_reacted"] = true
		out["viewer_reaction"] = emoji
	} else {
		out["has_reacted"] = false
	}

	out["like_count"] = len(m.likes[id])
	out["has_liked"] = m.likes[id][m.viewerID]

	comments := m.comments[id]
	out["comment_count"] = len(comments)
	preview := make([]any, 0, min(3, len(comments)))
	for _, c := range comments[max(0, len(comments)-3):] {
		preview = append(preview, map[string]any(c.Clone()))
	}
	out["recent_comments"] = preview
	return out
}

func entryRecord(e feed.CompletedActionEntry) map[string]any {
	return map[string]any{
		"action_id":    e.ActionID,
		"title":        e.Title,
		"goal":         e.Goal,
		"completed_at": e.CompletedAt.UTC().Format(time.RFC3339),
		"streak":       e.Streak,
		"success":      e.Success,
	}
}

func countSuccess(entries []any) int {
	n := 0
	for _, e := range entries {
		if em, ok := e.(map[string]any); ok && em["success"] == true {
			n++
		}
	}
	return n
}

func intField(rec Record, key string) int {
	switch n := rec[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
