package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/engine"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
	"github.com/roach88/habitfeed/internal/testutil"
)

// DefaultViewer is the viewer of scenarios that do not name one.
const DefaultViewer = "me"

// DefaultPageSize keeps scenario pages small.
const DefaultPageSize = 3

// Harness runs one scenario. It owns a fresh in-memory gateway, a manual
// clock fixed at testutil.Epoch and an engine with sequential temporary ids,
// so a scenario always produces the same report.
type Harness struct {
	viewer string
	gw     *gateway.Memory
	eng    *engine.Engine
	clock  *testutil.ManualClock
	logger *slog.Logger
	report *Report
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	backend  cache.Backend
	cacheTTL *time.Duration
	wrap     func(gateway.Gateway) gateway.Gateway
	metrics  *engine.Metrics
}

// WithLogger routes engine logs to l. By default they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCacheBackend stores pages in b instead of a fresh in-memory map.
// Expiry still follows the scenario clock.
func WithCacheBackend(b cache.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithCacheTTL overrides the engine's page lifetime. Zero disables the
// page cache.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) { o.cacheTTL = &d }
}

// WithGateway wraps the in-memory gateway before the engine sees it.
// Fault injection still applies underneath the wrapper.
func WithGateway(wrap func(gateway.Gateway) gateway.Gateway) Option {
	return func(o *options) { o.wrap = wrap }
}

// WithMetrics records the engine's counters in m for the whole run.
func WithMetrics(m *engine.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Run executes a scenario and returns its report. Failed checks are listed
// in the report; the error is reserved for scenarios that cannot run.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Report, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	viewer := s.Viewer.UserID
	if viewer == "" {
		viewer = DefaultViewer
	}
	pageSize := s.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	clock := testutil.NewManualClock(testutil.Epoch)
	gw := gateway.NewMemory(viewer, gateway.WithClock(clock.Now))
	for _, p := range s.Seed {
		rec, err := p.record(viewer)
		if err != nil {
			return nil, err
		}
		gw.Seed(rec)
	}

	cacheOpts := []cache.Option{cache.WithClock(clock.Now), cache.WithLogger(o.logger)}
	if o.backend != nil {
		cacheOpts = append(cacheOpts, cache.WithBackend(o.backend))
	}
	var remote gateway.Gateway = gw
	if o.wrap != nil {
		remote = o.wrap(gw)
	}
	n := normalize.New(
		normalize.Viewer{UserID: viewer, AvatarURL: s.Viewer.AvatarURL},
		normalize.WithClock(clock.Now),
		normalize.WithLogger(o.logger),
	)
	engineOpts := []engine.Option{
		engine.WithCache(cache.New(cacheOpts...)),
		engine.WithClock(clock.Now),
		engine.WithIDGenerator(&testutil.SequentialIDGenerator{}),
		engine.WithPageSize(pageSize),
		engine.WithLogger(o.logger),
	}
	if o.cacheTTL != nil {
		engineOpts = append(engineOpts, engine.WithCacheTTL(*o.cacheTTL))
	}
	if o.metrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(o.metrics))
	}
	eng := engine.New(remote, n, engineOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	h := &Harness{
		viewer: viewer,
		gw:     gw,
		eng:    eng,
		clock:  clock,
		logger: o.logger,
		report: &Report{Name: s.Name},
	}
	for i, st := range s.Steps {
		if err := h.step(ctx, i+1, st); err != nil {
			return nil, err
		}
	}

	snaps, err := eng.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("final snapshot: %w", err)
	}
	for _, snap := range snaps {
		h.report.Views = append(h.report.Views, viewReport(snap))
	}
	return h.report, nil
}

// step runs one step and records its outcome. The returned error aborts the
// run: it means the engine could not be reached, not that a check failed.
func (h *Harness) step(ctx context.Context, index int, st Step) error {
	target, opErr := h.execute(ctx, st)
	if errors.Is(opErr, engine.ErrStopped) || errors.Is(opErr, context.Canceled) {
		return fmt.Errorf("step %d (%s): %w", index, st.Op, opErr)
	}

	outcome := "ok"
	if opErr != nil {
		outcome = string(engine.CodeOf(opErr))
		if outcome == "" {
			outcome = "error: " + opErr.Error()
		}
	}
	h.report.Steps = append(h.report.Steps, StepResult{Index: index, Op: st.Op, Target: target, Outcome: outcome})

	label := fmt.Sprintf("step %d (%s)", index, st.Op)
	checkOutcome(h.report, label, st.ExpectError, opErr)
	if st.View != "" && (st.IDs != nil || st.Offset != nil || st.HasMore != nil) {
		key, _ := feed.ParseViewKey(st.View)
		snap, err := h.eng.Snapshot(ctx, key)
		if err != nil {
			return fmt.Errorf("%s: snapshot: %w", label, err)
		}
		checkView(h.report, label, st, snap)
	}
	return nil
}

// execute performs the step's operation and returns a short description of
// what it targeted.
func (h *Harness) execute(ctx context.Context, st Step) (string, error) {
	var key feed.ViewKey
	if st.View != "" {
		key, _ = feed.ParseViewKey(st.View)
	}

	switch st.Op {
	case OpRefresh:
		return key.CacheKey(), h.eng.Refresh(ctx, key)

	case OpForceRefresh:
		return key.CacheKey(), h.eng.RefreshWith(ctx, key, engine.RefreshOptions{Force: true})

	case OpLoadMore:
		return key.CacheKey(), h.eng.LoadMore(ctx, key)

	case OpReact:
		_, err := h.eng.React(ctx, st.Post, st.Emoji)
		return st.Post + " " + st.Emoji, err

	case OpToggleLike:
		_, err := h.eng.ToggleLike(ctx, st.Post)
		return st.Post, err

	case OpComment:
		c, err := h.eng.Comment(ctx, st.Post, st.Content)
		if err != nil {
			return st.Post, err
		}
		return st.Post + " as " + c.ID, nil

	case OpCreatePost:
		d := st.Draft.toDraft()
		p, err := h.eng.CreatePost(ctx, d)
		if err != nil {
			return string(d.Kind), err
		}
		return p.ID, nil

	case OpRecordHabit:
		p, err := h.eng.RecordHabitCompletion(ctx, st.Habit.toCompletion())
		if err != nil {
			return st.Habit.Action, err
		}
		return st.Habit.Action + " into " + p.ID, nil

	case OpUndoHabit:
		p, err := h.eng.UndoHabitCompletion(ctx, st.Habit.toCompletion())
		if err != nil {
			return st.Habit.Action, err
		}
		return st.Habit.Action + " from " + p.ID, nil

	case OpPublish:
		rec, err := st.Record.record(h.viewer)
		if err != nil {
			return st.Record.ID, err
		}
		h.gw.Publish(rec)
		return st.Record.ID, nil

	case OpFailNext:
		var cause error = gateway.ErrUnavailable
		if st.Error == "rejected" {
			cause = gateway.ErrRejected
		}
		h.gw.FailNext(gateway.Op(st.Gateway), cause)
		return st.Gateway + " " + st.Error, nil

	case OpAdvance:
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return st.Duration, err
		}
		h.clock.Advance(d)
		return st.Duration, nil

	case OpSignOut:
		return "", h.eng.SignOut(ctx)

	case OpInvalidateMembership:
		return "", h.eng.InvalidateMembership(ctx)

	case OpDismissError:
		return key.CacheKey(), h.eng.DismissError(ctx, key)

	case OpExpect:
		return key.CacheKey(), nil
	}
	return "", fmt.Errorf("unknown op %q", st.Op)
}

func (d *DraftSpec) toDraft() engine.Draft {
	out := engine.Draft{
		TempID:   d.TempID,
		Kind:     feed.Kind(d.Kind),
		Content:  d.Content,
		MediaURL: d.MediaURL,
		Visibility: feed.Visibility{
			Scope:    feed.VisibilityScope(d.Visibility),
			GroupIDs: d.Circles,
		},
	}
	if out.Visibility.Scope == "" && len(d.Circles) > 0 {
		out.Visibility.Scope = feed.VisibilityGroups
	}
	return out
}

func (h *HabitSpec) toCompletion() engine.HabitCompletion {
	return engine.HabitCompletion{
		ActionID:      h.Action,
		Title:         h.Title,
		Goal:          h.Goal,
		Streak:        h.Streak,
		Missed:        h.Missed,
		ChallengeID:   h.Challenge,
		ExpectedTotal: h.ExpectedTotal,
	}
}

func viewReport(s engine.ViewSnapshot) ViewReport {
	v := ViewReport{
		Key:     s.Key.CacheKey(),
		State:   s.State.String(),
		HasMore: s.HasMore,
		Offset:  s.Offset,
		Posts:   make([]PostReport, 0, len(s.Posts)),
	}
	if s.Err != nil {
		v.Error = string(engine.CodeOf(s.Err))
	}
	for _, p := range s.Posts {
		pr := PostReport{
			ID:            p.ID,
			Author:        p.Author.DisplayName,
			Kind:          string(p.Kind()),
			Content:       p.Content,
			Time:          p.DisplayTime,
			Reactions:     p.ReactionCount,
			ViewerReacted: p.ViewerReacted,
			Likes:         p.LikeCount,
			ViewerLiked:   p.ViewerLiked,
			Comments:      p.CommentCount,
		}
		if agg := p.Aggregate(); agg != nil {
			pr.Habits = fmt.Sprintf("%d/%d", agg.CompletedCount, agg.ExpectedTotal)
		}
		v.Posts = append(v.Posts, pr)
	}
	return v
}
