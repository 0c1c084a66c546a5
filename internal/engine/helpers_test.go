package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
	"github.com/roach88/habitfeed/internal/testutil"
)

const viewerID = "me"

type fixture struct {
	eng   *Engine
	gw    *gateway.Memory
	clock *testutil.ManualClock
	cache *cache.Cache
	ctx   context.Context
}

// newFixture starts an engine over an in-memory gateway with page size 3.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, opts...)
}

// newFixtureWith lets wrap decorate the in-memory gateway before the engine
// sees it.
func newFixtureWith(t *testing.T, wrap func(*gateway.Memory) gateway.Gateway, opts ...Option) *fixture {
	t.Helper()

	clock := testutil.NewManualClock(testutil.Epoch)
	gw := gateway.NewMemory(viewerID, gateway.WithClock(clock.Now))
	n := normalize.New(normalize.Viewer{UserID: viewerID, AvatarURL: "local.png"}, normalize.WithClock(clock.Now))
	c := cache.New(cache.WithClock(clock.Now))
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	base := []Option{
		WithCache(c),
		WithClock(clock.Now),
		WithIDGenerator(&testutil.SequentialIDGenerator{}),
		WithPageSize(3),
		WithLogger(quiet),
	}
	var g gateway.Gateway = gw
	if wrap != nil {
		g = wrap(gw)
	}
	e := New(g, n, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{eng: e, gw: gw, clock: clock, cache: c, ctx: context.Background()}
}

func (f *fixture) snapshot(t *testing.T, key feed.ViewKey) ViewSnapshot {
	t.Helper()
	s, err := f.eng.Snapshot(f.ctx, key)
	require.NoError(t, err)
	return s
}

func (f *fixture) ids(t *testing.T, key feed.ViewKey) []string {
	t.Helper()
	return f.snapshot(t, key).IDs()
}

func (f *fixture) post(t *testing.T, key feed.ViewKey, id string) feed.Post {
	t.Helper()
	for _, p := range f.snapshot(t, key).Posts {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("post %s not in view %s", id, key)
	return feed.Post{}
}

func (f *fixture) refresh(t *testing.T, keys ...feed.ViewKey) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, f.eng.RefreshWith(f.ctx, k, RefreshOptions{Force: true}))
	}
}

// eventually waits for cond, polling the engine state.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

// gatedFetch hands every FetchPage call a gate the test must open. The page
// is read from the backend only after the gate opens, so tests control both
// the order responses land in and the data each one sees.
type gatedFetch struct {
	*gateway.Memory
	gates chan chan struct{}
}

func newGatedFetch(m *gateway.Memory) *gatedFetch {
	return &gatedFetch{Memory: m, gates: make(chan chan struct{}, 16)}
}

func (g *gatedFetch) FetchPage(ctx context.Context, view feed.ViewKey, limit, offset int) (gateway.PageResult, error) {
	gate := make(chan struct{})
	g.gates <- gate
	select {
	case <-gate:
	case <-ctx.Done():
		return gateway.PageResult{}, ctx.Err()
	}
	return g.Memory.FetchPage(ctx, view, limit, offset)
}

// next returns the gate of the next FetchPage call.
func (g *gatedFetch) next(t *testing.T) chan struct{} {
	t.Helper()
	select {
	case gate := <-g.gates:
		return gate
	case <-time.After(2 * time.Second):
		t.Fatal("no FetchPage call arrived")
		return nil
	}
}
