package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/habitfeed/internal/aggregate"
	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
)

const (
	// DefaultPageSize is the number of posts requested per page.
	DefaultPageSize = 20

	// DefaultCacheTTL is how long a first page stays in the page cache.
	DefaultCacheTTL = 60 * time.Second
)

// Engine is the single-writer feed engine.
//
// It owns the canonical post collection, every feed view and every pending
// submission. All of that state is touched only by tasks executing in the
// Run loop. Public operations submit their state steps to the loop and wait
// for them; gateway calls run on the caller's goroutine between steps, and
// their continuations are queued back onto the loop.
//
// Thread-safety model:
//   - every exported method: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	gw       gateway.Gateway
	norm     *normalize.Normalizer
	cache    *cache.Cache
	resolver *aggregate.Resolver
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
	pageSize int
	cacheTTL time.Duration

	clock    *Clock
	queue    *taskQueue
	stopped  chan struct{}
	stopOnce sync.Once

	// Loop-owned.
	posts     map[string]*entry
	views     map[string]*viewState
	pending   map[string]*submission
	committed map[string]commit
}

// entry is the canonical state of one post.
type entry struct {
	post feed.Post

	// versions holds, per field group, the stamp of the latest optimistic
	// mutation applied to the post.
	versions map[string]uint64

	// inflight counts mutations whose gateway call has not resolved.
	// Remote copies of the post do not overwrite interaction fields while
	// it is positive.
	inflight int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. It is shared with the aggregate
// resolver.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCache sets the page cache. The default is an in-memory cache.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithPageSize sets the page size requested from the gateway.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithCacheTTL sets how long first pages are cached. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = d }
}

// WithIDGenerator sets the temporary id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the wall clock used to stamp optimistic posts, comments and
// habit completions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine talking to gw. Remote records are normalized with n,
// whose viewer is the signed-in user.
func New(gw gateway.Gateway, n *normalize.Normalizer, opts ...Option) *Engine {
	e := &Engine{
		gw:        gw,
		norm:      n,
		ids:       UUIDv7Generator{},
		now:       time.Now,
		logger:    slog.Default(),
		pageSize:  DefaultPageSize,
		cacheTTL:  DefaultCacheTTL,
		clock:     NewClock(),
		queue:     newTaskQueue(),
		stopped:   make(chan struct{}),
		posts:     make(map[string]*entry),
		views:     make(map[string]*viewState),
		pending:   make(map[string]*submission),
		committed: make(map[string]commit),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.New(cache.WithLogger(e.logger))
	}
	e.resolver = aggregate.New(gw, n,
		aggregate.WithPublisher(e),
		aggregate.WithLogger(e.logger),
	)
	return e
}

// Run starts the single-writer loop.
// Blocks until ctx is cancelled or Stop() is called and the queue drains.
//
// A task that panics is logged and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "page_size", e.pageSize, "cache_ttl", e.cacheTTL)
	defer e.stopOnce.Do(func() { close(e.stopped) })

	for {
		if t, ok := e.queue.TryDequeue(); ok {
			e.runTask(t)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue; a stale buffered
			// signal can also arrive with nothing left to run.
			if e.queue.Drained() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the tasks already queued ran.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine task panicked", "panic", r)
		}
	}()
	t()
}

// do runs fn on the loop and waits for it to finish. If ctx ends before fn
// starts, fn never runs and ctx's error is returned; once fn has started the
// call always waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	done := make(chan struct{})

	ok := e.queue.Enqueue(func() {
		if !state.CompareAndSwap(queued, running) {
			return
		}
		defer close(done)
		fn()
	})
	if !ok {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(queued, abandoned) {
			return ctx.Err()
		}
	case <-e.stopped:
		if state.CompareAndSwap(queued, abandoned) {
			return ErrStopped
		}
	}
	<-done
	return nil
}

// continueOnLoop runs a continuation after a gateway call. It ignores
// cancellation: a rollback must run even when the caller gave up.
func (e *Engine) continueOnLoop(ctx context.Context, fn func()) error {
	return e.do(context.WithoutCancel(ctx), fn)
}

// onLoop runs fn on the loop and returns its result.
func onLoop[T any](ctx context.Context, e *Engine, fn func() T) (T, error) {
	var out T
	err := e.do(ctx, func() { out = fn() })
	return out, err
}

// viewer returns the signed-in user as the normalizer knows it.
func (e *Engine) viewer() normalize.Viewer {
	return e.norm.Viewer()
}

// barrier waits until every task queued before it has run.
func (e *Engine) barrier(ctx context.Context) error {
	return e.do(ctx, func() {})
}
