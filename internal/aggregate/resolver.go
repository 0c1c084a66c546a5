// Package aggregate collapses habit completions into one daily aggregate post
// per (user, day, challenge).
//
// The Resolver keeps the latest known state of every aggregate it has seen,
// applies appends and removals optimistically through a Publisher, and
// reconciles with the remote result or rolls back. Operations on the same
// aggregate are serialized, so remote responses are applied in the order the
// operations were issued.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
)

// ErrUnknownAggregate is returned for an aggregate id the resolver has never
// seen through FindOrCreate or Observe.
var ErrUnknownAggregate = errors.New("aggregate: unknown aggregate")

// ErrNotAggregate is returned when the gateway answers with a post of
// another kind.
var ErrNotAggregate = errors.New("aggregate: record is not a daily aggregate")

// Key identifies the single aggregate of a user on a day. An empty
// ChallengeID is the personal (challenge-less) aggregate.
type Key struct {
	UserID      string
	DayKey      string
	ChallengeID string
}

func (k Key) String() string {
	return k.UserID + "|" + k.DayKey + "|" + k.ChallengeID
}

// KeyOf returns the key of an aggregate payload.
func KeyOf(p *feed.AggregatePayload) Key {
	return Key{UserID: p.UserID, DayKey: p.DayKey, ChallengeID: p.ChallengeID}
}

// Publisher receives every state an aggregate moves through, optimistic or
// authoritative. Calls for one aggregate arrive in order. Implementations
// must not block.
type Publisher interface {
	PublishAggregate(post feed.Post)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(post feed.Post)

func (f PublisherFunc) PublishAggregate(post feed.Post) { f(post) }

type tracked struct {
	post    *feed.Post
	version uint64
}

// Resolver finds, creates and updates daily aggregates.
type Resolver struct {
	gw     gateway.Gateway
	norm   *normalize.Normalizer
	pub    Publisher
	logger *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	byKey map[Key]string
	posts map[string]*tracked
	locks map[string]chan struct{}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPublisher sets where aggregate states are published.
func WithPublisher(p Publisher) Option {
	return func(r *Resolver) { r.pub = p }
}

// WithLogger sets the resolver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver on top of gw. Records returned by the gateway are
// normalized with n.
func New(gw gateway.Gateway, n *normalize.Normalizer, opts ...Option) *Resolver {
	r := &Resolver{
		gw:     gw,
		norm:   n,
		pub:    PublisherFunc(func(feed.Post) {}),
		logger: slog.Default(),
		byKey:  make(map[Key]string),
		posts:  make(map[string]*tracked),
		locks:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the latest known state of an aggregate.
func (r *Resolver) Get(id string) (feed.Post, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.posts[id]
	if !ok {
		return feed.Post{}, false
	}
	return *t.post.Clone(), true
}

// Lookup returns the id of the aggregate for k, if known locally.
func (r *Resolver) Lookup(k Key) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[k]
	return id, ok
}

// Observe records an aggregate that arrived through a feed page. It is how
// aggregates created on other devices become known. Observing a newer state
// of an aggregate with an operation in flight makes that operation's
// rollback a no-op.
func (r *Resolver) Observe(post feed.Post) {
	if post.Aggregate() == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(&post)
}

// Reset forgets every aggregate. Operations in flight finish against the
// gateway but no longer update local state.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byKey)
	clear(r.posts)
}

// FindOrCreate returns the aggregate for k, asking the gateway to upsert it
// when it is not known locally. Concurrent calls for the same key share one
// gateway call. expectedTotal seeds the day's expected number of habits; it
// only ever raises the known total.
func (r *Resolver) FindOrCreate(ctx context.Context, k Key, expectedTotal int) (feed.Post, error) {
	if id, ok := r.Lookup(k); ok {
		if p, ok := r.Get(id); ok {
			return r.raiseExpected(p, expectedTotal), nil
		}
	}

	v, err, shared := r.group.Do(k.String(), func() (any, error) {
		rec, err := r.gw.UpsertDailyAggregate(ctx, k.UserID, k.DayKey, k.ChallengeID)
		if err != nil {
			return nil, fmt.Errorf("upsert aggregate %s: %w", k, err)
		}
		post, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		agg := post.Aggregate()
		// The backend may omit the key fields on a fresh row.
		if agg.UserID == "" {
			agg.UserID = k.UserID
		}
		if agg.DayKey == "" {
			agg.DayKey = k.DayKey
		}
		if agg.ChallengeID == "" {
			agg.ChallengeID = k.ChallengeID
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if id, ok := r.byKey[k]; ok {
			// Observed while the upsert was in flight; the local copy is at
			// least as fresh.
			if t, ok := r.posts[id]; ok {
				return *t.post.Clone(), nil
			}
		}
		r.store(&post)
		return post, nil
	})
	if err != nil {
		return feed.Post{}, err
	}
	if shared {
		r.logger.Debug("aggregate upsert shared", "key", k.String())
	}
	post := v.(feed.Post)
	return r.raiseExpected(*post.Clone(), expectedTotal), nil
}

// AppendCompletion inserts entry into the aggregate, replacing any entry with
// the same ActionID. The new state is published before the gateway is
// called; on failure the previous state is restored and published again.
func (r *Resolver) AppendCompletion(ctx context.Context, aggregateID string, entry feed.CompletedActionEntry, expectedTotal int) (feed.Post, error) {
	release, err := r.acquire(ctx, aggregateID)
	if err != nil {
		return feed.Post{}, err
	}
	defer release()

	prev, next, version, err := r.apply(aggregateID, func(p *feed.Post) *feed.Post {
		return withEntry(p, entry, expectedTotal)
	})
	if err != nil {
		return feed.Post{}, err
	}

	rec, err := r.gw.UpdateDailyAggregate(ctx, aggregateID, entry, next.Aggregate().ExpectedTotal)
	if err != nil {
		r.rollback(aggregateID, prev, version)
		return feed.Post{}, fmt.Errorf("append %s to aggregate %s: %w", entry.ActionID, aggregateID, err)
	}
	return r.reconcile(aggregateID, rec)
}

// RemoveCompletion drops the entry for actionID. An aggregate whose count
// reaches zero is kept; it is simply no longer visible in feeds.
func (r *Resolver) RemoveCompletion(ctx context.Context, aggregateID, actionID string) (feed.Post, error) {
	release, err := r.acquire(ctx, aggregateID)
	if err != nil {
		return feed.Post{}, err
	}
	defer release()

	current, ok := r.Get(aggregateID)
	if !ok {
		return feed.Post{}, fmt.Errorf("%w: %s", ErrUnknownAggregate, aggregateID)
	}
	if _, removed := withoutEntry(&current, actionID); !removed {
		return current, nil
	}

	prev, _, version, err := r.apply(aggregateID, func(p *feed.Post) *feed.Post {
		next, _ := withoutEntry(p, actionID)
		return next
	})
	if err != nil {
		return feed.Post{}, err
	}

	rec, err := r.gw.RemoveDailyAggregateEntry(ctx, aggregateID, actionID)
	if err != nil {
		r.rollback(aggregateID, prev, version)
		return feed.Post{}, fmt.Errorf("remove %s from aggregate %s: %w", actionID, aggregateID, err)
	}
	return r.reconcile(aggregateID, rec)
}

// acquire takes the per-aggregate lock, giving up when ctx ends.
func (r *Resolver) acquire(ctx context.Context, id string) (func(), error) {
	r.mu.Lock()
	sem, ok := r.locks[id]
	if !ok {
		sem = make(chan struct{}, 1)
		r.locks[id] = sem
	}
	r.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("aggregate %s busy: %w", id, ctx.Err())
	}
}

// apply replaces the aggregate's state with f(current) and publishes it. It
// returns the previous and the new state along with the new state's version.
func (r *Resolver) apply(id string, f func(*feed.Post) *feed.Post) (prev, next *feed.Post, version uint64, err error) {
	r.mu.Lock()
	t, ok := r.posts[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrUnknownAggregate, id)
	}
	prev = t.post.Clone()
	t.post = f(t.post)
	t.version++
	version = t.version
	next = t.post.Clone()
	r.mu.Unlock()

	r.pub.PublishAggregate(*next.Clone())
	return prev, next, version, nil
}

// rollback restores prev unless the aggregate moved on since version.
func (r *Resolver) rollback(id string, prev *feed.Post, version uint64) {
	r.mu.Lock()
	t, ok := r.posts[id]
	if !ok || t.version != version {
		r.mu.Unlock()
		r.logger.Debug("aggregate rollback superseded", "id", id)
		return
	}
	t.post = prev
	t.version++
	published := *prev.Clone()
	r.mu.Unlock()

	r.logger.Warn("aggregate update rolled back", "id", id)
	r.pub.PublishAggregate(published)
}

// reconcile makes the gateway's answer the aggregate's state. When the answer
// cannot be decoded the optimistic state stands. After Reset the answer is
// returned but not kept.
func (r *Resolver) reconcile(id string, rec gateway.Record) (feed.Post, error) {
	post, err := r.decode(rec)
	if err != nil {
		r.logger.Warn("keeping optimistic aggregate state", "id", id, "error", err)
		p, _ := r.Get(id)
		return p, nil
	}

	r.mu.Lock()
	if _, ok := r.posts[id]; !ok {
		r.mu.Unlock()
		return post, nil
	}
	r.store(&post)
	r.mu.Unlock()

	r.pub.PublishAggregate(*post.Clone())
	return post, nil
}

// store indexes post. Callers hold r.mu.
func (r *Resolver) store(post *feed.Post) {
	agg := post.Aggregate()
	agg.ExpectedTotal = max(agg.ExpectedTotal, len(agg.Entries), agg.CompletedCount)
	r.byKey[KeyOf(agg)] = post.ID
	t, ok := r.posts[post.ID]
	if !ok {
		r.posts[post.ID] = &tracked{post: post.Clone()}
		return
	}
	t.post = post.Clone()
	t.version++
}

func (r *Resolver) decode(rec gateway.Record) (feed.Post, error) {
	post, err := r.norm.Normalize(rec)
	if err != nil {
		return feed.Post{}, fmt.Errorf("decode aggregate: %w", err)
	}
	if post.Aggregate() == nil {
		return feed.Post{}, fmt.Errorf("%w: %s is %s", ErrNotAggregate, post.ID, post.Kind())
	}
	return post, nil
}

// raiseExpected lifts the aggregate's expected total to at least n without
// a gateway round trip; the next append carries it to the backend. p must
// not share its payload with other callers.
func (r *Resolver) raiseExpected(p feed.Post, n int) feed.Post {
	agg := p.Aggregate()
	if agg == nil || n <= agg.ExpectedTotal {
		return p
	}
	r.mu.Lock()
	if t, ok := r.posts[p.ID]; ok {
		t.post.Aggregate().ExpectedTotal = n
	}
	r.mu.Unlock()
	agg.ExpectedTotal = n
	return p
}
