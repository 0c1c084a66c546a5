package aggregate

import (
	"slices"

	"github.com/roach88/habitfeed/internal/feed"
)

// UpsertEntry returns entries with e inserted, or with the entry sharing its
// ActionID replaced in place. The input slice is not modified.
func UpsertEntry(entries []feed.CompletedActionEntry, e feed.CompletedActionEntry) []feed.CompletedActionEntry {
	out := slices.Clone(entries)
	if i := slices.IndexFunc(out, func(x feed.CompletedActionEntry) bool { return x.ActionID == e.ActionID }); i >= 0 {
		out[i] = e
		return out
	}
	return append(out, e)
}

// RemoveEntry returns entries without the entry for actionID, and whether
// one was removed. The input slice is not modified.
func RemoveEntry(entries []feed.CompletedActionEntry, actionID string) ([]feed.CompletedActionEntry, bool) {
	i := slices.IndexFunc(entries, func(x feed.CompletedActionEntry) bool { return x.ActionID == actionID })
	if i < 0 {
		return slices.Clone(entries), false
	}
	out := make([]feed.CompletedActionEntry, 0, len(entries)-1)
	out = append(out, entries[:i]...)
	return append(out, entries[i+1:]...), true
}

// Recount recomputes the derived counters of p. CompletedCount counts the
// successful entries; ExpectedTotal is never below the number of entries, so
// CompletedCount <= ExpectedTotal always holds.
func Recount(p *feed.AggregatePayload) {
	p.CompletedCount = 0
	for _, e := range p.Entries {
		if e.Success {
			p.CompletedCount++
		}
	}
	p.ExpectedTotal = max(p.ExpectedTotal, len(p.Entries))
}

// withEntry applies an append to a copy of post.
func withEntry(post *feed.Post, e feed.CompletedActionEntry, expectedTotal int) *feed.Post {
	next := post.Clone()
	agg := next.Aggregate()
	agg.Entries = UpsertEntry(agg.Entries, e)
	agg.ExpectedTotal = max(agg.ExpectedTotal, expectedTotal)
	Recount(agg)
	return next
}

// withoutEntry applies a removal to a copy of post.
func withoutEntry(post *feed.Post, actionID string) (*feed.Post, bool) {
	next := post.Clone()
	agg := next.Aggregate()
	var removed bool
	agg.Entries, removed = RemoveEntry(agg.Entries, actionID)
	Recount(agg)
	return next, removed
}
