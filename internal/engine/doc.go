// Package engine implements the feed synchronization engine.
//
// The engine keeps three overlapping views of one post collection (circle,
// follow and unified) consistent, applies the viewer's mutations
// optimistically and reconciles or rolls them back when the gateway answers,
// and surfaces the daily habit aggregates maintained by package aggregate.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Every state transition runs as a task in one goroutine, Engine.Run. The
// canonical posts, the views and the pending submissions are never touched
// anywhere else, so a mutation that touches several views is atomic to
// readers.
//
// Operation Flow:
//  1. A public operation submits its first step to the loop and waits.
//  2. The step applies any optimistic change and returns what the gateway
//     call needs.
//  3. The gateway call runs on the caller's goroutine.
//  4. The continuation is queued back onto the loop, where it reconciles,
//     rolls back or discards the response.
//
// Superseded responses:
// Refreshes carry a per-view stamp from Clock; a response whose stamp is
// older than the view's latest is dropped. Load more responses are dropped
// when the list was replaced while they were in flight. Optimistic mutations
// carry a per-field-group stamp; a rollback is skipped when a newer mutation
// of the same group was applied since.
//
// Nothing is fatal. Failures come back as *FeedError, the affected view or
// post is restored, and the loop continues.
package engine
