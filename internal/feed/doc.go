// Package feed defines the canonical entities of the social feed: posts,
// comments, visibility descriptors and view keys.
//
// Posts are a closed tagged union over Kind. Every kind carries its own
// payload struct (CheckInPayload, AggregatePayload, ...) and the kind of a
// post is always derived from its payload, so a post can never claim one kind
// while carrying another kind's fields. Legacy field names and synonyms from
// remote records never reach this package; the normalize package resolves
// them before a Post is built.
//
// # Identity
//
// A post id is either temporary (generated locally for an uncommitted post,
// prefixed with TempIDPrefix) or durable (assigned by the server). The engine
// replaces a temporary id with its durable id in place; it never keeps both.
package feed
