// Package harness runs scripted feed sessions against the in-memory gateway.
//
// A scenario seeds the backend, then drives the engine step by step and
// checks the views it produces. Runs are deterministic: the clock is fixed
// at testutil.Epoch and only moves on "advance" steps, and temporary ids are
// tmp-1, tmp-2 and so on. The same scenario therefore always renders the
// same report, which is what golden files and `habitfeed simulate` print.
//
// # Scenario Format
//
//	name: like_then_refresh
//	description: "A like survives a refresh"
//	page_size: 3
//	seed:
//	  - id: p1
//	    author: ana
//	    likes: 2
//	steps:
//	  - op: refresh
//	    view: unified
//	  - op: toggle_like
//	    post: p1
//	  - op: fail_next
//	    gateway: fetch_page
//	    error: unavailable
//	  - op: force_refresh
//	    view: unified
//	    expect_error: TRANSIENT_NETWORK
//	  - op: expect
//	    view: unified
//	    ids: [p1]
//	    has_more: false
//
// Files are checked against an embedded CUE schema before decoding, so
// unknown fields and missing per-op arguments are reported with their path.
//
// # Checks
//
// A step without expect_error must succeed. expect_error names the error
// code the step must fail with, or "any". A step that names a view may also
// check that view's visible ids, offset and has_more afterwards.
package harness
